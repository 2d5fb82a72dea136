package credentials

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/photoimport/internal/common"
	"github.com/dmitrijs2005/photoimport/internal/ingest/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// makeToken builds a token in the identity provider's shape: created_at and
// expires_in as millisecond strings.
func makeToken(t *testing.T, issued time.Time, ttl time.Duration) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"created_at": strconv.FormatInt(issued.UnixMilli(), 10),
		"expires_in": strconv.FormatInt(ttl.Milliseconds(), 10),
		"type":       "access_token",
	})
	s, err := tok.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return s
}

type fakeVault struct {
	mu          sync.Mutex
	values      map[string]string
	version     int64
	sets        int
	beforeClaim func(v *fakeVault)
}

func newFakeVault(values map[string]string) *fakeVault {
	return &fakeVault{values: values}
}

func (v *fakeVault) Get(ctx context.Context, keys []string) (map[string]string, int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := map[string]string{}
	for _, k := range keys {
		if val, ok := v.values[k]; ok {
			out[k] = val
		}
	}
	return out, v.version, nil
}

func (v *fakeVault) Set(ctx context.Context, values map[string]string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for k, val := range values {
		v.values[k] = val
	}
	v.version++
	v.sets++
	return nil
}

func (v *fakeVault) Claim(ctx context.Context, version int64) (int64, error) {
	if v.beforeClaim != nil {
		hook := v.beforeClaim
		v.beforeClaim = nil
		hook(v)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.version != version {
		return 0, common.ErrVersionConflict
	}
	v.version++
	return v.version, nil
}

func (v *fakeVault) get(key string) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.values[key]
}

type fakeExchanger struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	pair  TokenPair
	err   error
	seen  []models.CredentialSet

	// started is closed on the first Refresh, which then blocks until gate
	// is closed.
	started chan struct{}
	gate    chan struct{}
}

func (e *fakeExchanger) Refresh(ctx context.Context, set models.CredentialSet) (TokenPair, error) {
	e.mu.Lock()
	e.calls++
	e.seen = append(e.seen, set)
	first := e.calls == 1
	e.mu.Unlock()
	if first && e.started != nil {
		close(e.started)
		<-e.gate
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	return e.pair, e.err
}

func (e *fakeExchanger) ExchangeCode(ctx context.Context, code string, set models.CredentialSet) (TokenPair, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return e.pair, e.err
}

func (e *fakeExchanger) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type recordedCalls struct {
	mu    sync.Mutex
	calls []models.ApiCall
}

func (r *recordedCalls) Record(ctx context.Context, call models.ApiCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}
