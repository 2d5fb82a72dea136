package credentials

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/dmitrijs2005/photoimport/internal/clockx"
	"github.com/dmitrijs2005/photoimport/internal/common"
	"github.com/dmitrijs2005/photoimport/internal/logging"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const lookahead = 60 * time.Second

type fixture struct {
	vault     *fakeVault
	exchanger *fakeExchanger
	manager   *Manager
	clock     *clockx.FakeClock
}

func newFixture(t *testing.T, access, refresh string, opts ...Option) *fixture {
	t.Helper()
	clock := clockx.NewFakeClock(now)
	v := newFakeVault(map[string]string{
		common.SecretAccessToken:  access,
		common.SecretRefreshToken: refresh,
		common.SecretClientSecret: "secret",
		common.SecretAPIKey:       "api-key",
	})
	ex := &fakeExchanger{pair: TokenPair{
		AccessToken:  makeToken(t, now, 24*time.Hour),
		RefreshToken: makeToken(t, now, 14*24*time.Hour),
	}}
	opts = append([]Option{WithClock(clock)}, opts...)
	return &fixture{
		vault:     v,
		exchanger: ex,
		manager:   NewManager(v, ex, "client-id", lookahead, logging.Nop(), opts...),
		clock:     clock,
	}
}

func TestIsValid_LookaheadBoundary(t *testing.T) {
	f := newFixture(t, "", "")
	issued := now.Add(-time.Hour)

	// issued + ttl == now - lookahead → invalid
	assert.False(t, f.manager.IsValid(makeToken(t, issued, time.Hour-lookahead)))
	// one second later → valid
	assert.True(t, f.manager.IsValid(makeToken(t, issued, time.Hour-lookahead+time.Second)))
	// expired 30s ago but inside lookahead → still valid
	assert.True(t, f.manager.IsValid(makeToken(t, issued, time.Hour-30*time.Second)))
	assert.True(t, f.manager.IsValid(makeToken(t, now, time.Hour)))
	assert.False(t, f.manager.IsValid("garbage"))
	assert.False(t, f.manager.IsValid(""))
}

func TestCurrent_ReadsVault(t *testing.T) {
	f := newFixture(t, "a", "r")
	set, err := f.manager.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", set.AccessToken)
	assert.Equal(t, "r", set.RefreshToken)
	assert.Equal(t, "client-id", set.ClientID)
	assert.Equal(t, "secret", set.ClientSecret)
	assert.Equal(t, "api-key", set.APIKey)
}

func TestFresh_ValidAccessTokenNoRefresh(t *testing.T) {
	access := makeToken(t, now, time.Hour)
	f := newFixture(t, access, makeToken(t, now, 24*time.Hour))

	set, err := f.manager.Fresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, access, set.AccessToken)
	assert.Equal(t, 0, f.exchanger.count())
}

func TestFresh_RefreshesAndPersistsBothTokens(t *testing.T) {
	oldRefresh := makeToken(t, now.Add(-time.Hour), 24*time.Hour)
	f := newFixture(t, makeToken(t, now.Add(-2*time.Hour), time.Hour), oldRefresh)

	set, err := f.manager.Fresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, f.exchanger.count())
	assert.Equal(t, oldRefresh, f.exchanger.seen[0].RefreshToken)
	assert.Equal(t, "secret", f.exchanger.seen[0].ClientSecret)

	assert.Equal(t, f.exchanger.pair.AccessToken, set.AccessToken)
	assert.Equal(t, f.exchanger.pair.RefreshToken, set.RefreshToken)
	assert.Equal(t, f.exchanger.pair.AccessToken, f.vault.get(common.SecretAccessToken))
	assert.Equal(t, f.exchanger.pair.RefreshToken, f.vault.get(common.SecretRefreshToken))
	assert.Equal(t, 1, f.vault.sets)
}

func TestFresh_RefreshTokenExpiredNoNetwork(t *testing.T) {
	f := newFixture(t,
		makeToken(t, now.Add(-48*time.Hour), time.Hour),
		makeToken(t, now.Add(-48*time.Hour), 24*time.Hour))

	_, err := f.manager.Fresh(context.Background())
	assert.ErrorIs(t, err, common.ErrCredentialsExpired)
	assert.Equal(t, 0, f.exchanger.count())
	assert.Equal(t, 0, f.vault.sets)
}

func TestFresh_ExchangeErrorSurfaces(t *testing.T) {
	f := newFixture(t,
		makeToken(t, now.Add(-2*time.Hour), time.Hour),
		makeToken(t, now, 24*time.Hour))
	f.exchanger.err = &common.TransportError{Endpoint: common.EndpointRefreshToken, Err: errors.New("reset")}

	_, err := f.manager.Fresh(context.Background())
	var te *common.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 0, f.vault.sets)
}

func TestFresh_ConcurrentCallersRefreshOnce(t *testing.T) {
	f := newFixture(t,
		makeToken(t, now.Add(-2*time.Hour), time.Hour),
		makeToken(t, now, 24*time.Hour))
	f.exchanger.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	results := make([]string, 10)
	errs := make([]error, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			set, err := f.manager.Fresh(context.Background())
			results[i], errs[i] = set.AccessToken, err
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.exchanger.count())
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, f.exchanger.pair.AccessToken, results[i])
	}
}

func TestFresh_CancelledCallerDoesNotFailJoinedRefresh(t *testing.T) {
	f := newFixture(t,
		makeToken(t, now.Add(-2*time.Hour), time.Hour),
		makeToken(t, now, 24*time.Hour))
	f.exchanger.started = make(chan struct{})
	f.exchanger.gate = make(chan struct{})

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := f.manager.Fresh(leaderCtx)
		leaderErr <- err
	}()
	<-f.exchanger.started

	type result struct {
		token string
		err   error
	}
	follower := make(chan result, 1)
	go func() {
		set, err := f.manager.Fresh(context.Background())
		follower <- result{set.AccessToken, err}
	}()

	cancel()
	require.ErrorIs(t, <-leaderErr, context.Canceled)

	close(f.exchanger.gate)
	res := <-follower
	require.NoError(t, res.err)
	assert.Equal(t, f.exchanger.pair.AccessToken, res.token)
	assert.Equal(t, 1, f.exchanger.count())
	assert.Equal(t, f.exchanger.pair.AccessToken, f.vault.get(common.SecretAccessToken))
}

func TestFresh_LostClaimWaitsForOtherRotation(t *testing.T) {
	f := newFixture(t,
		makeToken(t, now.Add(-2*time.Hour), time.Hour),
		makeToken(t, now, 24*time.Hour),
		WithBackOff(func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(5*time.Millisecond), 400)
		}))

	rotated := makeToken(t, now, 24*time.Hour)
	f.vault.beforeClaim = func(v *fakeVault) {
		// another process claims first and later persists its rotation
		v.mu.Lock()
		v.version++
		v.mu.Unlock()
		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = v.Set(context.Background(), map[string]string{
				common.SecretAccessToken:  rotated,
				common.SecretRefreshToken: "other-refresh",
			})
		}()
	}

	set, err := f.manager.Fresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rotated, set.AccessToken)
	assert.Equal(t, 0, f.exchanger.count())
}

func TestFresh_LostClaimGivesUp(t *testing.T) {
	f := newFixture(t,
		makeToken(t, now.Add(-2*time.Hour), time.Hour),
		makeToken(t, now, 24*time.Hour),
		WithBackOff(func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
		}))
	f.vault.beforeClaim = func(v *fakeVault) {
		v.mu.Lock()
		v.version++
		v.mu.Unlock()
	}

	_, err := f.manager.Fresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "await concurrent refresh")
	assert.Equal(t, 0, f.exchanger.count())
}

func TestFresh_WithRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t,
		makeToken(t, now.Add(-2*time.Hour), time.Hour),
		makeToken(t, now, 24*time.Hour),
		WithLocker(NewRedisLocker(client, 30*time.Second)))

	_, err := f.manager.Fresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.exchanger.count())
	assert.False(t, mr.Exists(LockKey), "lock must be released")
}

func TestExchangeCode_PersistsChain(t *testing.T) {
	f := newFixture(t, "", "")
	f.exchanger.pair.IDToken = "id-token"

	pair, err := f.manager.ExchangeCode(context.Background(), "code-123")
	require.NoError(t, err)
	assert.Equal(t, "id-token", pair.IDToken)
	assert.Equal(t, pair.AccessToken, f.vault.get(common.SecretAccessToken))
	assert.Equal(t, pair.RefreshToken, f.vault.get(common.SecretRefreshToken))
}

func TestStatus(t *testing.T) {
	f := newFixture(t,
		makeToken(t, now.Add(-30*time.Minute), time.Hour),
		makeToken(t, now.Add(-48*time.Hour), 24*time.Hour))

	st, err := f.manager.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, (30 * time.Minute).Milliseconds(), st.AccessExpiresInMs)
	assert.False(t, st.AccessExpired)
	assert.Equal(t, (-24 * time.Hour).Milliseconds(), st.RefreshExpiresInMs)
	assert.True(t, st.RefreshExpired)
}
