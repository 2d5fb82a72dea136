// Package credentials manages the OAuth access/refresh token chain.
//
// Refreshing rotates both tokens and invalidates the previous refresh token,
// so only one refresh may run per credential chain at a time. The Manager
// enforces this in three layers: an in-process singleflight, an optional
// named mutex shared between processes, and a compare-and-swap on the vault
// version counter.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dmitrijs2005/photoimport/internal/clockx"
	"github.com/dmitrijs2005/photoimport/internal/common"
	"github.com/dmitrijs2005/photoimport/internal/ingest/metrics"
	"github.com/dmitrijs2005/photoimport/internal/ingest/models"
	"github.com/dmitrijs2005/photoimport/internal/ingest/vault"
	"github.com/dmitrijs2005/photoimport/internal/logging"
	"golang.org/x/sync/singleflight"
)

// LockKey names the credential chain for the named mutex.
const LockKey = "photoimport:credentials:refresh"

var vaultKeys = []string{
	common.SecretAccessToken,
	common.SecretRefreshToken,
	common.SecretClientSecret,
	common.SecretAPIKey,
}

var errRotationPending = errors.New("rotation pending")

// TokenPair is the identity provider's answer to a token exchange.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
}

// Exchanger talks to the identity provider's token endpoint.
type Exchanger interface {
	Refresh(ctx context.Context, set models.CredentialSet) (TokenPair, error)
	ExchangeCode(ctx context.Context, code string, set models.CredentialSet) (TokenPair, error)
}

// Locker is a named mutex. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(context.Context) error, error)
}

type Manager struct {
	vault     vault.Vault
	exchanger Exchanger
	clientID  string
	lookahead time.Duration

	locker     Locker
	clock      clockx.Clock
	newBackOff func() backoff.BackOff
	metrics    *metrics.Metrics
	logger     logging.Logger

	// refreshTimeout bounds one shared refresh, independent of its callers.
	refreshTimeout time.Duration

	group singleflight.Group
}

type Option func(*Manager)

// WithLocker serializes refreshes across processes.
func WithLocker(l Locker) Option {
	return func(m *Manager) { m.locker = l }
}

func WithClock(c clockx.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithBackOff sets the policy used while waiting for a concurrent rotation.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(m *Manager) { m.newBackOff = f }
}

func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) { m.refreshTimeout = d }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func NewManager(v vault.Vault, ex Exchanger, clientID string, lookahead time.Duration, logger logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		vault:     v,
		exchanger: ex,
		clientID:  clientID,
		lookahead: lookahead,
		clock:     clockx.RealClock{},
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
		refreshTimeout: time.Minute,
		logger:         logger.With("module", "credentials"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsValid reports whether issued_at + ttl > now - lookahead.
// Undecodable tokens are invalid.
func (m *Manager) IsValid(token string) bool {
	c, err := ParseClaims(token)
	if err != nil {
		return false
	}
	return c.ExpiresAt().After(m.clock.Now().Add(-m.lookahead))
}

// Current returns the latest persisted credential set.
func (m *Manager) Current(ctx context.Context) (models.CredentialSet, error) {
	values, version, err := m.vault.Get(ctx, vaultKeys)
	if err != nil {
		return models.CredentialSet{}, fmt.Errorf("read credentials: %w", err)
	}
	return models.CredentialSet{
		AccessToken:  values[common.SecretAccessToken],
		RefreshToken: values[common.SecretRefreshToken],
		ClientID:     m.clientID,
		ClientSecret: values[common.SecretClientSecret],
		APIKey:       values[common.SecretAPIKey],
		Version:      version,
	}, nil
}

// Fresh returns credentials with a valid access token, refreshing iff the
// current one is invalid.
func (m *Manager) Fresh(ctx context.Context) (models.CredentialSet, error) {
	set, err := m.Current(ctx)
	if err != nil {
		return set, err
	}
	if m.IsValid(set.AccessToken) {
		return set, nil
	}
	return m.Refresh(ctx, set)
}

// Refresh exchanges set's refresh token for a new pair and persists it.
// It fails with common.ErrCredentialsExpired, without any network call,
// when the refresh token itself is no longer valid.
func (m *Manager) Refresh(ctx context.Context, set models.CredentialSet) (models.CredentialSet, error) {
	if !m.IsValid(set.RefreshToken) {
		m.metrics.Refresh("expired")
		return set, common.ErrCredentialsExpired
	}

	// The shared refresh outlives any single caller; each caller only stops
	// waiting when its own ctx ends.
	ch := m.group.DoChan(LockKey, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		defer cancel()
		return m.refresh(rctx)
	})

	select {
	case <-ctx.Done():
		return set, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			m.metrics.Refresh("error")
			return set, res.Err
		}
		if res.Shared {
			m.logger.Debug(ctx, "joined in-flight refresh")
		}
		return res.Val.(models.CredentialSet), nil
	}
}

func (m *Manager) refresh(ctx context.Context) (models.CredentialSet, error) {
	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, LockKey)
		if err != nil {
			return models.CredentialSet{}, fmt.Errorf("refresh lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn(ctx, "refresh unlock failed", "error", err)
			}
		}()
	}

	// Another invocation may have rotated while we waited.
	latest, err := m.Current(ctx)
	if err != nil {
		return latest, err
	}
	if m.IsValid(latest.AccessToken) {
		m.metrics.Refresh("reused")
		return latest, nil
	}
	if !m.IsValid(latest.RefreshToken) {
		return latest, common.ErrCredentialsExpired
	}

	claimed, err := m.vault.Claim(ctx, latest.Version)
	if errors.Is(err, common.ErrVersionConflict) {
		m.logger.Info(ctx, "refresh claimed elsewhere, waiting for rotation")
		return m.awaitRotation(ctx)
	}
	if err != nil {
		return latest, fmt.Errorf("claim credentials: %w", err)
	}

	pair, err := m.exchanger.Refresh(ctx, latest)
	if err != nil {
		return latest, err
	}

	// The previous refresh token is dead from here on; persist before anything else.
	if err := m.vault.Set(context.WithoutCancel(ctx), map[string]string{
		common.SecretAccessToken:  pair.AccessToken,
		common.SecretRefreshToken: pair.RefreshToken,
	}); err != nil {
		m.logger.Error(ctx, "rotated credentials not persisted", "error", err)
		return latest, fmt.Errorf("persist credentials: %w", err)
	}

	m.metrics.Refresh("ok")
	m.logger.Info(ctx, "credentials refreshed")

	latest.AccessToken = pair.AccessToken
	latest.RefreshToken = pair.RefreshToken
	latest.Version = claimed + 1
	return latest, nil
}

func (m *Manager) awaitRotation(ctx context.Context) (models.CredentialSet, error) {
	var result models.CredentialSet
	op := func() error {
		set, err := m.Current(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !m.IsValid(set.AccessToken) {
			return errRotationPending
		}
		result = set
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(m.newBackOff(), ctx)); err != nil {
		return result, fmt.Errorf("await concurrent refresh: %w", err)
	}
	m.metrics.Refresh("reused")
	return result, nil
}

// ExchangeCode starts a new credential chain from an authorization code and
// persists it. The returned pair carries the id token for the caller.
func (m *Manager) ExchangeCode(ctx context.Context, code string) (TokenPair, error) {
	set, err := m.Current(ctx)
	if err != nil {
		return TokenPair{}, err
	}

	pair, err := m.exchanger.ExchangeCode(ctx, code, set)
	if err != nil {
		return TokenPair{}, err
	}

	if err := m.vault.Set(context.WithoutCancel(ctx), map[string]string{
		common.SecretAccessToken:  pair.AccessToken,
		common.SecretRefreshToken: pair.RefreshToken,
	}); err != nil {
		return TokenPair{}, fmt.Errorf("persist credentials: %w", err)
	}
	m.logger.Info(ctx, "credential chain initialized from authorization code")
	return pair, nil
}

// Status reports remaining lifetime of both persisted tokens.
func (m *Manager) Status(ctx context.Context) (models.TokenStatus, error) {
	set, err := m.Current(ctx)
	if err != nil {
		return models.TokenStatus{}, err
	}
	return models.TokenStatus{
		AccessExpiresInMs:  m.expiresInMs(set.AccessToken),
		RefreshExpiresInMs: m.expiresInMs(set.RefreshToken),
		AccessExpired:      !m.IsValid(set.AccessToken),
		RefreshExpired:     !m.IsValid(set.RefreshToken),
	}, nil
}

func (m *Manager) expiresInMs(token string) int64 {
	c, err := ParseClaims(token)
	if err != nil {
		return 0
	}
	return c.ExpiresAt().Sub(m.clock.Now()).Milliseconds()
}
