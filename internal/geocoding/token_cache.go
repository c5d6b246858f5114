package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/UnknownOlympus/atlas-arcgis/internal/metrics"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// TokenStore persists tokens per provider name.
// Load returns a nil token and no error when nothing is stored.
type TokenStore interface {
	Load(ctx context.Context, provider string) (*Token, error)
	Save(ctx context.Context, provider string, token *Token) error
	Delete(ctx context.Context, provider string) error
}

// MemoryTokenStore keeps tokens for the lifetime of the process.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]*Token
}

// NewMemoryTokenStore creates an empty in-process token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]*Token)}
}

func (s *MemoryTokenStore) Load(_ context.Context, provider string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tokens[provider], nil
}

func (s *MemoryTokenStore) Save(_ context.Context, provider string, token *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[provider] = token
	return nil
}

func (s *MemoryTokenStore) Delete(_ context.Context, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, provider)
	return nil
}

// RedisTokenStore shares tokens between processes through Redis.
type RedisTokenStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisTokenStore creates a token store writing keys under "<prefix>token:<provider>".
func NewRedisTokenStore(client redis.UniversalClient, prefix string) *RedisTokenStore {
	return &RedisTokenStore{client: client, prefix: prefix}
}

func (s *RedisTokenStore) key(provider string) string {
	return s.prefix + "token:" + provider
}

func (s *RedisTokenStore) Load(ctx context.Context, provider string) (*Token, error) {
	val, err := s.client.Get(ctx, s.key(provider)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token for %s: %w", provider, err)
	}

	var token Token
	if err = json.Unmarshal(val, &token); err != nil {
		return nil, fmt.Errorf("failed to decode stored token for %s: %w", provider, err)
	}

	return &token, nil
}

// Save stores the token until it expires. Tokens without expiry are kept indefinitely.
func (s *RedisTokenStore) Save(ctx context.Context, provider string, token *Token) error {
	val, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode token for %s: %w", provider, err)
	}

	var ttl time.Duration
	if !token.ExpiresAt.IsZero() {
		ttl = time.Until(token.ExpiresAt)
		if ttl <= 0 {
			return nil
		}
	}

	if err = s.client.Set(ctx, s.key(provider), val, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save token for %s: %w", provider, err)
	}

	return nil
}

func (s *RedisTokenStore) Delete(ctx context.Context, provider string) error {
	if err := s.client.Del(ctx, s.key(provider)).Err(); err != nil {
		return fmt.Errorf("failed to delete token for %s: %w", provider, err)
	}

	return nil
}

// TokenCache hands out a usable token for one provider, issuing and storing a
// new one when the stored token is missing or expired.
type TokenCache struct {
	provider string
	store    TokenStore
	issuer   TokenIssuer
	mu       sync.Mutex
	preset   *Token
	last     *Token // last issued token, used while the store fails
	group    singleflight.Group
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewTokenCache creates a token cache for the named provider.
// preset, if not nil, is used while the store holds no token.
func NewTokenCache(
	provider string,
	store TokenStore,
	issuer TokenIssuer,
	preset *Token,
	metrics *metrics.Metrics,
	log *slog.Logger,
) *TokenCache {
	return &TokenCache{
		provider: provider,
		store:    store,
		issuer:   issuer,
		preset:   preset,
		metrics:  metrics,
		log:      log,
	}
}

// GetOrRefresh returns the stored token if it is active. Otherwise, when the
// key is configured, a new token is issued and saved. Without a key the stored
// token is returned as is, which may be nil.
func (tc *TokenCache) GetOrRefresh(ctx context.Context, key APIKey) (*Token, error) {
	current := tc.current(ctx)
	if current.Active() || key.IsZero() || tc.issuer == nil {
		return current, nil
	}

	val, err, _ := tc.group.Do(tc.provider, func() (any, error) {
		// Another caller may have refreshed while we waited.
		if stored := tc.current(ctx); stored.Active() {
			return stored, nil
		}

		token, err := tc.issuer.IssueToken(ctx, key)
		if err != nil {
			tc.metrics.TokenRefreshes.WithLabelValues(tc.provider, "failure").Inc()
			return nil, fmt.Errorf("failed to issue %s token: %w", tc.provider, err)
		}
		tc.metrics.TokenRefreshes.WithLabelValues(tc.provider, "success").Inc()

		tc.mu.Lock()
		tc.last = token
		tc.mu.Unlock()

		if err = tc.store.Save(ctx, tc.provider, token); err != nil {
			tc.log.WarnContext(ctx, "Failed to save token", "provider", tc.provider, "error", err)
		}

		return token, nil
	})
	if err != nil {
		return nil, err
	}

	return val.(*Token), nil
}

// Invalidate forgets the stored, issued and preset tokens so the next call issues a new one.
func (tc *TokenCache) Invalidate(ctx context.Context) {
	tc.mu.Lock()
	tc.preset = nil
	tc.last = nil
	tc.mu.Unlock()

	if err := tc.store.Delete(ctx, tc.provider); err != nil {
		tc.log.WarnContext(ctx, "Failed to delete token", "provider", tc.provider, "error", err)
	}
}

// current returns the stored token. When the store cannot be read, the last
// issued token is used instead. The preset token applies when neither exists.
func (tc *TokenCache) current(ctx context.Context) *Token {
	token, err := tc.store.Load(ctx, tc.provider)
	if token != nil && err == nil {
		return token
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()

	if err != nil {
		tc.log.WarnContext(ctx, "Failed to load token", "provider", tc.provider, "error", err)
		if tc.last != nil {
			return tc.last
		}
	}

	return tc.preset
}
