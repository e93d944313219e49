package tokenstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
)

// Key names a value held by the store.
type Key string

const (
	AccessToken  Key = "accessToken"
	RefreshToken Key = "refreshToken"
	UserProfile  Key = "userProfile"
)

// Keys lists every key the store manages, in persistence order.
var Keys = []Key{AccessToken, RefreshToken, UserProfile}

// ErrNotFound is returned by Get when a key holds no value.
var ErrNotFound = errors.New("token not found")

// Record is the full set of persisted values, keyed by Key.
type Record map[Key]string

// Backend persists a Record. Load and Save always operate on the whole
// record so a pair of tokens is written in one step.
type Backend interface {
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, rec Record) error
}

// Tokens is an access/refresh token pair read or written as a unit.
type Tokens struct {
	Access  string
	Refresh string
}

// Store is the shared token store. Every mutation takes the write lock, so a
// reader never observes a half-updated pair.
type Store struct {
	mu      sync.RWMutex
	backend Backend
}

// New creates a store over the given backend.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Get returns the stored value for key. A backend failure is logged and
// reported as ErrNotFound: an unreadable store means "not logged in".
func (s *Store) Get(ctx context.Context, key Key) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec := s.load(ctx)
	v, ok := rec[key]
	if !ok || v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

// Set persists value under key, overwriting any prior value.
func (s *Store) Set(ctx context.Context, key Key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.load(ctx)
	rec[key] = value
	return s.save(ctx, rec)
}

// Clear removes key. Clearing an absent key is not an error.
func (s *Store) Clear(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.load(ctx)
	if _, ok := rec[key]; !ok {
		return nil
	}
	delete(rec, key)
	return s.save(ctx, rec)
}

// Tokens returns the current access/refresh pair under a single read lock.
func (s *Store) Tokens(ctx context.Context) Tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec := s.load(ctx)
	return Tokens{Access: rec[AccessToken], Refresh: rec[RefreshToken]}
}

// SetTokens replaces both tokens in one write. An empty Refresh keeps the
// previously stored refresh token (the server did not rotate it).
func (s *Store) SetTokens(ctx context.Context, t Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.load(ctx)
	rec[AccessToken] = t.Access
	if t.Refresh != "" {
		rec[RefreshToken] = t.Refresh
	}

	log.Debug().
		Str("access", Fingerprint(t.Access)).
		Str("refresh", Fingerprint(rec[RefreshToken])).
		Msg("storing token pair")

	return s.save(ctx, rec)
}

// SwapTokens stores t only if the stored refresh token is still refresh.
// It reports false without writing when the pair was cleared or replaced
// since refresh was read.
func (s *Store) SwapTokens(ctx context.Context, refresh string, t Tokens) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.load(ctx)
	if rec[RefreshToken] != refresh {
		return false, nil
	}

	rec[AccessToken] = t.Access
	if t.Refresh != "" {
		rec[RefreshToken] = t.Refresh
	}

	log.Debug().
		Str("access", Fingerprint(t.Access)).
		Str("refresh", Fingerprint(rec[RefreshToken])).
		Msg("swapping token pair")

	return true, s.save(ctx, rec)
}

// ClearIf removes the tokens and cached profile only if the stored refresh
// token is still refresh.
func (s *Store) ClearIf(ctx context.Context, refresh string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.load(ctx)[RefreshToken] != refresh {
		return false, nil
	}
	if err := s.backend.Save(ctx, Record{}); err != nil {
		return true, fmt.Errorf("failed to clear token store: %w", err)
	}
	return true, nil
}

// ClearAll removes the tokens and the cached profile together.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Save(ctx, Record{}); err != nil {
		return fmt.Errorf("failed to clear token store: %w", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context) Record {
	rec, err := s.backend.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("token store unavailable, treating as empty")
		return Record{}
	}
	if rec == nil {
		return Record{}
	}
	return rec
}

func (s *Store) save(ctx context.Context, rec Record) error {
	if err := s.backend.Save(ctx, rec); err != nil {
		return fmt.Errorf("failed to save token store: %w", err)
	}
	return nil
}

// Fingerprint returns a short, non-reversible identifier for a token that is
// safe to log.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(token))
	fp := base58.Encode(hash[:])
	if len(fp) > 12 {
		fp = fp[:12]
	}
	return fp
}
