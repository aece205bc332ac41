// Package token implements the in-memory registry of single-use,
// time-boxed tokens that both the authentication and order-confirmation
// flows are built on.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/skygate-io/skygate/pkg/clock"
	"github.com/skygate-io/skygate/pkg/observe"
)

// Kind classifies what a token is a capability for.
type Kind string

const (
	// KindAuth is a one-time credential-entry link.
	KindAuth Kind = "auth"
	// KindOrder is a priced purchase awaiting confirmation.
	KindOrder Kind = "order"
)

// Status is the lifecycle state of a token. A token moves from pending to
// exactly one of the other states and never changes again.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusRedeemed Status = "redeemed"
	StatusExpired  Status = "expired"
	StatusInvalid  Status = "invalid"
)

var (
	// ErrNotFound means the id was never issued or has been swept.
	ErrNotFound = errors.New("token not found")
	// ErrExpired means the token lapsed before redemption.
	ErrExpired = errors.New("token expired")
	// ErrAlreadyUsed means the token was redeemed before; replay must fail.
	ErrAlreadyUsed = errors.New("token already used")
)

// Token is a single-use capability bound to a payload.
type Token struct {
	ID           string
	Kind         Kind
	Payload      any
	Status       Status
	CreatedAt    time.Time
	ExpiresAt    time.Time
	OwnerSession string
}

// entry pairs a token with its own lock so operations on different ids
// never contend with each other.
type entry struct {
	mu         sync.Mutex
	tok        Token
	redeemedAt time.Time
}

// Store is the process-wide token registry. The outer mutex guards only
// the map; each token's state transitions are guarded by its entry lock.
type Store struct {
	clock   clock.Clock
	logger  pslog.Logger
	metrics *observe.Metrics

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewStore creates an empty Store. metrics may be nil.
func NewStore(clk clock.Clock, logger pslog.Logger, metrics *observe.Metrics) *Store {
	return &Store{
		clock:   clk,
		logger:  logger,
		metrics: metrics,
		entries: make(map[string]*entry),
	}
}

// newID returns 32 bytes of crypto/rand entropy, base64url encoded. The id
// doubles as a bearer capability, so the space has to be unguessable.
func newID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// shortID returns a loggable prefix of a token id. Full ids never appear
// in logs.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Create stores a pending token and returns its id.
func (s *Store) Create(kind Kind, owner string, payload any, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	id, err := newID()
	if err != nil {
		return "", err
	}
	now := s.clock.Now()
	e := &entry{tok: Token{
		ID:           id,
		Kind:         kind,
		Payload:      payload,
		Status:       StatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		OwnerSession: owner,
	}}

	s.mu.Lock()
	s.entries[id] = e
	s.mu.Unlock()

	s.metrics.TokenCreated(string(kind))
	s.logger.Debug("token.create",
		"kind", kind,
		"id", shortID(id),
		"ttl_seconds", ttl.Seconds(),
	)
	return id, nil
}

func (s *Store) lookup(id string) *entry {
	s.mu.RLock()
	e := s.entries[id]
	s.mu.RUnlock()
	return e
}

// Peek reports a token's status without consuming it. An expired but not
// yet swept token reports StatusExpired; the stored state is not mutated.
func (s *Store) Peek(id string) (Status, error) {
	e := s.lookup(id)
	if e == nil {
		return "", ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tok.Status == StatusPending && !s.clock.Now().Before(e.tok.ExpiresAt) {
		return StatusExpired, nil
	}
	return e.tok.Status, nil
}

// Redeem atomically validates and consumes a token. The predicate is
// evaluated against the payload under the token's lock; if it returns an
// error the token is left pending so a corrected retry can still succeed
// before expiry. Concurrent Redeem calls on the same id yield exactly one
// success.
func (s *Store) Redeem(id string, predicate func(payload any) error) (any, error) {
	e := s.lookup(id)
	if e == nil {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.tok.Status {
	case StatusRedeemed, StatusVerified:
		return nil, ErrAlreadyUsed
	case StatusExpired, StatusInvalid:
		return nil, ErrExpired
	}

	now := s.clock.Now()
	if !now.Before(e.tok.ExpiresAt) {
		e.tok.Status = StatusExpired
		s.metrics.TokenExpired(string(e.tok.Kind))
		s.logger.Info("token.redeem.expired", "kind", e.tok.Kind, "id", shortID(id))
		return nil, ErrExpired
	}

	if predicate != nil {
		if err := predicate(e.tok.Payload); err != nil {
			return nil, err
		}
	}

	e.tok.Status = StatusRedeemed
	e.redeemedAt = now
	s.metrics.TokenRedeemed(string(e.tok.Kind))
	s.logger.Info("token.redeem.ok", "kind", e.tok.Kind, "id", shortID(id))
	return e.tok.Payload, nil
}

// Sweep evicts tokens that are past expiry and still pending, and redeemed
// tokens past the grace window kept for replay detection. It returns the
// number of evicted tokens.
func (s *Store) Sweep(now time.Time, redeemedGrace time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var swept int
	for id, e := range s.entries {
		e.mu.Lock()
		var stale bool
		switch e.tok.Status {
		case StatusPending, StatusExpired, StatusInvalid:
			stale = !now.Before(e.tok.ExpiresAt)
		case StatusRedeemed, StatusVerified:
			stale = !now.Before(e.redeemedAt.Add(redeemedGrace))
		}
		e.mu.Unlock()
		if stale {
			delete(s.entries, id)
			swept++
		}
	}
	s.metrics.TokensSwept(swept)
	return swept
}

// Len reports the number of live entries. Used by tests and the sweeper log.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
