// Package order turns a priced purchase intent into a two-phase,
// budget-guarded commit. Prepare issues a time-boxed token plus a human
// confirmation code; Confirm redeems the token exactly once, reserving
// budget in the same atomic step, and only then places the order upstream.
package order

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"github.com/skygate-io/skygate/pkg/budget"
	"github.com/skygate-io/skygate/pkg/clock"
	"github.com/skygate-io/skygate/pkg/models"
	"github.com/skygate-io/skygate/pkg/observe"
	"github.com/skygate-io/skygate/pkg/token"
)

var (
	// ErrCodeMismatch means the confirmation code did not match. The token
	// stays pending so a corrected confirm can still succeed before expiry.
	ErrCodeMismatch = errors.New("confirmation code mismatch")
	// ErrOrderingDisabled means the master ordering switch is off.
	ErrOrderingDisabled = errors.New("ordering is disabled")
	// ErrNotAuthenticated means the session has no verified credential.
	ErrNotAuthenticated = errors.New("session is not authenticated")
	// ErrOrderFailed means the upstream placement failed after the token
	// was redeemed. The reservation is rolled back; the token is spent and
	// the order must be re-prepared, which prevents double-purchase retries.
	ErrOrderFailed = errors.New("order placement failed")
)

// Catalog quotes and places orders upstream.
type Catalog interface {
	QuoteArchive(ctx context.Context, apiKey string, spec models.OrderSpec) (models.Cents, string, error)
	OrderArchive(ctx context.Context, apiKey string, spec models.OrderSpec) (string, error)
}

// Credentials resolves a session's bound API key.
type Credentials interface {
	Credential(sessionID string) (string, bool)
}

// Recorder persists placed orders for the audit trail.
type Recorder interface {
	Record(ctx context.Context, rec models.OrderRecord) error
}

// payload is what an order token carries: the immutable quote plus the
// confirmation code a human must restate.
type payload struct {
	SessionID string
	Quote     models.Quote
	Code      string
}

// Prepared is the result of a successful Prepare.
type Prepared struct {
	TokenID string
	Code    string
	Quote   models.Quote
	TTL     time.Duration
}

// Broker is the order confirmation engine.
type Broker struct {
	store    *token.Store
	guard    *budget.Guard
	catalog  Catalog
	creds    Credentials
	recorder Recorder
	clock    clock.Clock
	logger   pslog.Logger
	metrics  *observe.Metrics
	quoteTTL time.Duration
	enabled  bool
}

// NewBroker wires the order flow. recorder and metrics may be nil.
func NewBroker(store *token.Store, guard *budget.Guard, cat Catalog, creds Credentials, recorder Recorder, clk clock.Clock, logger pslog.Logger, metrics *observe.Metrics, quoteTTL time.Duration, enabled bool) *Broker {
	return &Broker{
		store:    store,
		guard:    guard,
		catalog:  cat,
		creds:    creds,
		recorder: recorder,
		clock:    clk,
		logger:   logger,
		metrics:  metrics,
		quoteTTL: quoteTTL,
		enabled:  enabled,
	}
}

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newCode generates a short confirmation code like CONFIRM-7KX2QD. The code
// is deliberately separate from the token id: the id is a machine-held
// capability, the code is the explicit "yes, this price" a human restates,
// so a leaked or logged token alone cannot confirm a purchase.
func newCode() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate confirmation code: %w", err)
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return "CONFIRM-" + string(b), nil
}

// Prepare obtains a price quote and stores a pending order token. The quote
// is immutable for the token's lifetime; a lapsed quote must be re-prepared,
// never silently re-priced.
func (b *Broker) Prepare(ctx context.Context, sessionID string, spec models.OrderSpec) (Prepared, error) {
	if !b.enabled {
		return Prepared{}, ErrOrderingDisabled
	}
	apiKey, ok := b.creds.Credential(sessionID)
	if !ok {
		return Prepared{}, ErrNotAuthenticated
	}

	price, currency, err := b.catalog.QuoteArchive(ctx, apiKey, spec)
	if err != nil {
		return Prepared{}, fmt.Errorf("quote archive: %w", err)
	}

	code, err := newCode()
	if err != nil {
		return Prepared{}, err
	}

	now := b.clock.Now()
	quote := models.Quote{
		Spec:       spec,
		Price:      price,
		Currency:   currency,
		IssuedAt:   now,
		ValidUntil: now.Add(b.quoteTTL),
	}

	id, err := b.store.Create(token.KindOrder, sessionID, payload{
		SessionID: sessionID,
		Quote:     quote,
		Code:      code,
	}, b.quoteTTL)
	if err != nil {
		return Prepared{}, fmt.Errorf("store order token: %w", err)
	}

	b.logger.Info("order.prepared",
		"session", sessionID,
		"archive", spec.ArchiveID,
		"price", price.String(),
	)
	return Prepared{TokenID: id, Code: code, Quote: quote, TTL: b.quoteTTL}, nil
}

// Confirm redeems an order token against its confirmation code and places
// the order. Code check and budget reservation happen inside the redeem
// predicate, under the token's lock: redemption success implies the
// reservation is committed, and concurrent confirms yield exactly one
// success. A code mismatch or budget rejection leaves the token pending.
func (b *Broker) Confirm(ctx context.Context, tokenID, code string) (string, error) {
	if !b.enabled {
		return "", ErrOrderingDisabled
	}

	var pl payload
	_, err := b.store.Redeem(tokenID, func(p any) error {
		op, ok := p.(payload)
		if !ok {
			// Not an order token. Reported as a mismatch to avoid leaking
			// what kind of token the id refers to.
			return ErrCodeMismatch
		}
		if subtle.ConstantTimeCompare([]byte(op.Code), []byte(code)) != 1 {
			return ErrCodeMismatch
		}
		if err := b.guard.Reserve(op.SessionID, op.Quote.Price); err != nil {
			return err
		}
		pl = op
		return nil
	})
	if err != nil {
		return "", err
	}

	// Redemption is the commit point. From here the token is spent no
	// matter what the upstream does; only the reservation can be undone.
	apiKey, ok := b.creds.Credential(pl.SessionID)
	if !ok {
		b.guard.Release(pl.SessionID, pl.Quote.Price)
		return "", ErrNotAuthenticated
	}

	ref, err := b.catalog.OrderArchive(ctx, apiKey, pl.Quote.Spec)
	if err != nil {
		b.guard.Release(pl.SessionID, pl.Quote.Price)
		b.logger.Error("order.place.failed",
			"session", pl.SessionID,
			"archive", pl.Quote.Spec.ArchiveID,
			"error", err,
		)
		return "", fmt.Errorf("%w: %v", ErrOrderFailed, err)
	}

	b.metrics.OrderPlaced()
	b.logger.Info("order.placed",
		"session", pl.SessionID,
		"archive", pl.Quote.Spec.ArchiveID,
		"price", pl.Quote.Price.String(),
		"ref", ref,
	)

	if b.recorder != nil {
		rec := models.OrderRecord{
			ID:        uuid.NewString(),
			SessionID: pl.SessionID,
			ArchiveID: pl.Quote.Spec.ArchiveID,
			AOI:       pl.Quote.Spec.AOI,
			Cost:      pl.Quote.Price,
			Currency:  pl.Quote.Currency,
			OrderRef:  ref,
			CreatedAt: b.clock.Now(),
		}
		if err := b.recorder.Record(ctx, rec); err != nil {
			// The order went through; a failed audit write is logged, not
			// surfaced.
			b.logger.Warn("order.history.failed", "ref", ref, "error", err)
		}
	}
	return ref, nil
}
