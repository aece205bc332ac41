// Package budget enforces spend ceilings over committed purchases. The
// guard exclusively owns the spend ledger: counters move only when an order
// token is redeemed, and only after the check for that exact amount passed.
package budget

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/skygate-io/skygate/pkg/clock"
	"github.com/skygate-io/skygate/pkg/models"
	"github.com/skygate-io/skygate/pkg/observe"
)

// ErrBudgetExceeded is returned when a reservation would cross a ceiling.
// The ledger is left untouched.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Limits are the configured spend ceilings. Zero means unlimited.
type Limits struct {
	PerOrder models.Cents
	Session  models.Cents
	Daily    models.Cents
}

// ledgerEntry tracks one session's committed spend in its current UTC day
// bucket. Each entry carries its own lock so unrelated sessions never
// serialize behind each other.
type ledgerEntry struct {
	mu    sync.Mutex
	spent models.Cents
	day   string
}

// Guard performs atomic check-and-increment of the session and daily
// counters at commit time.
type Guard struct {
	limits  Limits
	clock   clock.Clock
	logger  pslog.Logger
	metrics *observe.Metrics

	mu       sync.RWMutex
	sessions map[string]*ledgerEntry

	// dayMu guards the process-wide daily aggregate. Lock order is always
	// session entry first, then dayMu.
	dayMu    sync.Mutex
	daySpent models.Cents
	day      string
}

// NewGuard creates a Guard with the given ceilings. metrics may be nil.
func NewGuard(limits Limits, clk clock.Clock, logger pslog.Logger, metrics *observe.Metrics) *Guard {
	return &Guard{
		limits:   limits,
		clock:    clk,
		logger:   logger,
		metrics:  metrics,
		sessions: make(map[string]*ledgerEntry),
	}
}

// Limits returns the configured ceilings.
func (g *Guard) Limits() Limits {
	return g.limits
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (g *Guard) entryFor(sessionID string) *ledgerEntry {
	g.mu.RLock()
	e := g.sessions[sessionID]
	g.mu.RUnlock()
	if e != nil {
		return e
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if e = g.sessions[sessionID]; e == nil {
		e = &ledgerEntry{day: dayKey(g.clock.Now())}
		g.sessions[sessionID] = e
	}
	return e
}

// rollSession resets a session bucket whose day has passed. Caller holds e.mu.
func rollSession(e *ledgerEntry, today string) {
	if e.day != today {
		e.day = today
		e.spent = 0
	}
}

// rollDay resets the daily aggregate at UTC midnight. Caller holds dayMu.
func (g *Guard) rollDay(today string) {
	if g.day != today {
		g.day = today
		g.daySpent = 0
	}
}

// Reserve atomically checks amount against the per-order, session and daily
// ceilings and, only if all pass, commits it to both counters. A reservation
// spanning a rollover boundary is evaluated against the bucket active now.
func (g *Guard) Reserve(sessionID string, amount models.Cents) error {
	if amount < 0 {
		return fmt.Errorf("reserve: negative amount %s", amount)
	}
	if g.limits.PerOrder > 0 && amount > g.limits.PerOrder {
		g.metrics.BudgetRejected()
		g.logger.Info("budget.reserve.rejected",
			"session", sessionID,
			"amount", amount.String(),
			"ceiling", "per_order",
		)
		return ErrBudgetExceeded
	}

	today := dayKey(g.clock.Now())
	e := g.entryFor(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	rollSession(e, today)

	if g.limits.Session > 0 && e.spent+amount > g.limits.Session {
		g.metrics.BudgetRejected()
		g.logger.Info("budget.reserve.rejected",
			"session", sessionID,
			"amount", amount.String(),
			"ceiling", "session",
		)
		return ErrBudgetExceeded
	}

	g.dayMu.Lock()
	defer g.dayMu.Unlock()
	g.rollDay(today)

	if g.limits.Daily > 0 && g.daySpent+amount > g.limits.Daily {
		g.metrics.BudgetRejected()
		g.logger.Info("budget.reserve.rejected",
			"session", sessionID,
			"amount", amount.String(),
			"ceiling", "daily",
		)
		return ErrBudgetExceeded
	}

	e.spent += amount
	g.daySpent += amount
	g.logger.Info("budget.reserve.ok",
		"session", sessionID,
		"amount", amount.String(),
		"session_spent", e.spent.String(),
		"daily_spent", g.daySpent.String(),
	)
	return nil
}

// Release undoes a reservation after a downstream order placement failed.
// It is the only decrement apart from the daily rollover; counters are
// clamped at zero in case the bucket rolled between reserve and release.
func (g *Guard) Release(sessionID string, amount models.Cents) {
	if amount <= 0 {
		return
	}
	today := dayKey(g.clock.Now())
	e := g.entryFor(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	rollSession(e, today)
	if e.spent -= amount; e.spent < 0 {
		e.spent = 0
	}

	g.dayMu.Lock()
	defer g.dayMu.Unlock()
	g.rollDay(today)
	if g.daySpent -= amount; g.daySpent < 0 {
		g.daySpent = 0
	}
	g.logger.Info("budget.release",
		"session", sessionID,
		"amount", amount.String(),
	)
}

// SessionSpent reports a session's committed spend in the current day bucket.
func (g *Guard) SessionSpent(sessionID string) models.Cents {
	today := dayKey(g.clock.Now())
	e := g.entryFor(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	rollSession(e, today)
	return e.spent
}

// DailySpent reports the process-wide committed spend for the current UTC day.
func (g *Guard) DailySpent() models.Cents {
	today := dayKey(g.clock.Now())
	g.dayMu.Lock()
	defer g.dayMu.Unlock()
	g.rollDay(today)
	return g.daySpent
}
