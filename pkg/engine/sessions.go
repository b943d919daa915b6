package engine

import (
	"context"

	"github.com/nainya/budgetstore/pkg/journal"
	"github.com/nainya/budgetstore/pkg/session"
)

type sessionEntry struct {
	SessionID string   `json:"session_id"`
	SellerID  string   `json:"seller_id"`
	Event     string   `json:"event"`
	Fields    []string `json:"fields,omitempty"`
}

// StartSession opens a seller session on an existing budget
func (e *Engine) StartSession(ctx context.Context, budgetID, sellerID string) (*session.Session, error) {
	if _, err := e.budgets.Get(ctx, budgetID); err != nil {
		return nil, err
	}
	s, err := e.sessions.Start(budgetID, sellerID)
	if err != nil {
		return nil, err
	}
	e.metrics.SessionsStarted.Inc()
	e.metrics.SessionsActive.Set(float64(e.sessions.Active()))
	e.record(journal.KindSession, budgetID, sessionEntry{SessionID: s.ID, SellerID: sellerID, Event: "start"})
	e.log.SessionLogger(budgetID, sellerID).Info("Session started").Str("session_id", s.ID).Send()
	return s, nil
}

// LockSessionData pins values the customer has seen
func (e *Engine) LockSessionData(ctx context.Context, budgetID, sellerID string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.sessions.Lock(budgetID, sellerID, fields)
}

// UnlockSessionData releases pinned fields and everything below them
func (e *Engine) UnlockSessionData(ctx context.Context, budgetID, sellerID string, fields ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.sessions.Unlock(budgetID, sellerID, fields...)
}

// UpdateSession records a seller modification and locks its data
func (e *Engine) UpdateSession(ctx context.Context, budgetID, sellerID string, data map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.sessions.Update(budgetID, sellerID, data)
}

// CloseSession ends the seller's session; held provider changes are not replayed
func (e *Engine) CloseSession(ctx context.Context, budgetID, sellerID string) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := e.sessions.Close(budgetID, sellerID)
	if err != nil {
		return nil, err
	}
	e.metrics.SessionsActive.Set(float64(e.sessions.Active()))
	e.record(journal.KindSession, budgetID, sessionEntry{SessionID: s.ID, SellerID: sellerID, Event: "close"})
	e.log.SessionLogger(budgetID, sellerID).Info("Session closed").
		Str("session_id", s.ID).
		Int("modifications", len(s.Modifications)).
		Send()
	return s, nil
}

// GetSession returns the budget's active session
func (e *Engine) GetSession(budgetID string) (*session.Session, bool) {
	return e.sessions.Get(budgetID)
}
