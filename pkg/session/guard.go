// ABOUTME: Session Stability Guard: fields shown to a customer stay put until unlocked
// ABOUTME: One session per budget, owned by one seller, closed on request or inactivity

package session

import (
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nainya/budgetstore/pkg/change"
	"github.com/nainya/budgetstore/pkg/errs"
)

// DefaultTimeout closes sessions idle for longer than this
const DefaultTimeout = 30 * time.Minute

// linePrefix groups changes per package line
const linePrefix = "packages."

type State string

const (
	StateActive State = "active"
	StateClosed State = "closed"
)

// Modification records one Update call
type Modification struct {
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Session is a seller's negotiation window on one budget
type Session struct {
	ID            string         `json:"id"`
	BudgetID      string         `json:"budget_id"`
	SellerID      string         `json:"seller_id"`
	State         State          `json:"state"`
	LockedData    map[string]any `json:"locked_data"`
	Modifications []Modification `json:"modifications"`
	StartedAt     time.Time      `json:"started_at"`
	LastActivity  time.Time      `json:"last_activity"`
	ClosedAt      time.Time      `json:"closed_at,omitzero"`
}

func (s *Session) clone() *Session {
	c := *s
	c.LockedData = maps.Clone(s.LockedData)
	c.Modifications = append([]Modification(nil), s.Modifications...)
	return &c
}

// Guard tracks sessions for every budget. Safe for concurrent use.
type Guard struct {
	mu       sync.Mutex
	sessions map[string]*Session
	timeout  time.Duration
	now      func() time.Time
}

// NewGuard creates a guard; a non-positive timeout selects DefaultTimeout
func NewGuard(timeout time.Duration) *Guard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Guard{
		sessions: make(map[string]*Session),
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// active returns the budget's live session, closing it first if it timed out.
// Caller holds g.mu.
func (g *Guard) active(budgetID string) *Session {
	s, ok := g.sessions[budgetID]
	if !ok || s.State != StateActive {
		return nil
	}
	now := g.now()
	if now.Sub(s.LastActivity) > g.timeout {
		s.State = StateClosed
		s.ClosedAt = now
		s.LockedData = map[string]any{}
		return nil
	}
	return s
}

// owned returns the active session if sellerID owns it. Caller holds g.mu.
func (g *Guard) owned(budgetID, sellerID string) (*Session, error) {
	s := g.active(budgetID)
	if s == nil {
		return nil, fmt.Errorf("%w: no active session for budget %s", errs.ErrNotFound, budgetID)
	}
	if s.SellerID != sellerID {
		return nil, fmt.Errorf("%w: budget %s is held by seller %s", errs.ErrSessionConflict, budgetID, s.SellerID)
	}
	return s, nil
}

// Start opens a session, or returns the seller's existing one
func (g *Guard) Start(budgetID, sellerID string) (*Session, error) {
	if budgetID == "" || sellerID == "" {
		return nil, fmt.Errorf("%w: budget and seller are required", errs.ErrInvalidArgument)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if s := g.active(budgetID); s != nil {
		if s.SellerID != sellerID {
			return nil, fmt.Errorf("%w: budget %s is held by seller %s", errs.ErrSessionConflict, budgetID, s.SellerID)
		}
		s.LastActivity = now
		return s.clone(), nil
	}

	s := &Session{
		ID:            uuid.NewString(),
		BudgetID:      budgetID,
		SellerID:      sellerID,
		State:         StateActive,
		LockedData:    map[string]any{},
		Modifications: []Modification{},
		StartedAt:     now,
		LastActivity:  now,
	}
	g.sessions[budgetID] = s
	return s.clone(), nil
}

// Lock marks fields as shown to the customer
func (g *Guard) Lock(budgetID, sellerID string, fields map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, err := g.owned(budgetID, sellerID)
	if err != nil {
		return err
	}
	maps.Copy(s.LockedData, fields)
	s.LastActivity = g.now()
	return nil
}

// Unlock releases fields; a field also releases everything below it
func (g *Guard) Unlock(budgetID, sellerID string, fields ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, err := g.owned(budgetID, sellerID)
	if err != nil {
		return err
	}
	for _, f := range fields {
		for locked := range s.LockedData {
			if covers(f, locked) {
				delete(s.LockedData, locked)
			}
		}
	}
	s.LastActivity = g.now()
	return nil
}

// Update records a modification the seller made and locks its fields
func (g *Guard) Update(budgetID, sellerID string, data map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, err := g.owned(budgetID, sellerID)
	if err != nil {
		return err
	}
	now := g.now()
	s.Modifications = append(s.Modifications, Modification{Timestamp: now, Data: maps.Clone(data)})
	maps.Copy(s.LockedData, data)
	s.LastActivity = now
	return nil
}

// Close ends the session and drops its locks. Applied changes stay.
func (g *Guard) Close(budgetID, sellerID string) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, err := g.owned(budgetID, sellerID)
	if err != nil {
		return nil, err
	}
	s.State = StateClosed
	s.ClosedAt = g.now()
	s.LockedData = map[string]any{}
	return s.clone(), nil
}

// Get returns a copy of the budget's active session
func (g *Guard) Get(budgetID string) (*Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.active(budgetID)
	if s == nil {
		return nil, false
	}
	return s.clone(), true
}

// Sweep forgets closed and timed-out sessions and returns how many went
func (g *Guard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for id := range g.sessions {
		if g.active(id) == nil {
			delete(g.sessions, id)
			removed++
		}
	}
	return removed
}

// Active counts the live sessions
func (g *Guard) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for id := range g.sessions {
		if g.active(id) != nil {
			n++
		}
	}
	return n
}

// Filter splits changes into the ones that may be applied and the ones held
// by locks. Changes to a package line travel together: if any field of the
// line is locked, every change to that line is held.
func (g *Guard) Filter(budgetID string, changes []change.Change) (allowed, held []change.Change) {
	g.mu.Lock()
	var locked []string
	if s := g.active(budgetID); s != nil {
		for k := range s.LockedData {
			locked = append(locked, k)
		}
	}
	g.mu.Unlock()

	allowed = []change.Change{}
	held = []change.Change{}
	if len(locked) == 0 {
		return append(allowed, changes...), held
	}
	sort.Strings(locked)

	heldLine := make(map[string]bool)
	for _, c := range changes {
		if line := lineOf(c.Field); line != "" && touchesAny(line, locked) {
			heldLine[line] = true
		}
	}
	for _, c := range changes {
		line := lineOf(c.Field)
		switch {
		case line != "" && heldLine[line]:
			held = append(held, c)
		case line == "" && touchesAny(c.Field, locked):
			held = append(held, c)
		default:
			allowed = append(allowed, c)
		}
	}
	return allowed, held
}

// lineOf returns "packages.<id>" for paths inside a package line
func lineOf(field string) string {
	if !strings.HasPrefix(field, linePrefix) {
		return ""
	}
	rest := field[len(linePrefix):]
	if i := strings.IndexByte(rest, '.'); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return ""
	}
	return linePrefix + rest
}

// covers reports whether a lock on p protects field
func covers(p, field string) bool {
	return field == p || strings.HasPrefix(field, p+".")
}

// touchesAny reports whether writing path would disturb a locked field:
// either a lock covers path, or path contains a locked field
func touchesAny(path string, locked []string) bool {
	for _, p := range locked {
		if covers(p, path) || covers(path, p) {
			return true
		}
	}
	return false
}
