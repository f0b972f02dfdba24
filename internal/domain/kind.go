package domain

import "time"

// Kind tells the controller who is on the other side of a session.
// It is a closed set: HumanCall or BudgetedAgentSession.
type Kind interface {
	// RemoteParty identifies the expected remote side (user id or agent id).
	RemoteParty() string
	// Budget is the total active time allowed, zero meaning unlimited.
	Budget() time.Duration
	kind()
}

// HumanCall is a call with another person.
type HumanCall struct {
	RemoteUserID string
}

func (h HumanCall) RemoteParty() string { return h.RemoteUserID }
func (HumanCall) Budget() time.Duration { return 0 }
func (HumanCall) kind()                 {}
func (HumanCall) String() string        { return "human" }

// BudgetedAgentSession is a session with a backend-driven agent that may
// only stay active for a fixed time budget.
type BudgetedAgentSession struct {
	AgentID   string
	MaxActive time.Duration
}

func (a BudgetedAgentSession) RemoteParty() string   { return a.AgentID }
func (a BudgetedAgentSession) Budget() time.Duration { return a.MaxActive }
func (BudgetedAgentSession) kind()                   {}
func (BudgetedAgentSession) String() string          { return "agent" }

// KindName returns a short label for logs and snapshots.
func KindName(k Kind) string {
	switch k.(type) {
	case HumanCall, *HumanCall:
		return "human"
	case BudgetedAgentSession, *BudgetedAgentSession:
		return "agent"
	default:
		return ""
	}
}
