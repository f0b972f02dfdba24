package notify

import (
	"fmt"
	"time"

	"github.com/dkeye/VoiceCall/internal/domain"
)

type Kind int

const (
	JoinFailed Kind = iota + 1
	ConnectionLost
	SessionEnded
	MuteStateConflict
	CredentialExpiringSoon
	CredentialExpired
	TeardownTimeout
	BudgetExhausted
)

func (k Kind) String() string {
	switch k {
	case JoinFailed:
		return "join_failed"
	case ConnectionLost:
		return "connection_lost"
	case SessionEnded:
		return "session_ended"
	case MuteStateConflict:
		return "mute_state_conflict"
	case CredentialExpiringSoon:
		return "credential_expiring_soon"
	case CredentialExpired:
		return "credential_expired"
	case TeardownTimeout:
		return "teardown_timeout"
	case BudgetExhausted:
		return "budget_exhausted"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	for v := JoinFailed; v <= BudgetExhausted; v++ {
		if v.String() == string(b) {
			*k = v
			return nil
		}
	}
	return fmt.Errorf("unknown notification kind %q", b)
}

// Notification is a one-shot event for observers.
type Notification struct {
	Kind      Kind               `json:"kind"`
	SessionID domain.SessionID   `json:"session_id,omitempty"`
	Channel   domain.ChannelName `json:"channel,omitempty"`
	Err       error              `json:"-"`
	Message   string             `json:"message,omitempty"`
	At        time.Time          `json:"at"`
}

// Snapshot is the observable session state.
type Snapshot struct {
	SessionID          domain.SessionID           `json:"session_id,omitempty"`
	Channel            domain.ChannelName         `json:"channel,omitempty"`
	Kind               string                     `json:"kind,omitempty"`
	RemoteParty        string                     `json:"remote_party,omitempty"`
	State              domain.State               `json:"state"`
	ParticipantCount   int                        `json:"participant_count"`
	Participants       []domain.RemoteParticipant `json:"participants,omitempty"`
	Media              domain.MediaState          `json:"media"`
	CredentialExpiring bool                       `json:"credential_expiring"`
	// ReconnectAttempt and ReconnectMaxAttempts are set while reconnecting.
	ReconnectAttempt     int       `json:"reconnect_attempt,omitempty"`
	ReconnectMaxAttempts int       `json:"reconnect_max_attempts,omitempty"`
	LastError            string    `json:"last_error,omitempty"`
	Generation           uint64    `json:"generation"`
	At                   time.Time `json:"at"`
}
