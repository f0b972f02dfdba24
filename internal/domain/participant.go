package domain

import "time"

// RemoteParticipant is a peer reported by the transport.
// No transport or lifecycle logic here.
type RemoteParticipant struct {
	ID       ParticipantID `json:"id"`
	JoinedAt time.Time     `json:"joined_at"`
	Active   bool          `json:"active"`
}
