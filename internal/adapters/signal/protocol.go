package signal

import "encoding/json"

// Message types exchanged with the signaling server.
const (
	TypeJoin      = "join"
	TypeLeave     = "leave"
	TypePing      = "ping"
	TypeMute      = "mute"
	TypeVideo     = "video"
	TypeRenew     = "renew"
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"

	TypeJoined       = "joined"
	TypeLeft         = "left"
	TypePong         = "pong"
	TypeMemberJoined = "member_joined"
	TypeMemberLeft   = "member_left"
	TypeConnection   = "connection"
	TypeTokenExpiry  = "token_expiring"
	TypeAudioState   = "audio_state"
	TypeVideoState   = "video_state"
	TypeError        = "error"
)

// Message is the single envelope used in both directions. Only the fields
// relevant to Type are set.
type Message struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	UID     string `json:"uid,omitempty"`
	Token   string `json:"token,omitempty"`

	Muted   *bool `json:"muted,omitempty"`
	Enabled *bool `json:"enabled,omitempty"`

	State  string `json:"state,omitempty"`
	Reason string `json:"reason,omitempty"`
	Code   int    `json:"code,omitempty"`

	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

func Bool(v bool) *bool { return &v }

func decode(data []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(data, &m)
	return m, err
}
