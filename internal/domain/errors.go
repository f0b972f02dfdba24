package domain

import "errors"

var (
	ErrChannelEmpty       = errors.New("channel name empty")
	ErrChannelTooLong     = errors.New("channel name too long")
	ErrParticipantEmpty   = errors.New("participant id empty")
	ErrParticipantTooLong = errors.New("participant id too long")
)

// Session error taxonomy.
var (
	ErrAlreadyInSession  = errors.New("already in session")
	ErrNotInSession      = errors.New("not in session")
	ErrJoinFailed        = errors.New("join failed")
	ErrConnectionLost    = errors.New("connection lost")
	ErrCredentialExpired = errors.New("credential expired")
	ErrMuteStateConflict = errors.New("mute state conflict")
	ErrTeardownTimeout   = errors.New("teardown timeout")
	ErrBudgetExhausted   = errors.New("session budget exhausted")
	ErrControllerStopped = errors.New("session controller stopped")
)
