package app

import "errors"

// ErrVoiceBusy means the guild's voice sink is already fed by a different
// session. The operator has to disconnect and reconnect to take it over.
var ErrVoiceBusy = errors.New("voice sink busy with another session")

// AttachStatus distinguishes a fresh voice attach from an idempotent repeat.
type AttachStatus int

const (
	AttachedFresh AttachStatus = iota
	AttachedAlready
)
