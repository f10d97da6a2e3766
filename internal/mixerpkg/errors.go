package mixerpkg

import "errors"

// Sentinel errors mapped to package status codes by StatusCode, which Control
// uses for its returned code (§7 "payload-level" error taxonomy).
var (
	ErrIDCollision      = errors.New("mixerpkg: id already in use")       // 405
	ErrAudioMixingMissing = errors.New("mixerpkg: audio-mixing element required") // 421
	ErrUnknownConference  = errors.New("mixerpkg: unknown conference")    // 406
	ErrStreamConfig       = errors.New("mixerpkg: invalid stream config") // 407
	ErrAlreadyJoined      = errors.New("mixerpkg: already joined")        // 408
	ErrNotJoined          = errors.New("mixerpkg: not joined")            // 409
	ErrCannotJoin         = errors.New("mixerpkg: cannot join")           // 411/426
	ErrNoSuchConnection   = errors.New("mixerpkg: no such connection")    // 412
	ErrForbidden          = errors.New("mixerpkg: owned by a different client") // 403
)

// StatusCode maps a mixerpkg sentinel (or nil) to the CFW/package status
// code described in SPEC_FULL.md §4.7.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return 200
	case errors.Is(err, ErrIDCollision):
		return 405
	case errors.Is(err, ErrUnknownConference):
		return 406
	case errors.Is(err, ErrStreamConfig):
		return 407
	case errors.Is(err, ErrAlreadyJoined):
		return 408
	case errors.Is(err, ErrNotJoined):
		return 409
	case errors.Is(err, ErrCannotJoin):
		return 411
	case errors.Is(err, ErrNoSuchConnection):
		return 412
	case errors.Is(err, ErrAudioMixingMissing):
		return 421
	case errors.Is(err, ErrForbidden):
		return 403
	default:
		return 500
	}
}
