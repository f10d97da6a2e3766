// Package ivrpkg implements the IVR control package of SPEC_FULL.md §4.8:
// the dialog state machine, prompt timeline compiler and playback loop,
// DTMF collection against a DTMF-only SRGS grammar subset, and VAD-gated
// recording.
package ivrpkg

import "errors"

// Sentinel errors mapped to IVR payload-level status codes (§4.8, §7 item 4).
var (
	ErrIDCollision      = errors.New("ivrpkg: id already in use")             // 405
	ErrUnknownDialog    = errors.New("ivrpkg: unknown dialog")                // 406
	ErrBadStreamConfig  = errors.New("ivrpkg: invalid connection/conference") // 407
	ErrAlreadyPrepared  = errors.New("ivrpkg: already prepared")              // 408
	ErrNoSuchConnection = errors.New("ivrpkg: no such connection")            // 411
	ErrForbidden        = errors.New("ivrpkg: owned by a different client")   // 403
	ErrBadDialogXML     = errors.New("ivrpkg: malformed dialog element")      // 420
	ErrBadModelCombo    = errors.New("ivrpkg: invalid model combination")     // 421
	ErrBadPrompt        = errors.New("ivrpkg: invalid prompt timeline")       // 422
	ErrPromptFetch      = errors.New("ivrpkg: prompt fetch failed")           // 425
	ErrNotPrepared      = errors.New("ivrpkg: dialog not prepared")          // 428
	ErrWrongState       = errors.New("ivrpkg: dialog in wrong state")         // 429
	ErrBadGrammar       = errors.New("ivrpkg: unsupported grammar")           // 431
	ErrCollectRecordBoth = errors.New("ivrpkg: collect and record cannot coexist") // 433
	ErrDTMFUnsupported  = errors.New("ivrpkg: dtmf synthesis unimplemented")  // 426
	ErrControlNeedsPrompt = errors.New("ivrpkg: control requires prompt")     // 435
)

// StatusCode maps an ivrpkg sentinel (or nil) to the CFW/package status code
// described in SPEC_FULL.md §4.8.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return 200
	case errors.Is(err, ErrIDCollision):
		return 405
	case errors.Is(err, ErrUnknownDialog):
		return 406
	case errors.Is(err, ErrBadStreamConfig):
		return 407
	case errors.Is(err, ErrAlreadyPrepared):
		return 408
	case errors.Is(err, ErrNoSuchConnection):
		return 411
	case errors.Is(err, ErrBadDialogXML):
		return 420
	case errors.Is(err, ErrBadModelCombo):
		return 421
	case errors.Is(err, ErrBadPrompt):
		return 422
	case errors.Is(err, ErrDTMFUnsupported):
		return 426
	case errors.Is(err, ErrPromptFetch):
		return 425
	case errors.Is(err, ErrNotPrepared):
		return 428
	case errors.Is(err, ErrWrongState):
		return 429
	case errors.Is(err, ErrBadGrammar):
		return 431
	case errors.Is(err, ErrCollectRecordBoth):
		return 433
	case errors.Is(err, ErrControlNeedsPrompt):
		return 435
	case errors.Is(err, ErrForbidden):
		return 403
	default:
		return 500
	}
}

// ExitStatus is the dialogexit status code (§4.8).
type ExitStatus int

const (
	ExitDialogTerminate     ExitStatus = 0
	ExitSuccess             ExitStatus = 1
	ExitConnectionTerminated ExitStatus = 2
	ExitMaxDuration         ExitStatus = 3
	ExitExecutionError      ExitStatus = 4
)
