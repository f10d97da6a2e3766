package cfw

import "github.com/google/uuid"

// newEventTID mints a transaction id for an MS-initiated event. Tids must
// match [A-Za-z0-9]+ (§4.3); uuid.New().String() contains hyphens, so they
// are stripped.
func newEventTID() string {
	id := uuid.New().String()
	out := make([]byte, 0, len(id))
	for i := 0; i < len(id); i++ {
		if id[i] != '-' {
			out = append(out, id[i])
		}
	}
	return string(out)
}
