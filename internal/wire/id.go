package wire

import "github.com/google/uuid"

// NewID generates a fresh suiteId/runnerId. The wire header field is 14
// ASCII bytes, so a uuid string is shortened to its first 14 characters
// (13 hex digits and the first hyphen) —
// collisions are not a concern at the scale of one process's live suites
// and runners.
func NewID() string {
	return uuid.NewString()[:idFieldLen]
}
