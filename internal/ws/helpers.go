package ws

import (
	"crypto/rand"
	"encoding/hex"
)

// newConnID mints an opaque id for correlating ws lifecycle events.
func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
