/*
Package randx generates the opaque identifiers handed out by the relay.
*/
package randx

import (
	"github.com/google/uuid"
)

// MessageID returns a new UUIDv4 for a chat or private message.
func MessageID() string {
	return uuid.NewString()
}

// ConnectionID returns a short tag for a transport in logs, available before
// the hub assigns it a ConnID.
func ConnectionID() string {
	return "c_" + uuid.NewString()[:8]
}
