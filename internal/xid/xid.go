package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns a prefixed reference id. Falls back to a purely time-based id
// if the entropy source fails.
func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// NewToken returns an opaque bearer token. The leading timestamp component
// gives rough ordering for debugging; all secrecy comes from the 32 random
// bytes after the dot.
func NewToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is effectively fatal for token issuance.
		panic(fmt.Sprintf("xid: entropy source unavailable: %v", err))
	}
	return fmt.Sprintf("%d.%s", time.Now().UTC().Unix(), hex.EncodeToString(buf))
}
