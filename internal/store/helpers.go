package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewCheckCode returns a short hex fingerprint for a new check's Code
// field (spec §3 ambient identifiers note): a read-only badge/ping-URL
// slug distinct from the check's UUID.
func NewCheckCode() string {
	return randomID()
}

func randomID() string {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return fmt.Sprintf("id-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(raw[:])
}
