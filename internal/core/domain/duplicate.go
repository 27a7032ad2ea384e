package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DuplicateWindowEntry is the ephemeral record of an event identity seen recently.
type DuplicateWindowEntry struct {
	Key         string    `json:"key"`
	RecordID    uuid.UUID `json:"record_id"`
	FirstSeenAt time.Time `json:"first_seen_at"`
}

// Expired reports whether the entry fell out of the window at now.
func (e DuplicateWindowEntry) Expired(now time.Time, window time.Duration) bool {
	return now.Sub(e.FirstSeenAt) >= window
}

// ContentHashPrefix marks identity keys derived from the payload.
const ContentHashPrefix = "sha256:"

// BuildIdentityKey returns eventID when present, otherwise a content hash of
// the payload.
func BuildIdentityKey(eventID string, payload []byte) string {
	if id := strings.TrimSpace(eventID); id != "" {
		return id
	}
	sum := sha256.Sum256(payload)
	return ContentHashPrefix + hex.EncodeToString(sum[:])
}

// BuildDuplicateKey scopes an identity key by direction.
func BuildDuplicateKey(direction Direction, identity string) string {
	return string(direction) + ":" + identity
}
