package util

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/unicode/norm"
)

// Fingerprinter produces stable identifiers for submitted content and
// submitter identity. Content fingerprints are plain blake2b-256 so the
// same text always maps to the same value; identity fingerprints are
// keyed when a key is configured, so the blocklist file does not store
// raw addresses.
type Fingerprinter struct {
	key []byte
}

func NewFingerprinter(key []byte) *Fingerprinter {
	return &Fingerprinter{key: key}
}

// Content normalizes (NFC) and trims the text before hashing, so
// trivially re-encoded resubmissions collide on purpose.
func (f *Fingerprinter) Content(text string) string {
	canon := strings.TrimSpace(norm.NFC.String(text))
	sum := blake2b.Sum256([]byte(canon))
	return hex.EncodeToString(sum[:])
}

func (f *Fingerprinter) Identity(id string) string {
	if len(f.key) == 0 {
		sum := blake2b.Sum256([]byte(id))
		return hex.EncodeToString(sum[:16])
	}
	h, err := blake2b.New256(f.key)
	if err != nil {
		// Key length is validated at config load; this is unreachable for
		// any key that passed validation.
		sum := blake2b.Sum256([]byte(id))
		return hex.EncodeToString(sum[:16])
	}
	h.Write([]byte(id))
	return hex.EncodeToString(h.Sum(nil)[:16])
}
