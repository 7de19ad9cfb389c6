package answer

import (
	"crypto/sha256"
	"encoding/hex"
)

// DomainAnswer separates answer digests from any other hash in the system.
const DomainAnswer = "answersync/answer/v1"

// Digest returns the content digest of a payload:
// hex(SHA256(domain || 0x00 || canonical(payload))).
//
// Two submissions of the same answer share a digest even when their
// formatting differs, which lets the store keep the idempotency key of an
// entry that is overwritten with identical content. A payload without a
// canonical form is hashed as is.
func Digest(p Payload) string {
	body, err := Canonicalize(p)
	if err != nil {
		body = p
	}
	h := sha256.New()
	h.Write([]byte(DomainAnswer))
	h.Write([]byte{0x00})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
