// Package digest produces one-way, salted identifiers for audit records.
//
// The gateway's audit trail must never retain raw caller identifiers (IP
// addresses, API keys) per the GDPR data-minimization requirement. Instead
// every identifying field is reduced to an HMAC-SHA256 digest keyed by a
// server-side salt, so the stored value cannot be reversed without the salt
// and two gateways configured with different salts never produce comparable
// digests for the same caller.
package digest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Absent is the digest recorded for a field that is empty or was never
// present on the request; Digest returns it for empty input instead of
// hashing the empty string.
const Absent = "absent"

// Digester computes salted digests with a fixed, server-held salt.
type Digester struct {
	salt []byte
}

// New returns a Digester keyed by salt. The salt should be generated once
// per deployment and held secret; rotating it invalidates the ability to
// correlate previously stored digests with new ones for the same caller.
func New(salt string) *Digester {
	return &Digester{salt: []byte(salt)}
}

// Digest returns the hex-encoded HMAC-SHA256 of input keyed by the
// Digester's salt. It returns Absent if input is empty, so that callers can
// tell a missing field apart from one that happens to hash to a particular
// value.
func (d *Digester) Digest(input string) string {
	if input == "" {
		return Absent
	}
	mac := hmac.New(sha256.New, d.salt)
	mac.Write([]byte(input))
	return hex.EncodeToString(mac.Sum(nil))
}
