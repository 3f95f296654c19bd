package session

import (
	"crypto/sha256"
	"encoding/hex"
)

// Credential identifies the subscriber account. The secret is held in an
// unexported field so it cannot leak through struct printing or
// serialization; it is read back only through Secret().
type Credential struct {
	Username      string
	InstitutionID string
	secret        string
}

// NewCredential builds a Credential. The secret is never logged or
// persisted in cleartext.
func NewCredential(username, institutionID, secret string) Credential {
	return Credential{Username: username, InstitutionID: institutionID, secret: secret}
}

// Secret returns the password for use by a login flow.
func (c Credential) Secret() string { return c.secret }

// Key derives a stable identity for the credential, used to key the
// persisted session blob. The secret is deliberately not part of it.
func (c Credential) Key() string {
	sum := sha256.Sum256([]byte(c.Username + "\x00" + c.InstitutionID))
	return hex.EncodeToString(sum[:16])
}

// String renders the credential with the secret redacted.
func (c Credential) String() string {
	return "credential(" + c.Username + "/" + c.InstitutionID + ")"
}
