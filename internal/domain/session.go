package domain

import "time"

// SessionTTL is how long an authentication stays fresh before the user
// must re-assert their passkey.
const SessionTTL = 24 * time.Hour

// Session is the locally persisted identity for one registered passkey.
// Secret holds the hex-encoded signing seed derived from the credential;
// it never leaves the local store.
type Session struct {
	UserID       string    `json:"userId"`
	Username     string    `json:"username"`
	CredentialID string    `json:"credentialId"`
	PublicKey    string    `json:"publicKey"`
	Secret       string    `json:"secret,omitempty"`
	ContractID   string    `json:"contractId"`
	LastAuth     time.Time `json:"lastAuth"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Valid reports whether the session was authenticated within SessionTTL
// of now. A session with no credential or no recorded authentication is
// never valid.
func (s Session) Valid(now time.Time) bool {
	if s.CredentialID == "" || s.LastAuth.IsZero() {
		return false
	}
	return now.Sub(s.LastAuth) < SessionTTL
}

// Address returns the on-ledger account address derived from the
// session keypair.
func (s Session) Address() string {
	return s.PublicKey
}
