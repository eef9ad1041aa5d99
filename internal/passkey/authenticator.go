// Package passkey handles credential ceremonies against a platform
// authenticator and turns the results into persisted ledger sessions.
package passkey

import (
	"context"
	"time"
)

// CreationOptions parameterize a credential creation ceremony.
type CreationOptions struct {
	Challenge        []byte
	RPID             string
	RPName           string
	UserID           string
	Username         string
	UserVerification string
	Timeout          time.Duration
}

// Credential is the authenticator's answer to a creation ceremony.
type Credential struct {
	// ID is the base64url-encoded credential identifier.
	ID string
	// PublicKey is the authenticator's attested public key blob. The
	// service stores it for audit but derives the ledger keypair from
	// the credential identity, not from this key.
	PublicKey []byte
}

// RequestOptions parameterize an assertion ceremony. AllowCredentials
// scopes the ceremony to already-registered credential IDs.
type RequestOptions struct {
	Challenge        []byte
	RPID             string
	AllowCredentials []string
	UserVerification string
	Timeout          time.Duration
}

// Assertion is the authenticator's answer to a request ceremony.
type Assertion struct {
	CredentialID string
	Signature    []byte
}

// Authenticator abstracts the platform authenticator. The local
// implementation answers in-process; the remote implementation relays
// ceremonies to a browser over the API.
type Authenticator interface {
	// Available reports whether a platform authenticator can serve
	// ceremonies right now.
	Available(ctx context.Context) bool
	Create(ctx context.Context, opts CreationOptions) (Credential, error)
	Get(ctx context.Context, opts RequestOptions) (Assertion, error)
}
