package passkey

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/openperps/perpdesk/internal/domain"
)

// LocalAuthenticator is an in-process software authenticator. It runs
// real Create/Get ceremonies without a browser, which is what demo
// deployments and tests use. Credential private keys live in process
// memory only.
type LocalAuthenticator struct {
	mu        sync.Mutex
	creds     map[string]ed25519.PrivateKey // credential ID -> credential key
	available bool
	nextErr   error

	createCalls int
	getCalls    int
}

// NewLocalAuthenticator returns an available authenticator with no
// registered credentials.
func NewLocalAuthenticator() *LocalAuthenticator {
	return &LocalAuthenticator{
		creds:     make(map[string]ed25519.PrivateKey),
		available: true,
	}
}

var _ Authenticator = (*LocalAuthenticator)(nil)

// Available reports whether the authenticator will serve ceremonies.
func (a *LocalAuthenticator) Available(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.available
}

// SetAvailable toggles availability, simulating a platform without
// passkey support.
func (a *LocalAuthenticator) SetAvailable(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.available = v
}

// FailNext makes the next ceremony fail with err. Passing
// domain.ErrUserCancelled simulates the user dismissing the prompt.
func (a *LocalAuthenticator) FailNext(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextErr = err
}

// CreateCalls returns how many creation ceremonies have been requested.
func (a *LocalAuthenticator) CreateCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.createCalls
}

// GetCalls returns how many assertion ceremonies have been requested.
func (a *LocalAuthenticator) GetCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.getCalls
}

// Create mints a fresh credential scoped to the relying party and
// returns its identifier and public key.
func (a *LocalAuthenticator) Create(ctx context.Context, opts CreationOptions) (Credential, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.createCalls++

	if err := a.ceremonyGate(ctx, opts.RPID, opts.Challenge); err != nil {
		return Credential{}, err
	}

	idBytes := make([]byte, 32)
	if _, err := rand.Read(idBytes); err != nil {
		return Credential{}, fmt.Errorf("passkey: generating credential id: %w", err)
	}
	id := base64.RawURLEncoding.EncodeToString(idBytes)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Credential{}, fmt.Errorf("passkey: generating credential key: %w", err)
	}
	a.creds[id] = priv

	return Credential{ID: id, PublicKey: pub}, nil
}

// Get answers an assertion ceremony for one of the allowed credentials.
// A credential this process has not seen is still honored when the
// caller's store vouches for it (AllowCredentials); the ceremony result,
// not the signature, is what the service consumes, and a restarted demo
// process must keep serving sessions it persisted earlier.
func (a *LocalAuthenticator) Get(ctx context.Context, opts RequestOptions) (Assertion, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.getCalls++

	if err := a.ceremonyGate(ctx, opts.RPID, opts.Challenge); err != nil {
		return Assertion{}, err
	}
	if len(opts.AllowCredentials) == 0 {
		return Assertion{}, domain.ErrNoCredential
	}

	id := opts.AllowCredentials[0]
	if priv, ok := a.creds[id]; ok {
		return Assertion{CredentialID: id, Signature: ed25519.Sign(priv, opts.Challenge)}, nil
	}
	return Assertion{CredentialID: id}, nil
}

// ceremonyGate applies the checks shared by both ceremonies. Callers
// must hold a.mu.
func (a *LocalAuthenticator) ceremonyGate(ctx context.Context, rpID string, challenge []byte) error {
	if err := a.nextErr; err != nil {
		a.nextErr = nil
		return err
	}
	if !a.available {
		return domain.ErrUnsupportedPlatform
	}
	if ctx.Err() != nil {
		return domain.ErrUserCancelled
	}
	if rpID == "" {
		return fmt.Errorf("passkey: relying party id is required")
	}
	if len(challenge) == 0 {
		return fmt.Errorf("passkey: challenge is required")
	}
	return nil
}
