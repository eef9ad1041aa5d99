package passkey

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openperps/perpdesk/internal/config"
	"github.com/openperps/perpdesk/internal/crypto"
	"github.com/openperps/perpdesk/internal/domain"
)

type fakeRepo struct {
	mu     sync.Mutex
	sess   domain.Session
	has    bool
	saves  int
	purges int
}

func (r *fakeRepo) LoadSession(ctx context.Context) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.has {
		return domain.Session{}, domain.ErrNotFound
	}
	return r.sess, nil
}

func (r *fakeRepo) SaveSession(ctx context.Context, s domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sess, r.has = s, true
	r.saves++
	return nil
}

func (r *fakeRepo) Purge(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sess, r.has = domain.Session{}, false
	r.purges++
	return nil
}

type fakeFunder struct {
	calls int
	last  string
	err   error
}

func (f *fakeFunder) FundAccount(ctx context.Context, address string) error {
	f.calls++
	f.last = address
	return f.err
}

func newTestService(t *testing.T) (*Service, *LocalAuthenticator, *fakeRepo, *fakeFunder) {
	t.Helper()
	auth := NewLocalAuthenticator()
	repo := &fakeRepo{}
	funder := &fakeFunder{}
	cfg := config.Defaults().Passkey
	svc := NewService(auth, repo, funder, cfg, "CCONTRACT", slog.New(slog.DiscardHandler))
	return svc, auth, repo, funder
}

func TestRegisterCreatesSession(t *testing.T) {
	svc, auth, repo, funder := newTestService(t)

	sess, err := svc.Register(context.Background(), "alice")
	require.NoError(t, err)

	require.NotEmpty(t, sess.UserID)
	require.NotEmpty(t, sess.CredentialID)
	require.Equal(t, "alice", sess.Username)
	require.Equal(t, "CCONTRACT", sess.ContractID)
	require.False(t, sess.LastAuth.IsZero())

	kp := crypto.DeriveKeypair(sess.CredentialID, sess.UserID)
	require.Equal(t, kp.PublicKeyHex(), sess.PublicKey, "keypair must derive from credential and user id")
	require.Equal(t, kp.SeedHex(), sess.Secret)

	require.Equal(t, 1, auth.CreateCalls())
	require.Equal(t, 1, repo.saves)
	require.Equal(t, 1, funder.calls)
	require.Equal(t, sess.Address(), funder.last)
}

func TestRegisterDefaultsUsername(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	sess, err := svc.Register(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, defaultUsername, sess.Username)
}

func TestRegisterUnsupportedPlatform(t *testing.T) {
	svc, auth, repo, _ := newTestService(t)
	auth.SetAvailable(false)

	_, err := svc.Register(context.Background(), "alice")
	require.ErrorIs(t, err, domain.ErrUnsupportedPlatform)
	require.Zero(t, repo.saves)
}

func TestRegisterUserCancelled(t *testing.T) {
	svc, auth, repo, _ := newTestService(t)
	auth.FailNext(domain.ErrUserCancelled)

	_, err := svc.Register(context.Background(), "alice")
	require.ErrorIs(t, err, domain.ErrUserCancelled)
	require.Zero(t, repo.saves)
}

func TestRegisterWrapsCeremonyFailure(t *testing.T) {
	svc, auth, _, _ := newTestService(t)
	auth.FailNext(errors.New("attestation blob rejected"))

	_, err := svc.Register(context.Background(), "alice")
	require.ErrorIs(t, err, domain.ErrRegistrationFailed)
	require.Contains(t, err.Error(), "attestation blob rejected")
}

func TestRegisterSurvivesFundingFailure(t *testing.T) {
	svc, _, repo, funder := newTestService(t)
	funder.err = errors.New("faucet down")

	_, err := svc.Register(context.Background(), "alice")
	require.NoError(t, err, "funding is best-effort")
	require.Equal(t, 1, repo.saves)
}

func TestAuthenticateNoCredential(t *testing.T) {
	svc, auth, _, _ := newTestService(t)

	_, err := svc.Authenticate(context.Background())
	require.ErrorIs(t, err, domain.ErrNoCredential)
	require.Zero(t, auth.GetCalls(), "no ceremony without a stored credential")
}

func TestAuthenticateFreshSessionSkipsPrompt(t *testing.T) {
	svc, auth, _, _ := newTestService(t)

	reg, err := svc.Register(context.Background(), "alice")
	require.NoError(t, err)

	got, err := svc.Authenticate(context.Background())
	require.NoError(t, err)
	require.Equal(t, reg.UserID, got.UserID)
	require.Zero(t, auth.GetCalls(), "fresh session must not prompt")
}

func TestAuthenticateStaleSessionPrompts(t *testing.T) {
	svc, auth, repo, _ := newTestService(t)

	reg, err := svc.Register(context.Background(), "alice")
	require.NoError(t, err)

	// Jump past the session TTL.
	future := reg.LastAuth.Add(domain.SessionTTL + time.Minute)
	svc.now = func() time.Time { return future }

	got, err := svc.Authenticate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, auth.GetCalls())
	require.True(t, got.LastAuth.After(reg.LastAuth), "authentication must refresh the session")
	require.True(t, repo.sess.LastAuth.Equal(got.LastAuth), "refreshed session must be persisted")
}

func TestAuthenticateStaleCancelKeepsSessionStale(t *testing.T) {
	svc, auth, repo, _ := newTestService(t)

	reg, err := svc.Register(context.Background(), "alice")
	require.NoError(t, err)

	svc.now = func() time.Time { return reg.LastAuth.Add(domain.SessionTTL + time.Minute) }
	auth.FailNext(domain.ErrUserCancelled)

	_, err = svc.Authenticate(context.Background())
	require.ErrorIs(t, err, domain.ErrUserCancelled)
	require.True(t, repo.sess.LastAuth.Equal(reg.LastAuth), "cancelled assertion must not refresh")
}

func TestSignOutPurges(t *testing.T) {
	svc, _, repo, _ := newTestService(t)

	_, err := svc.Register(context.Background(), "alice")
	require.NoError(t, err)

	require.NoError(t, svc.SignOut(context.Background()))
	require.Equal(t, 1, repo.purges)

	_, err = svc.Current(context.Background())
	require.ErrorIs(t, err, domain.ErrNoCredential)
}
