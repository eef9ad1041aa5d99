package passkey

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openperps/perpdesk/internal/config"
	"github.com/openperps/perpdesk/internal/crypto"
	"github.com/openperps/perpdesk/internal/domain"
)

// defaultUsername is used when registration is requested without a name.
const defaultUsername = "trader"

// SessionRepository loads and persists the session slice of the state
// document.
type SessionRepository interface {
	LoadSession(ctx context.Context) (domain.Session, error)
	SaveSession(ctx context.Context, s domain.Session) error
	Purge(ctx context.Context) error
}

// AccountFunder provisions a freshly derived account on the ledger.
// Funding is idempotent on the ledger side; funding an account that
// already exists is a no-op.
type AccountFunder interface {
	FundAccount(ctx context.Context, address string) error
}

// Service runs credential ceremonies and maintains the persisted
// session.
type Service struct {
	auth       Authenticator
	sessions   SessionRepository
	funder     AccountFunder
	cfg        config.PasskeyConfig
	contractID string
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a Service. funder may be nil, in which case
// registration skips account provisioning.
func NewService(
	auth Authenticator,
	sessions SessionRepository,
	funder AccountFunder,
	cfg config.PasskeyConfig,
	contractID string,
	logger *slog.Logger,
) *Service {
	return &Service{
		auth:       auth,
		sessions:   sessions,
		funder:     funder,
		cfg:        cfg,
		contractID: contractID,
		logger:     logger,
		now:        time.Now,
	}
}

// Register runs a creation ceremony, derives the ledger keypair from the
// resulting credential, persists the session, and provisions the account
// on the ledger. Provisioning failures are logged, not returned; the
// account can still be funded later.
func (s *Service) Register(ctx context.Context, username string) (domain.Session, error) {
	if username == "" {
		username = defaultUsername
	}
	if !s.auth.Available(ctx) {
		return domain.Session{}, domain.ErrUnsupportedPlatform
	}

	userID := uuid.NewString()
	challenge, err := newChallenge()
	if err != nil {
		return domain.Session{}, err
	}

	cred, err := s.auth.Create(ctx, CreationOptions{
		Challenge:        challenge,
		RPID:             s.cfg.RPID,
		RPName:           s.cfg.RPName,
		UserID:           userID,
		Username:         username,
		UserVerification: "required",
		Timeout:          s.cfg.Timeout.Duration,
	})
	if err != nil {
		if errors.Is(err, domain.ErrUserCancelled) || errors.Is(err, domain.ErrUnsupportedPlatform) {
			return domain.Session{}, err
		}
		return domain.Session{}, fmt.Errorf("passkey: create ceremony: %v: %w", err, domain.ErrRegistrationFailed)
	}

	kp := crypto.DeriveKeypair(cred.ID, userID)
	now := s.now().UTC()
	sess := domain.Session{
		UserID:       userID,
		Username:     username,
		CredentialID: cred.ID,
		PublicKey:    kp.PublicKeyHex(),
		Secret:       kp.SeedHex(),
		ContractID:   s.contractID,
		LastAuth:     now,
		CreatedAt:    now,
	}
	if err := s.sessions.SaveSession(ctx, sess); err != nil {
		return domain.Session{}, fmt.Errorf("passkey: persist session: %w", err)
	}

	if s.funder != nil {
		if err := s.funder.FundAccount(ctx, sess.Address()); err != nil {
			s.logger.WarnContext(ctx, "passkey: account funding failed",
				slog.String("address", sess.Address()),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "passkey: registered",
		slog.String("user_id", userID),
		slog.String("username", username),
		slog.String("address", sess.Address()),
	)

	return sess, nil
}

// Authenticate returns the persisted session, running an assertion
// ceremony only when the session has gone stale. A fresh session
// short-circuits without prompting.
func (s *Service) Authenticate(ctx context.Context) (domain.Session, error) {
	sess, err := s.sessions.LoadSession(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Session{}, domain.ErrNoCredential
		}
		return domain.Session{}, fmt.Errorf("passkey: load session: %w", err)
	}

	now := s.now().UTC()
	if sess.Valid(now) {
		return sess, nil
	}

	challenge, err := newChallenge()
	if err != nil {
		return domain.Session{}, err
	}

	if _, err := s.auth.Get(ctx, RequestOptions{
		Challenge:        challenge,
		RPID:             s.cfg.RPID,
		AllowCredentials: []string{sess.CredentialID},
		UserVerification: "required",
		Timeout:          s.cfg.Timeout.Duration,
	}); err != nil {
		if errors.Is(err, domain.ErrUserCancelled) {
			return domain.Session{}, err
		}
		return domain.Session{}, fmt.Errorf("passkey: assertion: %v: %w", err, domain.ErrUnauthenticated)
	}

	sess.LastAuth = now
	if err := s.sessions.SaveSession(ctx, sess); err != nil {
		return domain.Session{}, fmt.Errorf("passkey: persist session: %w", err)
	}

	s.logger.InfoContext(ctx, "passkey: authenticated",
		slog.String("user_id", sess.UserID),
	)

	return sess, nil
}

// Current returns the persisted session without running any ceremony.
func (s *Service) Current(ctx context.Context) (domain.Session, error) {
	sess, err := s.sessions.LoadSession(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Session{}, domain.ErrNoCredential
	}
	return sess, err
}

// SignOut destroys the persisted session and everything stored with it.
func (s *Service) SignOut(ctx context.Context) error {
	if err := s.sessions.Purge(ctx); err != nil {
		return fmt.Errorf("passkey: purge session: %w", err)
	}
	s.logger.InfoContext(ctx, "passkey: signed out")
	return nil
}

// newChallenge returns 32 bytes of ceremony entropy.
func newChallenge() ([]byte, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("passkey: generating challenge: %w", err)
	}
	return b, nil
}
