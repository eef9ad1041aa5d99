// Package store layers typed session and ledger persistence over a raw
// domain.StateStore.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openperps/perpdesk/internal/crypto"
	"github.com/openperps/perpdesk/internal/domain"
)

// DefaultKey is the state key a single-account install persists under.
const DefaultKey = "perpdesk/state"

// Document is the persisted record for one install: the signed-in session,
// the simulated ledger, and the encrypted signing seed when a passphrase is
// configured. It is written as one blob so readers always see a consistent
// snapshot.
type Document struct {
	Session         *domain.Session   `json:"session,omitempty"`
	SimLedger       *domain.SimLedger `json:"simLedger,omitempty"`
	EncryptedSecret json.RawMessage   `json:"encryptedSecret,omitempty"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// Repository reads and writes the Document through a StateStore. When a
// passphrase is set the session secret is encrypted at rest and stripped
// from the session JSON.
type Repository struct {
	mu         sync.Mutex
	kv         domain.StateStore
	key        string
	passphrase string
	now        func() time.Time
}

// NewRepository creates a Repository over kv. An empty key selects
// DefaultKey; an empty passphrase stores the session secret in the clear.
func NewRepository(kv domain.StateStore, key, passphrase string) *Repository {
	if key == "" {
		key = DefaultKey
	}
	return &Repository{kv: kv, key: key, passphrase: passphrase, now: time.Now}
}

// LoadSession returns the persisted session with its secret restored, or
// domain.ErrNotFound when no session has been saved.
func (r *Repository) LoadSession(ctx context.Context) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	if doc.Session == nil {
		return domain.Session{}, domain.ErrNotFound
	}

	sess := *doc.Session
	if len(doc.EncryptedSecret) > 0 {
		if r.passphrase == "" {
			return domain.Session{}, errors.New("store: session secret is encrypted and no passphrase is configured")
		}
		seed, err := crypto.DecryptSeed(doc.EncryptedSecret, r.passphrase)
		if err != nil {
			return domain.Session{}, fmt.Errorf("store: decrypt session secret: %w", err)
		}
		sess.Secret = seed
	}
	return sess, nil
}

// SaveSession persists sess, preserving any saved ledger. With a
// passphrase configured the secret is written only in encrypted form.
func (r *Repository) SaveSession(ctx context.Context, sess domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load(ctx)
	if err != nil {
		return err
	}

	stored := sess
	doc.EncryptedSecret = nil
	if r.passphrase != "" && sess.Secret != "" {
		blob, err := crypto.EncryptSeed(sess.Secret, r.passphrase)
		if err != nil {
			return fmt.Errorf("store: encrypt session secret: %w", err)
		}
		doc.EncryptedSecret = blob
		stored.Secret = ""
	}
	doc.Session = &stored

	return r.flush(ctx, doc)
}

// LoadSimLedger returns the persisted simulated ledger, or
// domain.ErrNotFound when none has been saved yet.
func (r *Repository) LoadSimLedger(ctx context.Context) (domain.SimLedger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load(ctx)
	if err != nil {
		return domain.SimLedger{}, err
	}
	if doc.SimLedger == nil {
		return domain.SimLedger{}, domain.ErrNotFound
	}
	return *doc.SimLedger, nil
}

// SaveSimLedger persists ledger, preserving any saved session.
func (r *Repository) SaveSimLedger(ctx context.Context, ledger domain.SimLedger) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load(ctx)
	if err != nil {
		return err
	}
	doc.SimLedger = &ledger
	return r.flush(ctx, doc)
}

// Purge deletes the whole persisted document: session, secret, and ledger.
func (r *Repository) Purge(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.kv.Delete(ctx, r.key); err != nil {
		return fmt.Errorf("store: purge: %w", err)
	}
	return nil
}

func (r *Repository) load(ctx context.Context) (Document, error) {
	data, err := r.kv.Get(ctx, r.key)
	if errors.Is(err, domain.ErrNotFound) {
		return Document{}, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("store: load: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("store: decode document: %w", err)
	}
	return doc, nil
}

func (r *Repository) flush(ctx context.Context, doc Document) error {
	doc.UpdatedAt = r.now().UTC()

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: encode document: %w", err)
	}
	if err := r.kv.Put(ctx, r.key, data); err != nil {
		return fmt.Errorf("store: save: %w", err)
	}
	return nil
}
