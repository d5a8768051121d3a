// Package wallet implements the identity-owner side of the handshake: persona
// management, app registration, claim issuance and the refresh listener.
package wallet

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"akasha-id/go-wallet/internal/account"
	"akasha-id/go-wallet/internal/hub"
	"akasha-id/go-wallet/internal/ident"
	"akasha-id/go-wallet/internal/leader"
	"akasha-id/go-wallet/internal/platform/ratelimiter"
	"akasha-id/go-wallet/pkg/models"
)

var (
	ErrNotLoggedIn       = errors.New("wallet requires a logged in account")
	ErrValidation        = errors.New("invalid argument")
	ErrPersonaNotFound   = errors.New("persona not found")
	ErrAppNotFound       = errors.New("app not found")
	ErrClaimNotFound     = errors.New("claim not found")
	ErrMissingAttributes = errors.New("policy discloses no attributes")
)

const (
	personaKeyPrefix = "persona/"
	appKeyPrefix     = "app/"
	claimKeyPrefix   = "claim/"
)

// Wallet drives the protocol for the active account. All persisted state
// lives in the account's encrypted store, so nothing here survives logout.
type Wallet struct {
	node     *hub.Node
	accounts *account.Manager
	elector  leader.Elector
	limiter  *ratelimiter.MapLimiter
	logger   *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

type Option func(*Wallet)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Wallet) { w.logger = logger }
}

// WithElector gates the refresh listener on leadership, so one device answers
// refreshes when several share an account.
func WithElector(e leader.Elector) Option {
	return func(w *Wallet) { w.elector = e }
}

func WithRefreshLimiter(l *ratelimiter.MapLimiter) Option {
	return func(w *Wallet) { w.limiter = l }
}

func New(node *hub.Node, accounts *account.Manager, opts ...Option) (*Wallet, error) {
	if node == nil || accounts == nil {
		return nil, fmt.Errorf("%w: node and account manager are required", ErrValidation)
	}
	w := &Wallet{
		node:     node,
		accounts: accounts,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *Wallet) session() (*account.Session, error) {
	session, ok := w.accounts.Current()
	if !ok {
		return nil, ErrNotLoggedIn
	}
	return session, nil
}

// AddPersona creates a persona with the given attributes.
func (w *Wallet) AddPersona(attributes map[string]any) (models.Persona, error) {
	session, err := w.session()
	if err != nil {
		return models.Persona{}, err
	}
	id, err := ident.NewID()
	if err != nil {
		return models.Persona{}, err
	}
	persona := models.Persona{ID: id, Attributes: attributes}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := session.Store.Set(personaKeyPrefix+id, persona); err != nil {
		return models.Persona{}, err
	}
	return persona, nil
}

// UpdatePersona replaces a persona's attributes.
func (w *Wallet) UpdatePersona(id string, attributes map[string]any) (models.Persona, error) {
	session, err := w.session()
	if err != nil {
		return models.Persona{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var existing models.Persona
	ok, err := session.Store.Get(personaKeyPrefix+id, &existing)
	if err != nil {
		return models.Persona{}, err
	}
	if !ok {
		return models.Persona{}, ErrPersonaNotFound
	}
	existing.Attributes = attributes
	if err := session.Store.Set(personaKeyPrefix+id, existing); err != nil {
		return models.Persona{}, err
	}
	return existing, nil
}

// RemovePersona deletes a persona along with every app registration and claim
// record that was issued from it.
func (w *Wallet) RemovePersona(id string) error {
	session, err := w.session()
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var persona models.Persona
	ok, err := session.Store.Get(personaKeyPrefix+id, &persona)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPersonaNotFound
	}
	for _, key := range session.Store.Keys() {
		if !strings.HasPrefix(key, appKeyPrefix) {
			continue
		}
		var reg models.AppRegistration
		if ok, err := session.Store.Get(key, &reg); err != nil || !ok {
			continue
		}
		if reg.PersonaID != id {
			continue
		}
		if err := session.Store.Del(key); err != nil {
			return err
		}
		if err := session.Store.Del(claimKeyPrefix + reg.Token); err != nil {
			return err
		}
		w.limiter.Forget(reg.Token)
	}
	return session.Store.Del(personaKeyPrefix + id)
}

// GetPersona looks up a persona by ID.
func (w *Wallet) GetPersona(id string) (models.Persona, error) {
	session, err := w.session()
	if err != nil {
		return models.Persona{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var persona models.Persona
	ok, err := session.Store.Get(personaKeyPrefix+id, &persona)
	if err != nil {
		return models.Persona{}, err
	}
	if !ok {
		return models.Persona{}, ErrPersonaNotFound
	}
	return persona, nil
}

// Personas lists the account's personas.
func (w *Wallet) Personas() ([]models.Persona, error) {
	session, err := w.session()
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []models.Persona
	for _, key := range session.Store.Keys() {
		if !strings.HasPrefix(key, personaKeyPrefix) {
			continue
		}
		var persona models.Persona
		if ok, err := session.Store.Get(key, &persona); err == nil && ok {
			out = append(out, persona)
		}
	}
	return out, nil
}

// Apps lists the registered applications.
func (w *Wallet) Apps() ([]models.AppRegistration, error) {
	session, err := w.session()
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []models.AppRegistration
	for _, key := range session.Store.Keys() {
		if !strings.HasPrefix(key, appKeyPrefix) {
			continue
		}
		var reg models.AppRegistration
		if ok, err := session.Store.Get(key, &reg); err == nil && ok {
			out = append(out, reg)
		}
	}
	return out, nil
}

// RemoveApp revokes an app: its registration, its claim record and its
// refresh budget go together. Future refreshes for the token are dropped.
func (w *Wallet) RemoveApp(token string) error {
	session, err := w.session()
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var reg models.AppRegistration
	ok, err := session.Store.Get(appKeyPrefix+token, &reg)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAppNotFound
	}
	if err := session.Store.Del(appKeyPrefix + token); err != nil {
		return err
	}
	if err := session.Store.Del(claimKeyPrefix + token); err != nil {
		return err
	}
	w.limiter.Forget(token)
	return nil
}

// GetClaim returns the claim record for a token.
func (w *Wallet) GetClaim(token string) (models.ClaimRecord, error) {
	session, err := w.session()
	if err != nil {
		return models.ClaimRecord{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var rec models.ClaimRecord
	ok, err := session.Store.Get(claimKeyPrefix+token, &rec)
	if err != nil {
		return models.ClaimRecord{}, err
	}
	if !ok {
		return models.ClaimRecord{}, ErrClaimNotFound
	}
	return rec, nil
}

// RemoveClaim drops the claim record for a token, ending its refresh chain
// while keeping the app registration visible.
func (w *Wallet) RemoveClaim(token string) error {
	session, err := w.session()
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := session.Store.Del(claimKeyPrefix + token); err != nil {
		return err
	}
	w.limiter.Forget(token)
	return nil
}

func (w *Wallet) persistIssuance(session *account.Session, reg models.AppRegistration, rec models.ClaimRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := session.Store.Set(appKeyPrefix+reg.Token, reg); err != nil {
		return err
	}
	return session.Store.Set(claimKeyPrefix+rec.Token, rec)
}
