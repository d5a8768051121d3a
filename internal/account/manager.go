package account

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"akasha-id/go-wallet/internal/protocol"
	"akasha-id/go-wallet/internal/securestore"
	"akasha-id/go-wallet/pkg/models"

	"github.com/tyler-smith/go-bip39"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrInvalidPassphrase  = errors.New("invalid passphrase")
	ErrPassphraseRequired = errors.New("passphrase is required")
	ErrNameRequired       = errors.New("account name is required")
	ErrMnemonicRequired   = errors.New("recovery phrase is required")
	ErrInvalidMnemonic    = errors.New("invalid recovery phrase")
	ErrLocked             = errors.New("passphrase attempts are temporarily locked")
	ErrNoSession          = errors.New("no account is logged in")
)

// Session is an unlocked account: its decrypted store plus the signing key
// derived from the recovery seed.
type Session struct {
	AccountID  string
	DID        string
	Name       string
	Store      *securestore.Store
	SigningKey ed25519.PrivateKey
	SigningPub ed25519.PublicKey
}

type attemptState struct {
	failed      int
	lockedUntil time.Time
}

// Manager owns the account index and the lifecycle of encrypted per-account
// stores under dataDir. At most one session is unlocked at a time.
type Manager struct {
	mu       sync.Mutex
	dataDir  string
	index    *securestore.Index
	session  *Session
	attempts map[string]*attemptState
	logger   *slog.Logger
	now      func() time.Time
}

func NewManager(dataDir string, logger *slog.Logger) (*Manager, error) {
	if strings.TrimSpace(dataDir) == "" {
		return nil, errors.New("data dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	index, err := securestore.OpenIndex(filepath.Join(dataDir, "accounts.json"))
	if err != nil {
		return nil, fmt.Errorf("open account index: %w", err)
	}
	return &Manager{
		dataDir:  dataDir,
		index:    index,
		attempts: make(map[string]*attemptState),
		logger:   logger,
		now:      time.Now,
	}, nil
}

func newManagerWithClock(dataDir string, logger *slog.Logger, now func() time.Time) (*Manager, error) {
	m, err := NewManager(dataDir, logger)
	if err != nil {
		return nil, err
	}
	m.now = now
	return m, nil
}

// Signup creates a new account, persists it and logs it in. The returned
// mnemonic is the only way to recover the account on another device.
func (m *Manager) Signup(name, passphrase string) (*Session, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", ErrNameRequired
	}
	if strings.TrimSpace(passphrase) == "" {
		return nil, "", ErrPassphraseRequired
	}

	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return nil, "", err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, "", err
	}
	session, err := m.initAccount(mnemonic, name, "", passphrase)
	if err != nil {
		return nil, "", err
	}
	return session, mnemonic, nil
}

// Recover rebuilds an account from its recovery phrase. The account ID is
// derived from the seed, so the recovered account keeps its DID.
func (m *Manager) Recover(mnemonic, name, passphrase string) (*Session, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return nil, ErrMnemonicRequired
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if strings.TrimSpace(passphrase) == "" {
		return nil, ErrPassphraseRequired
	}
	return m.initAccount(mnemonic, name, "", passphrase)
}

// Login unlocks the account's store and derives its signing key. Repeated
// failures lock the account with exponential backoff.
func (m *Manager) Login(accountID, passphrase string) (*Session, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, ErrAccountNotFound
	}
	if strings.TrimSpace(passphrase) == "" {
		return nil, ErrPassphraseRequired
	}

	m.mu.Lock()
	if _, ok := m.index.Get(accountID); !ok {
		m.mu.Unlock()
		return nil, ErrAccountNotFound
	}
	if err := m.ensureUnlockedLocked(accountID); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	store, err := securestore.Open(m.storePath(accountID), passphrase)
	if err != nil {
		if errors.Is(err, securestore.ErrAuthFailed) {
			m.mu.Lock()
			m.onFailedAttemptLocked(accountID)
			m.mu.Unlock()
			return nil, ErrInvalidPassphrase
		}
		return nil, err
	}

	session, err := sessionFromStore(accountID, store)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	delete(m.attempts, accountID)
	m.session = session
	m.mu.Unlock()
	m.logger.Info("account logged in", "account_id", accountID)
	return session, nil
}

// Logout drops the active session. Safe to call with none active.
func (m *Manager) Logout() {
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
}

// Current returns the active session, if any.
func (m *Manager) Current() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, m.session != nil
}

// PublicAccounts lists the unencrypted account directory entries.
func (m *Manager) PublicAccounts() []models.Account {
	return m.index.List()
}

// UpdateAccount changes the display fields of the logged-in account in both
// the encrypted store and the public index.
func (m *Manager) UpdateAccount(name, picture string) error {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()
	if session == nil {
		return ErrNoSession
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameRequired
	}

	acc := models.Account{ID: session.AccountID, Name: name, Picture: picture}
	if err := session.Store.Set("account", acc); err != nil {
		return err
	}
	if err := m.index.Put(acc); err != nil {
		return err
	}
	m.mu.Lock()
	if m.session == session {
		m.session.Name = name
	}
	m.mu.Unlock()
	return nil
}

// RemoveAccount destroys the logged-in account: its encrypted store file and
// its directory entry. The session ends with it.
func (m *Manager) RemoveAccount() error {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()
	if session == nil {
		return ErrNoSession
	}
	if err := session.Store.Destroy(); err != nil {
		return err
	}
	if err := m.index.Remove(session.AccountID); err != nil {
		return err
	}
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
	m.logger.Info("account removed", "account_id", session.AccountID)
	return nil
}

// ExportRecoveryPhrase re-checks the passphrase before revealing the mnemonic.
func (m *Manager) ExportRecoveryPhrase(passphrase string) (string, error) {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()
	if session == nil {
		return "", ErrNoSession
	}
	if strings.TrimSpace(passphrase) == "" {
		return "", ErrPassphraseRequired
	}

	m.mu.Lock()
	if err := m.ensureUnlockedLocked(session.AccountID); err != nil {
		m.mu.Unlock()
		return "", err
	}
	m.mu.Unlock()

	// Reopening the store file is the passphrase check.
	if _, err := securestore.Open(m.storePath(session.AccountID), passphrase); err != nil {
		if errors.Is(err, securestore.ErrAuthFailed) {
			m.mu.Lock()
			m.onFailedAttemptLocked(session.AccountID)
			m.mu.Unlock()
			return "", ErrInvalidPassphrase
		}
		return "", err
	}
	m.mu.Lock()
	delete(m.attempts, session.AccountID)
	m.mu.Unlock()

	var mnemonic string
	ok, err := session.Store.Get("mnemonic", &mnemonic)
	if err != nil {
		return "", err
	}
	if !ok || !bip39.IsMnemonicValid(mnemonic) {
		return "", fmt.Errorf("%w: corrupted recovery phrase", ErrInvalidMnemonic)
	}
	return mnemonic, nil
}

// ExportData dumps the logged-in account's store as an encrypted backup blob.
func (m *Manager) ExportData() ([]byte, error) {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()
	if session == nil {
		return nil, ErrNoSession
	}
	return session.Store.Export()
}

// ImportData replaces the logged-in account's store contents from a backup
// blob produced by ExportData with the same passphrase.
func (m *Manager) ImportData(dump []byte) error {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()
	if session == nil {
		return ErrNoSession
	}
	return session.Store.Import(dump)
}

func (m *Manager) initAccount(mnemonic, name, picture, passphrase string) (*Session, error) {
	seed := bip39.NewSeed(mnemonic, "")
	keys, err := DeriveKeys(seed)
	if err != nil {
		return nil, err
	}
	accountID := AccountIDFromKey(keys.SigningPub)

	store, err := securestore.Open(m.storePath(accountID), passphrase)
	if err != nil {
		if errors.Is(err, securestore.ErrAuthFailed) {
			return nil, ErrInvalidPassphrase
		}
		return nil, err
	}

	acc := models.Account{ID: accountID, Name: name, Picture: picture}
	if err := store.Set("account", acc); err != nil {
		return nil, err
	}
	if err := store.Set("mnemonic", mnemonic); err != nil {
		return nil, err
	}
	if err := m.index.Put(acc); err != nil {
		return nil, err
	}

	session := &Session{
		AccountID:  accountID,
		DID:        protocol.BuildDID(accountID),
		Name:       name,
		Store:      store,
		SigningKey: keys.SigningKey,
		SigningPub: keys.SigningPub,
	}
	m.mu.Lock()
	delete(m.attempts, accountID)
	m.session = session
	m.mu.Unlock()
	m.logger.Info("account ready", "account_id", accountID)
	return session, nil
}

func sessionFromStore(accountID string, store *securestore.Store) (*Session, error) {
	var acc models.Account
	if ok, err := store.Get("account", &acc); err != nil || !ok {
		if err != nil {
			return nil, err
		}
		return nil, ErrAccountNotFound
	}
	var mnemonic string
	if ok, err := store.Get("mnemonic", &mnemonic); err != nil || !ok {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: missing recovery phrase", ErrInvalidMnemonic)
	}
	keys, err := DeriveKeys(bip39.NewSeed(mnemonic, ""))
	if err != nil {
		return nil, err
	}
	return &Session{
		AccountID:  accountID,
		DID:        protocol.BuildDID(accountID),
		Name:       acc.Name,
		Store:      store,
		SigningKey: keys.SigningKey,
		SigningPub: keys.SigningPub,
	}, nil
}

func (m *Manager) storePath(accountID string) string {
	return filepath.Join(m.dataDir, accountID+".wallet")
}

func (m *Manager) ensureUnlockedLocked(accountID string) error {
	st, ok := m.attempts[accountID]
	if !ok || st.lockedUntil.IsZero() {
		return nil
	}
	if m.now().Before(st.lockedUntil) {
		return ErrLocked
	}
	return nil
}

func (m *Manager) onFailedAttemptLocked(accountID string) {
	st, ok := m.attempts[accountID]
	if !ok {
		st = &attemptState{}
		m.attempts[accountID] = st
	}
	st.failed++
	st.lockedUntil = m.now().Add(failedAttemptBackoff(st.failed))
}

func failedAttemptBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	// 1s, 2s, 4s... up to 32s max.
	shift := attempt - 1
	if shift > 5 {
		shift = 5
	}
	return time.Second * time.Duration(1<<shift)
}
