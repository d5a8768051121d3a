package securestore

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"akasha-id/go-wallet/pkg/models"
)

// Index is the unencrypted global account list, readable before any
// passphrase has been entered so a device can present "who can log in".
type Index struct {
	mu       sync.Mutex
	path     string
	accounts map[string]models.Account
}

func OpenIndex(path string) (*Index, error) {
	idx := &Index{path: path, accounts: make(map[string]models.Account)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return idx, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, &idx.accounts); err != nil {
		return nil, ErrInvalid
	}
	return idx, nil
}

// Put adds or updates an account entry.
func (i *Index) Put(account models.Account) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.accounts[account.ID] = account
	return i.persistLocked()
}

// Remove drops an account entry; absent IDs are a no-op.
func (i *Index) Remove(accountID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.accounts[accountID]; !ok {
		return nil
	}
	delete(i.accounts, accountID)
	return i.persistLocked()
}

// List returns the known accounts sorted by name for stable display.
func (i *Index) List() []models.Account {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]models.Account, 0, len(i.accounts))
	for _, a := range i.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Get looks up one account entry.
func (i *Index) Get(accountID string) (models.Account, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	a, ok := i.accounts[accountID]
	return a, ok
}

func (i *Index) persistLocked() error {
	payload, err := json.Marshal(i.accounts)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(i.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(i.path, payload, 0o600)
}
