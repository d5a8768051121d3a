package securestore

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Store is the per-account encrypted key/value document. The whole store is
// one envelope on disk; every mutation rewrites the snapshot, so a partial
// write never leaves a half-updated document behind.
type Store struct {
	mu         sync.Mutex
	path       string
	passphrase string
	data       map[string]json.RawMessage
}

// Open loads the store at path, creating an empty one when the file does not
// exist. A wrong passphrase surfaces as ErrAuthFailed.
func Open(path, passphrase string) (*Store, error) {
	s := &Store{
		path:       path,
		passphrase: passphrase,
		data:       make(map[string]json.RawMessage),
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}
	plaintext, err := Decrypt(passphrase, raw)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(plaintext, &s.data); err != nil {
		return nil, ErrInvalid
	}
	return s, nil
}

// Get unmarshals the value stored under key into out. The second return is
// false when the key is absent.
func (s *Store) Get(key string, out any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.data[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores v under key and persists the snapshot.
func (s *Store) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = raw
	return s.persistLocked()
}

// Del removes key and persists. Removing an absent key is a no-op.
func (s *Store) Del(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.persistLocked()
}

// Keys returns the stored keys.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	return out
}

// Clear drops every key and persists the empty snapshot.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]json.RawMessage)
	return s.persistLocked()
}

// Export returns the encrypted dump of the current snapshot, suitable for
// backup and later Import.
func (s *Store) Export() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, err := json.Marshal(s.data)
	if err != nil {
		return nil, err
	}
	return Encrypt(s.passphrase, payload)
}

// Import replaces the store content with a previously exported dump.
func (s *Store) Import(dump []byte) error {
	plaintext, err := Decrypt(s.passphrase, dump)
	if err != nil {
		return err
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return ErrInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	return s.persistLocked()
}

// Destroy wipes the in-memory state and removes the backing file.
func (s *Store) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]json.RawMessage)
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) persistLocked() error {
	payload, err := json.Marshal(s.data)
	if err != nil {
		return err
	}
	encrypted, err := Encrypt(s.passphrase, payload)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path, encrypted, 0o600)
}
