package keystore

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore keeps entries in a single JSON file, values hex-encoded.
// The file is created with 0600 since it holds private keys.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path. The file is created on
// first Set; a missing file reads as an empty store.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath returns ~/.ntdf/keys.json, the conventional client
// keystore location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".ntdf", "keys.json"), nil
}

func (s *FileStore) Get(name string) ([]byte, error) {
	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	encoded, ok := entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	data, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode entry %s: %w", name, err)
	}
	return data, nil
}

func (s *FileStore) Set(name string, data []byte) error {
	entries, err := s.load()
	if err != nil {
		return err
	}
	entries[name] = hex.EncodeToString(data)
	return s.save(entries)
}

func (s *FileStore) Delete(name string) error {
	entries, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := entries[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(entries, name)
	return s.save(entries)
}

func (s *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read key store: %w", err)
	}
	entries := map[string]string{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse key store: %w", err)
	}
	return entries, nil
}

func (s *FileStore) save(entries map[string]string) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create key store directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode key store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("write key store: %w", err)
	}
	return nil
}
