// Package settings is the small namespaced key/value store for user
// preferences. It lives outside the catalog database so wiping the catalog
// never resets the user's choices.
package settings

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/mmcdole/lull/internal/domain"
)

// Namespaces (one bbolt bucket each)
const (
	NamespaceNetwork = "network"
	NamespaceApp     = "app"
)

const (
	keyNetworkSettings = "settings"
	keyClientID        = "client_id"
)

// lockTimeout bounds the wait for another process holding the file.
const lockTimeout = 2 * time.Second

// Store persists preferences in bbolt. An empty path keeps everything in memory.
// Implements domain.SettingsSource.
//
// The file is opened per operation and holds its lock only for one
// transaction, so several processes can share it and each read sees the
// latest write.
type Store struct {
	path   string
	mu     sync.Mutex
	memory map[string][]byte // namespace:key -> JSON, in-memory mode only
	logger *slog.Logger
}

// Open creates the settings file at path if needed and returns a Store for it.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, memory: make(map[string][]byte), logger: logger}
	if path == "" {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	err := s.update(func(tx *bolt.Tx) error {
		for _, ns := range []string{NamespaceNetwork, NamespaceApp} {
			if _, err := tx.CreateBucketIfNotExists([]byte(ns)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases nothing today; the file is only open during an operation.
func (s *Store) Close() error {
	return nil
}

func (s *Store) open(readOnly bool) (*bolt.DB, error) {
	db, err := bolt.Open(s.path, 0600, &bolt.Options{Timeout: lockTimeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to open settings db: %w", err)
	}
	return db, nil
}

func (s *Store) view(fn func(*bolt.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.open(true)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.View(fn)
}

func (s *Store) update(fn func(*bolt.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.open(false)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Update(fn)
}

// Get decodes the value under namespace/key into dest and reports whether it existed.
func (s *Store) Get(namespace, key string, dest any) (bool, error) {
	var data []byte
	if s.path == "" {
		s.mu.Lock()
		data = s.memory[namespace+":"+key]
		s.mu.Unlock()
	} else {
		err := s.view(func(tx *bolt.Tx) error {
			b := tx.Bucket([]byte(namespace))
			if b == nil {
				return nil
			}
			if v := b.Get([]byte(key)); v != nil {
				data = make([]byte, len(v))
				copy(data, v)
			}
			return nil
		})
		if err != nil {
			return false, fmt.Errorf("read %s/%s: %w", namespace, key, err)
		}
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", namespace, key, err)
	}
	return true, nil
}

// Put stores value under namespace/key.
func (s *Store) Put(namespace, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if s.path == "" {
		s.mu.Lock()
		s.memory[namespace+":"+key] = data
		s.mu.Unlock()
		return nil
	}
	err = s.update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Delete removes namespace/key.
func (s *Store) Delete(namespace, key string) error {
	if s.path == "" {
		s.mu.Lock()
		delete(s.memory, namespace+":"+key)
		s.mu.Unlock()
		return nil
	}
	return s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// NetworkSettings returns the saved settings, or the defaults if none were
// saved or they cannot be read.
func (s *Store) NetworkSettings() domain.NetworkSettings {
	ns := domain.DefaultNetworkSettings()
	ok, err := s.Get(NamespaceNetwork, keyNetworkSettings, &ns)
	if err != nil {
		s.logger.Error("failed to read network settings", "error", err)
		return domain.DefaultNetworkSettings()
	}
	if !ok {
		return domain.DefaultNetworkSettings()
	}
	if err := ns.Validate(); err != nil {
		s.logger.Warn("ignoring invalid network settings", "error", err)
		return domain.DefaultNetworkSettings()
	}
	return ns
}

// SaveNetworkSettings validates and persists ns.
func (s *Store) SaveNetworkSettings(ns domain.NetworkSettings) error {
	if err := ns.Validate(); err != nil {
		return err
	}
	if err := s.Put(NamespaceNetwork, keyNetworkSettings, ns); err != nil {
		return err
	}
	s.logger.Info("saved network settings",
		"networkMode", ns.Mode, "streamingQuality", ns.StreamingQuality,
		"allowCellularDownload", ns.AllowCellularDownload)
	return nil
}

// ClientID returns this installation's identifier, creating it on first use.
// It is sent to the catalog server so it can tell installations apart.
func (s *Store) ClientID() (string, error) {
	var id string
	ok, err := s.Get(NamespaceApp, keyClientID, &id)
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := s.Put(NamespaceApp, keyClientID, id); err != nil {
		return "", err
	}
	return id, nil
}
