package keys

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// ErrKeyNotFound is returned when a key has no registry entry.
var ErrKeyNotFound = errors.New("key not found")

// ErrUserNotFound is returned when an email has no registered user.
var ErrUserNotFound = errors.New("user not found")

type User struct {
	Email     string   `json:"email"`
	Name      string   `json:"name"`
	APIKeys   []string `json:"api_keys"`
	CreatedAt string   `json:"created_at"`
}

type KeyRecord struct {
	Email     string `json:"email"`
	Label     string `json:"label"`
	CreatedAt string `json:"created_at"`
}

type registryFile struct {
	Version string                `json:"version"`
	Users   map[string]*User      `json:"users"`
	Keys    map[string]*KeyRecord `json:"keys"`
}

// Registry tracks which user owns which key. The file is loaded once and
// cached in memory; every mutation writes through to disk.
type Registry struct {
	mu    sync.Mutex
	path  string
	cache *registryFile
}

func NewRegistry(path string) *Registry {
	return &Registry{path: path}
}

func (r *Registry) load() (*registryFile, error) {
	if r.cache != nil {
		return r.cache, nil
	}

	raw, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.cache = &registryFile{Version: "1.0", Users: map[string]*User{}, Keys: map[string]*KeyRecord{}}
			return r.cache, nil
		}
		return nil, err
	}

	var file registryFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, err
	}
	if file.Users == nil {
		file.Users = map[string]*User{}
	}
	if file.Keys == nil {
		file.Keys = map[string]*KeyRecord{}
	}

	log.Info("Loaded user key registry", "users", len(file.Users), "keys", len(file.Keys))
	r.cache = &file
	return r.cache, nil
}

func (r *Registry) save(file *registryFile) error {
	raw, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(r.path, raw, 0o644); err != nil {
		return err
	}
	r.cache = file
	return nil
}

// Reload drops the in-memory cache so the next read hits the file again.
func (r *Registry) Reload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = nil
}

// AddAssignment records a newly assigned key, creating the user on first use.
func (r *Registry) AddAssignment(email, name, label, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.load()
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)

	user, ok := file.Users[email]
	if !ok {
		if name == "" {
			name = email
		}
		user = &User{Email: email, Name: name, APIKeys: []string{}, CreatedAt: now}
		file.Users[email] = user
	}

	user.APIKeys = append(user.APIKeys, key)
	file.Keys[key] = &KeyRecord{Email: email, Label: label, CreatedAt: now}

	return r.save(file)
}

// RemoveKey deletes a key from its owner and the key index, returning the
// owner's email.
func (r *Registry) RemoveKey(key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.load()
	if err != nil {
		return "", err
	}

	record, ok := file.Keys[key]
	if !ok {
		return "", ErrKeyNotFound
	}

	if user, ok := file.Users[record.Email]; ok {
		kept := user.APIKeys[:0]
		for _, k := range user.APIKeys {
			if k != key {
				kept = append(kept, k)
			}
		}
		user.APIKeys = kept
	}
	delete(file.Keys, key)

	if err := r.save(file); err != nil {
		return "", err
	}
	return record.Email, nil
}

// UserByEmail returns the user record for an email, or ErrUserNotFound.
func (r *Registry) UserByEmail(email string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.load()
	if err != nil {
		return nil, err
	}

	user, ok := file.Users[email]
	if !ok {
		return nil, ErrUserNotFound
	}

	copied := *user
	copied.APIKeys = append([]string(nil), user.APIKeys...)
	return &copied, nil
}

// KeyOwner returns the registry record for a key, or ErrKeyNotFound.
func (r *Registry) KeyOwner(key string) (*KeyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.load()
	if err != nil {
		return nil, err
	}

	record, ok := file.Keys[key]
	if !ok {
		return nil, ErrKeyNotFound
	}

	copied := *record
	return &copied, nil
}

// KeyMeta returns the label and creation time for a key, with zero values
// when the key is unknown.
func (r *Registry) KeyMeta(key string) (label, createdAt string) {
	record, err := r.KeyOwner(key)
	if err != nil {
		return "", ""
	}
	return record.Label, record.CreatedAt
}

// AllUsers returns every registered user keyed by email.
func (r *Registry) AllUsers() (map[string]*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.load()
	if err != nil {
		return nil, err
	}

	users := make(map[string]*User, len(file.Users))
	for email, user := range file.Users {
		copied := *user
		copied.APIKeys = append([]string(nil), user.APIKeys...)
		users[email] = &copied
	}
	return users, nil
}

// KeyToUser returns a key to owner-email index for usage attribution.
func (r *Registry) KeyToUser() (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.load()
	if err != nil {
		return nil, err
	}

	index := make(map[string]string, len(file.Keys))
	for key, record := range file.Keys {
		index[key] = record.Email
	}
	return index, nil
}
