package keys

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"keyportal/internal/api/dto"
)

// ErrPoolEmpty is returned by Assign when no unused keys remain.
var ErrPoolEmpty = errors.New("key pool is empty")

type poolFile struct {
	Version     string            `json:"version"`
	GeneratedAt string            `json:"generated_at,omitempty"`
	Total       int               `json:"total"`
	Unused      []string          `json:"unused"`
	Assigned    map[string]string `json:"assigned"`
}

// Pool manages the pre-generated key pool on disk. Keys move from the
// unused list to the assigned map and back on revocation.
type Pool struct {
	mu   sync.Mutex
	path string
}

func NewPool(path string) *Pool {
	return &Pool{path: path}
}

func (p *Pool) load() (*poolFile, error) {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &poolFile{Version: "1.0", Unused: []string{}, Assigned: map[string]string{}}, nil
		}
		return nil, err
	}

	var file poolFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, err
	}
	if file.Assigned == nil {
		file.Assigned = map[string]string{}
	}
	return &file, nil
}

func (p *Pool) save(file *poolFile) error {
	file.Total = len(file.Unused) + len(file.Assigned)

	raw, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p.path, raw, 0o644)
}

// Assign pops the first unused key and records its new owner.
func (p *Pool) Assign(email string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	file, err := p.load()
	if err != nil {
		return "", err
	}
	if len(file.Unused) == 0 {
		return "", ErrPoolEmpty
	}

	key := file.Unused[0]
	file.Unused = file.Unused[1:]
	file.Assigned[key] = email

	if err := p.save(file); err != nil {
		return "", err
	}
	return key, nil
}

// Release returns a revoked key to the unused list.
func (p *Pool) Release(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	file, err := p.load()
	if err != nil {
		return err
	}

	delete(file.Assigned, key)
	file.Unused = append(file.Unused, key)

	return p.save(file)
}

// Add appends freshly generated keys to the unused list.
func (p *Pool) Add(keys []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	file, err := p.load()
	if err != nil {
		return err
	}

	file.Unused = append(file.Unused, keys...)
	file.GeneratedAt = time.Now().UTC().Format(time.RFC3339)

	return p.save(file)
}

func (p *Pool) Status() (dto.PoolStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	file, err := p.load()
	if err != nil {
		return dto.PoolStatus{}, err
	}

	return dto.PoolStatus{
		Total:    len(file.Unused) + len(file.Assigned),
		Unused:   len(file.Unused),
		Assigned: len(file.Assigned),
	}, nil
}
