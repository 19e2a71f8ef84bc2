package keys

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	return NewPool(filepath.Join(t.TempDir(), "key_pool.json"))
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(filepath.Join(t.TempDir(), "user_keys.json"))
}

func TestPoolAssignAndRelease(t *testing.T) {
	pool := newTestPool(t)

	if _, err := pool.Assign("a@example.com"); !errors.Is(err, ErrPoolEmpty) {
		t.Fatalf("assign on empty pool: %v", err)
	}

	if err := pool.Add([]string{"k1", "k2", "k3"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	key, err := pool.Assign("a@example.com")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if key != "k1" {
		t.Fatalf("assigned %q, want first unused key k1", key)
	}

	status, err := pool.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Total != 3 || status.Unused != 2 || status.Assigned != 1 {
		t.Fatalf("status = %+v", status)
	}

	if err := pool.Release("k1"); err != nil {
		t.Fatalf("release: %v", err)
	}

	status, _ = pool.Status()
	if status.Unused != 3 || status.Assigned != 0 {
		t.Fatalf("status after release = %+v", status)
	}
}

func TestRegistryAssignmentLifecycle(t *testing.T) {
	registry := newTestRegistry(t)

	if err := registry.AddAssignment("a@example.com", "", "work", "k1"); err != nil {
		t.Fatalf("add assignment: %v", err)
	}
	if err := registry.AddAssignment("a@example.com", "Alice", "personal", "k2"); err != nil {
		t.Fatalf("add assignment: %v", err)
	}

	user, err := registry.UserByEmail("a@example.com")
	if err != nil {
		t.Fatalf("user lookup: %v", err)
	}
	if user.Name != "a@example.com" {
		t.Fatalf("name = %q, want identifier fallback from first registration", user.Name)
	}
	if len(user.APIKeys) != 2 {
		t.Fatalf("keys = %v", user.APIKeys)
	}

	record, err := registry.KeyOwner("k2")
	if err != nil {
		t.Fatalf("owner lookup: %v", err)
	}
	if record.Email != "a@example.com" || record.Label != "personal" {
		t.Fatalf("record = %+v", record)
	}

	email, err := registry.RemoveKey("k1")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if email != "a@example.com" {
		t.Fatalf("removed owner = %q", email)
	}
	if _, err := registry.KeyOwner("k1"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected key not found after removal, got %v", err)
	}

	user, _ = registry.UserByEmail("a@example.com")
	if len(user.APIKeys) != 1 || user.APIKeys[0] != "k2" {
		t.Fatalf("keys after removal = %v", user.APIKeys)
	}

	if _, err := registry.RemoveKey("missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected key not found, got %v", err)
	}
}

func TestRegistrySurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_keys.json")

	first := NewRegistry(path)
	if err := first.AddAssignment("a@example.com", "Alice", "work", "k1"); err != nil {
		t.Fatalf("add assignment: %v", err)
	}

	second := NewRegistry(path)
	index, err := second.KeyToUser()
	if err != nil {
		t.Fatalf("key index: %v", err)
	}
	if index["k1"] != "a@example.com" {
		t.Fatalf("index = %v", index)
	}
}

func TestGenerateKeyFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^usr_pool_\d{4}_[0-9a-f]{12}$`)

	generated := Generate(5, 0)
	if len(generated) != 5 {
		t.Fatalf("generated %d keys", len(generated))
	}

	seen := map[string]bool{}
	for _, key := range generated {
		if !pattern.MatchString(key) {
			t.Fatalf("key %q does not match expected format", key)
		}
		if seen[key] {
			t.Fatalf("duplicate key %q", key)
		}
		seen[key] = true
	}

	if got := Generate(1, 41)[0][:13]; got != "usr_pool_0042" {
		t.Fatalf("numbering continues from start index, got prefix %q", got)
	}
}

type fakeKeyLister struct {
	keys    []string
	putKeys []string
}

func (f *fakeKeyLister) APIKeys(ctx context.Context) ([]string, error) {
	return append([]string(nil), f.keys...), nil
}

func (f *fakeKeyLister) PutAPIKeys(ctx context.Context, keys []string) error {
	f.putKeys = append([]string(nil), keys...)
	return nil
}

func TestServiceRegisterAndRevoke(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool(filepath.Join(dir, "key_pool.json"))
	registry := NewRegistry(filepath.Join(dir, "user_keys.json"))
	lister := &fakeKeyLister{keys: []string{"k1", "other"}}

	if err := pool.Add([]string{"k1"}); err != nil {
		t.Fatalf("seed pool: %v", err)
	}

	svc := NewService(pool, registry, lister)

	key, err := svc.Register("a@example.com", "", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if key != "k1" {
		t.Fatalf("assigned %q", key)
	}

	record, err := registry.KeyOwner("k1")
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if record.Label != "a@example.com" {
		t.Fatalf("label defaulted to %q, want identifier", record.Label)
	}

	if err := svc.Revoke(context.Background(), "k1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if len(lister.putKeys) != 1 || lister.putKeys[0] != "other" {
		t.Fatalf("upstream keys after revoke = %v", lister.putKeys)
	}

	status, _ := pool.Status()
	if status.Unused != 1 || status.Assigned != 0 {
		t.Fatalf("pool after revoke = %+v", status)
	}

	if err := svc.Revoke(context.Background(), "missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected key not found, got %v", err)
	}
}

func TestServiceProvision(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool(filepath.Join(dir, "key_pool.json"))
	registry := NewRegistry(filepath.Join(dir, "user_keys.json"))
	lister := &fakeKeyLister{keys: []string{"existing"}}

	svc := NewService(pool, registry, lister)

	generated, err := svc.Provision(context.Background(), 3)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if len(generated) != 3 {
		t.Fatalf("generated %d keys", len(generated))
	}

	if len(lister.putKeys) != 4 {
		t.Fatalf("upstream got %d keys, want existing plus generated", len(lister.putKeys))
	}
	if lister.putKeys[0] != "existing" {
		t.Fatal("existing upstream keys not preserved")
	}

	status, _ := pool.Status()
	if status.Unused != 3 {
		t.Fatalf("pool after provision = %+v", status)
	}
}

func TestMappingLookups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "user_mapping.json")

	writeFile(t, path, `{
		"users": [
			{"name": "Alice", "claude_email": "alice@claude.example", "feishu_email": "alice@corp.example"},
			{"name": "", "claude_email": "bob@claude.example", "feishu_email": ""}
		]
	}`)

	mapping := NewMapping(path)

	if got := mapping.FeishuID("Alice@Claude.Example"); got != "alice@corp.example" {
		t.Fatalf("feishu id = %q", got)
	}
	if got := mapping.DisplayName("alice@claude.example"); got != "Alice" {
		t.Fatalf("name = %q", got)
	}

	// Empty mapping fields and unknown users fall back to the account email.
	if got := mapping.FeishuID("bob@claude.example"); got != "bob@claude.example" {
		t.Fatalf("feishu fallback = %q", got)
	}
	if got := mapping.DisplayName("stranger@claude.example"); got != "stranger@claude.example" {
		t.Fatalf("unknown user name = %q", got)
	}
}
