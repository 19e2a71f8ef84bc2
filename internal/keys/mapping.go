package keys

import (
	"encoding/json"
	"os"
	"strings"
)

// MappedUser links a proxy account email to the messaging address used for
// notifications.
type MappedUser struct {
	Name        string `json:"name"`
	ClaudeEmail string `json:"claude_email"`
	FeishuEmail string `json:"feishu_email"`
}

type mappingFile struct {
	Users []MappedUser `json:"users"`
}

// Mapping resolves account emails to display names and Feishu addresses.
// The file is re-read on every lookup so edits take effect without a restart.
type Mapping struct {
	path string
}

func NewMapping(path string) *Mapping {
	return &Mapping{path: path}
}

func (m *Mapping) load() []MappedUser {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil
	}
	var file mappingFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil
	}
	return file.Users
}

// FeishuID returns the Feishu address for an account email, falling back to
// the email itself when no mapping exists.
func (m *Mapping) FeishuID(claudeEmail string) string {
	for _, user := range m.load() {
		if strings.EqualFold(user.ClaudeEmail, claudeEmail) {
			if user.FeishuEmail != "" {
				return user.FeishuEmail
			}
			return claudeEmail
		}
	}
	return claudeEmail
}

// DisplayName returns the mapped name for an account email, falling back to
// the email itself.
func (m *Mapping) DisplayName(claudeEmail string) string {
	for _, user := range m.load() {
		if strings.EqualFold(user.ClaudeEmail, claudeEmail) {
			if user.Name != "" {
				return user.Name
			}
			return claudeEmail
		}
	}
	return claudeEmail
}

// Users returns every mapped account.
func (m *Mapping) Users() []MappedUser {
	return m.load()
}
