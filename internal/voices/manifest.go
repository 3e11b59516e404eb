package voices

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is the operator-maintained YAML list of cloned voices.
type Manifest struct {
	Profiles []ProfileSpec `yaml:"profiles"`
}

type ProfileSpec struct {
	UserID   string `yaml:"user_id"`
	VoiceID  string `yaml:"voice_id"`
	Provider string `yaml:"provider,omitempty"`
	Status   string `yaml:"status,omitempty"`
}

// LoadManifest reads a manifest from disk.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

// Validate ensures every entry is importable.
func (m Manifest) Validate() error {
	if len(m.Profiles) == 0 {
		return fmt.Errorf("profiles must include at least one entry")
	}
	seen := make(map[string]struct{}, len(m.Profiles))
	for i, p := range m.Profiles {
		user := strings.TrimSpace(p.UserID)
		if user == "" {
			return fmt.Errorf("profiles[%d].user_id is required", i)
		}
		if _, dup := seen[user]; dup {
			return fmt.Errorf("profiles[%d].user_id %q is duplicated", i, user)
		}
		seen[user] = struct{}{}
		if strings.TrimSpace(p.VoiceID) == "" {
			return fmt.Errorf("profiles[%d].voice_id is required", i)
		}
		switch p.Status {
		case "", StatusPending, StatusReady, StatusFailed:
		default:
			return fmt.Errorf("profiles[%d].status %q not supported", i, p.Status)
		}
		switch p.Provider {
		case "", "elevenlabs":
		default:
			return fmt.Errorf("profiles[%d].provider %q not supported", i, p.Provider)
		}
	}
	return nil
}

// Import validates m and upserts each profile. Entries without a status are
// imported as ready.
func (s *Store) Import(ctx context.Context, m Manifest) (int, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}
	for _, spec := range m.Profiles {
		status := spec.Status
		if status == "" {
			status = StatusReady
		}
		if err := s.Upsert(ctx, Profile{
			UserID:   spec.UserID,
			VoiceID:  strings.TrimSpace(spec.VoiceID),
			Provider: spec.Provider,
			Status:   status,
		}); err != nil {
			return 0, err
		}
	}
	return len(m.Profiles), nil
}
