package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/jonathan/applier/internal/types"
)

// FileProfileProvider loads the applicant's profile from a JSON file. The
// deployment serves one applicant, so the user ID is recorded on runs but
// does not select between profiles.
type FileProfileProvider struct {
	path string

	mu      sync.Mutex
	cached  *types.UserProfile
	modTime int64
}

// NewFileProfileProvider builds a provider reading the given JSON file.
func NewFileProfileProvider(path string) *FileProfileProvider {
	return &FileProfileProvider{path: path}
}

// Profile returns the applicant profile, reloading the file when it changes.
func (p *FileProfileProvider) Profile(_ context.Context, _ uuid.UUID) (*types.UserProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := os.Stat(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat profile file: %w", err)
	}
	if p.cached != nil && info.ModTime().UnixNano() == p.modTime {
		return p.cached, nil
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}

	var profile types.UserProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile file: %w", err)
	}
	if profile.Name == "" || profile.Email == "" {
		return nil, fmt.Errorf("profile file %s must set name and email", p.path)
	}

	p.cached = &profile
	p.modTime = info.ModTime().UnixNano()
	return p.cached, nil
}
