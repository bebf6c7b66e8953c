package portal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// SessionState is the saved login artifact for one platform, written
// after a login through the browser bridge and probed before real
// execution starts.
type SessionState struct {
	Platform  string          `json:"platform"`
	SavedAt   time.Time       `json:"saved_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	Cookies   json.RawMessage `json:"cookies,omitempty"`
}

// FileSessions keeps one JSON artifact per platform under a directory.
type FileSessions struct {
	dir string
	now func() time.Time
}

// SessionOption customizes a FileSessions.
type SessionOption func(*FileSessions)

// WithSessionClock injects a clock, used by tests.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(f *FileSessions) { f.now = now }
}

func NewFileSessions(dir string, opts ...SessionOption) *FileSessions {
	f := &FileSessions{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FileSessions) path(platform string) string {
	return filepath.Join(f.dir, platform+".json")
}

// HasValidSession reports nil when a session artifact exists for the
// platform and has not expired.
func (f *FileSessions) HasValidSession(platform string) error {
	if strings.TrimSpace(platform) == "" {
		return eris.New("portal: no platform named")
	}

	data, err := os.ReadFile(f.path(platform))
	if err != nil {
		return eris.Wrapf(err, "portal: read session for %s", platform)
	}

	var st SessionState
	if err := json.Unmarshal(data, &st); err != nil {
		return eris.Wrapf(err, "portal: parse session for %s", platform)
	}

	if !st.ExpiresAt.After(f.now()) {
		return eris.Errorf("portal: session for %s expired at %s", platform, st.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// SaveSession writes the artifact via temp file + rename so a
// concurrent probe never reads a partial file.
func (f *FileSessions) SaveSession(st SessionState) error {
	if strings.TrimSpace(st.Platform) == "" {
		return eris.New("portal: session has no platform")
	}
	if st.SavedAt.IsZero() {
		st.SavedAt = f.now().UTC()
	}

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return eris.Wrap(err, "portal: create sessions dir")
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return eris.Wrap(err, "portal: marshal session")
	}

	tmp, err := os.CreateTemp(f.dir, st.Platform+"-*.tmp")
	if err != nil {
		return eris.Wrap(err, "portal: create session temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return eris.Wrap(err, "portal: write session temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return eris.Wrap(err, "portal: close session temp file")
	}
	if err := os.Rename(tmp.Name(), f.path(st.Platform)); err != nil {
		os.Remove(tmp.Name())
		return eris.Wrap(err, "portal: replace session file")
	}
	return nil
}
