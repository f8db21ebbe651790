package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"tycoon/internal/game"
)

// ErrNoSession means no game has been started from this machine, or the
// saved one was cleared.
var ErrNoSession = errors.New("no game in progress")

// Session is the game the CLI is playing. It pins the server the game was
// started on so later commands reach it even if --api changes.
type Session struct {
	SessionID   string `json:"session_id"`
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	APIBaseURL  string `json:"api_base_url"`
}

// NewSession remembers the game d that was started on apiBase.
func NewSession(d game.Dashboard, apiBase string) Session {
	return Session{
		SessionID:   d.SessionID,
		PlayerID:    d.Player.ID,
		DisplayName: d.Player.DisplayName,
		APIBaseURL:  normalizeBaseURL(apiBase),
	}
}

// WithDashboard picks up the player identity from a fresh dashboard of the
// same game. A reset hands out a new player id.
func (s Session) WithDashboard(d game.Dashboard) (Session, error) {
	if d.SessionID != s.SessionID {
		return s, fmt.Errorf("dashboard is for game %q, not %q", d.SessionID, s.SessionID)
	}
	s.PlayerID = d.Player.ID
	s.DisplayName = d.Player.DisplayName
	return s, nil
}

// BaseURL is the server this game lives on, or fallback for files written
// without one.
func (s Session) BaseURL(fallback string) string {
	if base := normalizeBaseURL(s.APIBaseURL); base != "" {
		return base
	}
	return normalizeBaseURL(fallback)
}

func (s Session) Client(fallback string) *Client {
	return NewClient(s.BaseURL(fallback))
}

func normalizeBaseURL(base string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/")
}

// Store keeps the current session in a single JSON file.
type Store struct {
	Path string
}

// DefaultStore is ~/.tycoon/session.json.
func DefaultStore() (Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Store{}, err
	}
	return Store{Path: filepath.Join(home, ".tycoon", "session.json")}, nil
}

// Save replaces the file through a rename so a crash never leaves half a
// session behind.
func (st Store) Save(s Session) error {
	if strings.TrimSpace(s.SessionID) == "" {
		return fmt.Errorf("save session: %w", ErrNoSession)
	}
	if err := os.MkdirAll(filepath.Dir(st.Path), 0o700); err != nil {
		return err
	}
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := st.Path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, st.Path)
}

func (st Store) Load() (Session, error) {
	body, err := os.ReadFile(st.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return Session{}, fmt.Errorf("read %s: %w", st.Path, err)
	}
	if strings.TrimSpace(s.SessionID) == "" {
		return Session{}, fmt.Errorf("%s has no session id: %w", st.Path, ErrNoSession)
	}
	return s, nil
}

// Clear forgets the current session. Clearing twice is fine.
func (st Store) Clear() error {
	err := os.Remove(st.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func SaveSession(s Session) error {
	st, err := DefaultStore()
	if err != nil {
		return err
	}
	return st.Save(s)
}

func LoadSession() (Session, error) {
	st, err := DefaultStore()
	if err != nil {
		return Session{}, err
	}
	return st.Load()
}

func ClearSession() error {
	st, err := DefaultStore()
	if err != nil {
		return err
	}
	return st.Clear()
}
