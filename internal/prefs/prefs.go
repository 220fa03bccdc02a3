// Package prefs persists platter user preferences in
// ~/.config/platter/prefs.toml.
package prefs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// MaxRecentOrders caps Prefs.RecentOrders.
const MaxRecentOrders = 5

// Prefs holds user preferences.
type Prefs struct {
	Theme string `toml:"theme"`
	// LastOrderID is the order the dashboard tracks on startup.
	LastOrderID  string   `toml:"last_order_id"`
	RecentOrders []string `toml:"recent_orders"`
}

const (
	defaultPrefsPath = "~/.config/platter/prefs.toml"
	defaultTheme     = "Nightfox"
)

// DefaultPath returns the default preferences file path.
func DefaultPath() string {
	return defaultPrefsPath
}

// RememberOrder makes orderID the last tracked order and moves it to the
// front of RecentOrders.
func (p *Prefs) RememberOrder(orderID string) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return
	}
	p.LastOrderID = orderID
	recent := slices.DeleteFunc(slices.Clone(p.RecentOrders), func(id string) bool { return id == orderID })
	recent = append([]string{orderID}, recent...)
	if len(recent) > MaxRecentOrders {
		recent = recent[:MaxRecentOrders]
	}
	p.RecentOrders = recent
}

// ForgetOrders drops every remembered order (logout).
func (p *Prefs) ForgetOrders() {
	p.LastOrderID = ""
	p.RecentOrders = nil
}

// Load reads preferences from the given path, falling back to defaults if missing.
func Load(path string) (Prefs, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Prefs{Theme: defaultTheme}, nil
	}

	prefs := Prefs{Theme: defaultTheme}

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return prefs, nil
		}
		return prefs, nil // Graceful degradation
	}
	defer func() { _ = file.Close() }()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return prefs, nil // Graceful degradation
	}

	if err := toml.Unmarshal(bytes, &prefs); err != nil {
		return Prefs{Theme: defaultTheme}, nil // Graceful degradation
	}

	if strings.TrimSpace(prefs.Theme) == "" {
		prefs.Theme = defaultTheme
	}
	prefs.LastOrderID = strings.TrimSpace(prefs.LastOrderID)
	if len(prefs.RecentOrders) > MaxRecentOrders {
		prefs.RecentOrders = prefs.RecentOrders[:MaxRecentOrders]
	}

	return prefs, nil
}

// Save writes preferences to the given path, creating directories as needed.
func Save(path string, p Prefs) error {
	resolved, err := resolvePath(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}

	bytes, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}

	if err := os.WriteFile(resolved, bytes, 0o644); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}

	return nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultPrefsPath)
	}
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
