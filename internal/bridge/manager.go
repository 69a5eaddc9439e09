package bridge

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/botwire/botwire/internal/logging"
)

// Manager owns the live bridge instance and its mount path. Reconfiguration
// swaps the whole instance atomically; previously used mount paths answer 410
// with the active path so stale clients learn where to go instead of silently
// hitting a dead endpoint.
type Manager struct {
	mu         sync.RWMutex
	active     *Bridge
	activePath string
	stale      map[string]bool
}

// NewManager creates a manager with no mounted bridge.
func NewManager() *Manager {
	return &Manager{stale: make(map[string]bool)}
}

// Swap mounts a new bridge instance, retiring and disposing the old one. The
// old mount path joins the stale set when it differs from the new one.
func (m *Manager) Swap(b *Bridge) {
	mountPath := normalizeMount(b.Config().MCPPath)

	m.mu.Lock()
	old := m.active
	oldPath := m.activePath
	if old != nil && oldPath != mountPath {
		m.stale[oldPath] = true
	}
	delete(m.stale, mountPath)
	m.active = b
	m.activePath = mountPath
	m.mu.Unlock()

	if old != nil {
		old.Dispose()
		logging.Info().Str("from", oldPath).Str("to", mountPath).Msg("bridge instance swapped")
	}
}

// Active returns the mounted bridge, or nil.
func (m *Manager) Active() *Bridge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// ActivePath returns the current mount path.
func (m *Manager) ActivePath() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activePath
}

// Close disposes the mounted bridge.
func (m *Manager) Close() {
	m.mu.Lock()
	old := m.active
	m.active = nil
	m.mu.Unlock()
	if old != nil {
		old.Dispose()
	}
}

// ServeHTTP routes by mount path: the active prefix delegates to the live
// instance, retired prefixes answer 410 Gone with the active path, anything
// else is 404.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	active := m.active
	activePath := m.activePath
	staleMatch := matchMount(m.stale, r.URL.Path)
	m.mu.RUnlock()

	if active != nil && mountMatches(activePath, r.URL.Path) {
		http.StripPrefix(activePath, active.Router()).ServeHTTP(w, r)
		return
	}
	if staleMatch {
		writeJSON(w, http.StatusGone, map[string]any{
			"success":    false,
			"error":      "mount path changed",
			"activePath": activePath,
			"time":       time.Now().UnixMilli(),
		})
		return
	}
	http.NotFound(w, r)
}

func normalizeMount(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(path, "/")
}

func mountMatches(mount, reqPath string) bool {
	if mount == "" {
		return true
	}
	return reqPath == mount || strings.HasPrefix(reqPath, mount+"/")
}

func matchMount(mounts map[string]bool, reqPath string) bool {
	for mount := range mounts {
		if mountMatches(mount, reqPath) {
			return true
		}
	}
	return false
}
