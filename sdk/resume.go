package golive

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// resumptionTokenTTL is the server-side validity ceiling for a handle.
const resumptionTokenTTL = 2 * time.Hour

// ResumptionToken is an opaque credential that lets a new connection
// continue a prior session's context. Only the most recently issued token
// is valid.
type ResumptionToken struct {
	Handle    string
	IssuedAt  time.Time
	Resumable bool
}

// Expired reports whether the token is past its validity ceiling.
func (t ResumptionToken) Expired(now time.Time) bool {
	return now.After(t.IssuedAt.Add(resumptionTokenTTL))
}

// TokenStore persists resumption tokens outside the process, so a restart
// can pick up a live conversation. Save is called for every update;
// implementations should keep only the latest token.
type TokenStore interface {
	Save(token ResumptionToken) error
}

// resumptionManager holds the single latest-token slot. Superseded tokens
// are discarded immediately; there is no history.
type resumptionManager struct {
	persist TokenStore
	logger  *slog.Logger

	mu    sync.Mutex
	token ResumptionToken
	set   bool
}

func newResumptionManager(store TokenStore, logger *slog.Logger) *resumptionManager {
	return &resumptionManager{persist: store, logger: logger}
}

// store atomically replaces the held token (last-write-wins).
func (m *resumptionManager) store(handle string, resumable bool) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return
	}
	token := ResumptionToken{
		Handle:    handle,
		IssuedAt:  time.Now(),
		Resumable: resumable,
	}
	m.mu.Lock()
	m.token = token
	m.set = true
	m.mu.Unlock()

	if m.persist != nil {
		if err := m.persist.Save(token); err != nil {
			m.logger.Warn("token store save failed", "error", err)
		}
	}
}

// latest returns the current token. The second return is false when no
// resumable token is held.
func (m *resumptionManager) latest() (ResumptionToken, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set || !m.token.Resumable || m.token.Expired(time.Now()) {
		return ResumptionToken{}, false
	}
	return m.token, true
}
