// Package browser drives a Chrome instance over the DevTools protocol with
// go-rod and exposes its pages as detection hosts.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"privasense/internal/config"
)

// ErrNotConnected is returned when no browser is attached.
var ErrNotConnected = errors.New("browser not connected")

// Session describes the public metadata for a tracked page.
type Session struct {
	ID        string
	TargetID  string
	URL       string
	Incognito bool
	Status    string
	CreatedAt time.Time
}

type sessionRecord struct {
	meta    Session
	page    *rod.Page
	context *rod.Browser // incognito browser context, nil for the default one
}

// SessionManager owns the Chrome instance and tracks the pages opened in it.
type SessionManager struct {
	cfg        config.BrowserConfig
	logger     *zap.Logger
	mu         sync.RWMutex
	browser    *rod.Browser
	sessions   map[string]*sessionRecord
	controlURL string // WebSocket URL for DevTools
}

// NewSessionManager creates a new session manager. A nil logger is
// replaced with a no-op.
func NewSessionManager(cfg config.BrowserConfig, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*sessionRecord),
	}
}

// Start connects to an existing Chrome or launches a new one.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// If we already have a browser, verify it's still alive
	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		m.logger.Warn("stale browser connection detected, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
		m.sessions = make(map[string]*sessionRecord)
	}

	controlURL, err := m.resolveControlURL()
	if err != nil {
		return err
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	m.controlURL = controlURL
	m.logger.Debug("browser connected", zap.String("control_url", controlURL))
	return nil
}

// resolveControlURL returns the configured debugger URL or launches Chrome.
func (m *SessionManager) resolveControlURL() (string, error) {
	if m.cfg.DebuggerURL != "" {
		return m.cfg.DebuggerURL, nil
	}

	if len(m.cfg.Launch) > 0 {
		bin := m.cfg.Launch[0]
		launch := launcher.New().Bin(bin).Headless(m.cfg.Headless)
		for _, rawFlag := range m.cfg.Launch[1:] {
			name, val, hasVal := ParseFlag(rawFlag)
			if hasVal {
				launch = launch.Set(name, val)
			} else {
				launch = launch.Set(name)
			}
		}
		url, err := launch.Launch()
		if err == nil {
			return url, nil
		}
		// Retry without the extra flags; a bad flag should not block detection.
		m.logger.Warn("chrome launch with flags failed, retrying bare", zap.Error(err))
		alt, altErr := launcher.New().Bin(bin).Headless(m.cfg.Headless).Launch()
		if altErr != nil {
			return "", fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
		}
		return alt, nil
	}

	url, err := launcher.New().Headless(m.cfg.Headless).Launch()
	if err != nil {
		return "", fmt.Errorf("no debugger_url and failed to launch: %w", err)
	}
	return url, nil
}

// ParseFlag splits a command-line switch like "--window-size=800,600"
// into its launcher flag name and optional value.
func ParseFlag(raw string) (flags.Flag, string, bool) {
	flagStr := strings.TrimLeft(raw, "-")
	name, val, hasVal := strings.Cut(flagStr, "=")
	return flags.Flag(name), val, hasVal
}

func (m *SessionManager) ensureStarted(ctx context.Context) error {
	m.mu.RLock()
	if m.browser != nil {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()
	return m.Start(ctx)
}

// ControlURL returns the WebSocket debugger URL.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// Shutdown closes tracked pages and the browser.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, record := range m.sessions {
		record.close()
		delete(m.sessions, id)
	}

	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.controlURL = ""
	return err
}

// CreateSession opens a page on url and tracks it. With incognito set the
// page lives in a fresh off-the-record browser context.
func (m *SessionManager) CreateSession(ctx context.Context, url string, incognito bool) (*Session, error) {
	if err := m.ensureStarted(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}

	target := browser
	var offRecord *rod.Browser
	if incognito {
		ctxBrowser, err := browser.Incognito()
		if err != nil {
			return nil, fmt.Errorf("incognito context: %w", err)
		}
		target = ctxBrowser
		offRecord = ctxBrowser
	}

	page, err := target.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		if offRecord != nil {
			_ = offRecord.Close()
		}
		return nil, fmt.Errorf("create page: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.GetNavigationTimeout())
	defer cancel()
	if err := page.Context(navCtx).Navigate(url); err != nil {
		_ = page.Close()
		if offRecord != nil {
			_ = offRecord.Close()
		}
		return nil, fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		m.logger.Debug("page load wait failed", zap.String("url", url), zap.Error(err))
	}

	meta := Session{
		ID:        uuid.NewString(),
		TargetID:  string(page.TargetID),
		URL:       url,
		Incognito: incognito,
		Status:    "active",
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.sessions[meta.ID] = &sessionRecord{meta: meta, page: page, context: offRecord}
	m.mu.Unlock()

	m.logger.Debug("session created",
		zap.String("session", meta.ID),
		zap.String("url", url),
		zap.Bool("incognito", incognito))
	return &meta, nil
}

// Page returns the underlying Rod page for a session.
func (m *SessionManager) Page(sessionID string) (*rod.Page, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return rec.page, true
}

// CloseSession closes a session's page and its incognito context.
func (m *SessionManager) CloseSession(sessionID string) error {
	m.mu.Lock()
	rec, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown session: %s", sessionID)
	}
	rec.close()
	return nil
}

// Host returns a detection host bound to a session's page.
func (m *SessionManager) Host(sessionID string) (*Host, error) {
	page, ok := m.Page(sessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session: %s", sessionID)
	}
	return NewHost(page, m.cfg.GetEvalTimeout(), m.logger), nil
}

func (r *sessionRecord) close() {
	if r.page != nil {
		_ = r.page.Close()
	}
	if r.context != nil {
		_ = r.context.Close()
	}
}
