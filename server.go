package main

import (
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/micguard/micguard/internal/audio"
	"github.com/micguard/micguard/internal/config"
	"github.com/micguard/micguard/internal/eventlog"
	"github.com/micguard/micguard/internal/failover"
	"github.com/micguard/micguard/internal/incident"
	"github.com/micguard/micguard/internal/notify"
	"github.com/micguard/micguard/internal/server"
	"github.com/micguard/micguard/internal/types"
)

// loginHTML is the minimal login form rendered at /login.
const loginHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>micguard login</title></head>
<body>
<h1>micguard</h1>
{{if .Error}}<p>Invalid username or password.</p>{{end}}
<form method="post" action="/login">
<input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
<label>Username <input type="text" name="username" autocomplete="username"></label>
<label>Password <input type="password" name="password" autocomplete="current-password"></label>
<button type="submit">Log in</button>
</form>
<p><small>{{.Version}}</small></p>
</body>
</html>
`

var loginTmpl = template.Must(template.New("login").Parse(loginHTML))

type loginData struct {
	Error     bool
	CSRFToken string
	Version   string
}

// Server is the HTTP server exposing the WebSocket control surface and the
// read-only REST API.
type Server struct {
	config    *config.Config
	ctrl      *failover.Controller
	dir       *audio.Directory
	meter     *audio.Meter
	incidents *incident.Manager
	journal   *eventlog.Logger
	expiry    *notify.SecretExpiryChecker
	sessions  *server.SessionManager
	commands  *server.CommandHandler
	version   *VersionChecker
}

// NewServer returns a new Server wired to the running controller.
func NewServer(cfg *config.Config, ctrl *failover.Controller, dir *audio.Directory, meter *audio.Meter, incidents *incident.Manager, notifier *notify.DegradationNotifier, journal *eventlog.Logger) *Server {
	sessions := server.NewSessionManager()
	expiry := notify.NewSecretExpiryChecker(notify.BuildGraphConfig(cfg.Snapshot()))
	commands := server.NewCommandHandler(cfg, ctrl, dir, notifier, expiry, journal)

	return &Server{
		config:    cfg,
		ctrl:      ctrl,
		dir:       dir,
		meter:     meter,
		incidents: incidents,
		journal:   journal,
		expiry:    expiry,
		sessions:  sessions,
		commands:  commands,
		version:   NewVersionChecker(),
	}
}

// handleWebSocket handles bidirectional WebSocket communication for real-time updates.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Create buffered send channel for thread-safe writes.
	// Only the writer goroutine writes to the connection, preventing race conditions.
	send := make(chan any, 16)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	// Writer goroutine - sole writer to the connection
	go s.runWebSocketWriter(conn, send)

	// Reader goroutine - handles incoming commands
	go s.runWebSocketReader(conn, send, done, statusUpdate)

	s.runWebSocketEventLoop(send, done, statusUpdate)
}

// runWebSocketWriter writes messages from the send channel to the connection.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop handles periodic status and level updates.
func (s *Server) runWebSocketEventLoop(send chan any, done, statusUpdate <-chan struct{}) {
	levelsTicker := time.NewTicker(100 * time.Millisecond)  // 10 fps for VU meters
	statusTicker := time.NewTicker(3000 * time.Millisecond) // Status updates every 3s
	defer levelsTicker.Stop()
	defer statusTicker.Stop()

	// trySend attempts to send a message, returning false if done is closed
	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	// Send initial status
	if !trySend(s.buildWSStatus()) {
		close(send)
		return
	}

	for {
		select {
		case <-done:
			close(send)
			return
		case <-statusUpdate:
			if !trySend(s.buildWSStatus()) {
				close(send)
				return
			}
		case <-levelsTicker.C:
			if !trySend(s.buildWSLevels()) {
				close(send)
				return
			}
		case <-statusTicker.C:
			if !trySend(s.buildWSStatus()) {
				close(send)
				return
			}
		}
	}
}

// buildWSLevels returns the current VU meter frame.
func (s *Server) buildWSLevels() types.WSLevelsResponse {
	st := s.ctrl.Status()
	return types.WSLevelsResponse{
		Type:   "levels",
		Device: st.ActiveDevice.Name,
		Levels: s.meter.Levels(),
	}
}

// buildWSStatus returns the current WebSocket status response.
func (s *Server) buildWSStatus() types.WSStatusResponse {
	cfg := s.config.Snapshot()
	st := s.ctrl.Status()

	return types.WSStatusResponse{
		Type:               "status",
		State:              st.State,
		ActiveDevice:       st.ActiveDevice,
		ActiveQuery:        st.ActiveQuery,
		PrimaryQuery:       st.PrimaryQuery,
		AccumulatedSilence: st.AccumulatedSilence,
		SkippedQueries:     st.SkippedQueries,
		LockMode:           st.LockMode,
		Monitoring:         st.Monitoring,
		Settings: types.DetectionSettings{
			SilenceThresholdRMS:   cfg.SilenceThresholdRMS,
			SilenceTimeoutSeconds: cfg.SilenceTimeoutSeconds,
			SampleIntervalSeconds: cfg.SampleIntervalSeconds,
			SampleDurationSeconds: cfg.SampleDurationSeconds,
			DetectionEnabled:      cfg.DetectionEnabled,
		},
		Devices: types.DevicePolicy{
			Priority: cfg.Priority,
			Aliases:  cfg.Aliases,
			Lock:     cfg.LockQuery,
		},
		GraphSecretExpiry: s.expiry.GetInfo(),
		Version:           s.version.Info(),
	}
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()
	auth := s.sessions.AuthMiddleware()

	// Public routes (no auth required)
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)
	mux.HandleFunc("/health", s.handleHealth)

	// Protected routes
	mux.HandleFunc("/ws", auth(s.handleWebSocket))
	mux.HandleFunc("/api/status", auth(s.handleAPIStatus))
	mux.HandleFunc("/api/devices", auth(s.handleAPIDevices))
	mux.HandleFunc("/api/events", auth(s.handleAPIEvents))
	mux.HandleFunc("/api/incidents", auth(s.handleAPIIncidents))

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// handleLogin handles login page display and form submission.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie("micguard_session"); err == nil {
		if s.sessions.Validate(cookie.Value) {
			http.Redirect(w, r, "/api/status", http.StatusFound)
			return
		}
	}

	data := loginData{
		Version:   Version,
		CSRFToken: s.sessions.CreateCSRFToken(),
	}

	if r.Method == http.MethodPost {
		csrfToken := r.FormValue("csrf_token")
		if !s.sessions.ValidateCSRFToken(csrfToken) {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}

		cfg := s.config.Snapshot()
		username := r.FormValue("username")
		password := r.FormValue("password")

		if s.sessions.Login(w, r, username, password, cfg.WebUser, cfg.WebPassword) {
			http.Redirect(w, r, "/api/status", http.StatusFound)
			return
		}

		data.Error = true
		data.CSRFToken = s.sessions.CreateCSRFToken() // New token for retry
	}

	w.Header().Set("Content-Type", "text/html")
	if err := loginTmpl.Execute(w, data); err != nil {
		slog.Error("failed to render login page", "error", err)
	}
}

// handleLogout handles user logout requests.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Logout(w, r)
	http.Redirect(w, r, "/login", http.StatusFound)
}

// handleHealth serves the unauthenticated liveness endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.ctrl.Status()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"state":      st.State,
		"monitoring": st.Monitoring,
		"version":    Version,
	})
}

// Start begins the HTTP server.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().WebPort)
	slog.Info("starting web server", "addr", addr)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.SetupRoutes(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
