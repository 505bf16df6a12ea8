package server

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
)

// WebSocketConn is the subset of *websocket.Conn the push and read loops
// need. Tests substitute their own implementation.
type WebSocketConn interface {
	io.Closer
	WriteJSON(v any) error
	ReadJSON(v any) error
}

var upgrader = websocket.Upgrader{CheckOrigin: originAllowed}

// originAllowed accepts browsers on the same host and on the local network.
// The daemon is operated from the machine it guards or from the studio LAN;
// there is no public origin to allow.
func originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Same-origin requests and non-browser clients send no Origin.
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		slog.Warn("websocket origin rejected: unparseable", "origin", origin)
		return false
	}
	host := u.Hostname()

	reqHost := r.Host
	if h, _, err := net.SplitHostPort(reqHost); err == nil {
		reqHost = h
	}

	if host == reqHost || host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		return true
	}

	slog.Warn("websocket origin rejected", "origin", origin)
	return false
}

// UpgradeConnection upgrades r to a WebSocket connection.
func UpgradeConnection(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return upgrader.Upgrade(w, r, nil)
}
