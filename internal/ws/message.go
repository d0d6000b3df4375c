package ws

import (
	"log/slog"
	"net/http"

	"go-groupchat/internal/apperr"
	"go-groupchat/internal/auth"
)

// ServeWS authenticates the handshake, upgrades it and starts the client's
// pumps. Authentication failures are refused with 401 before the upgrade.
func ServeWS(hub *Hub, verifier *auth.Verifier, w http.ResponseWriter, r *http.Request) {
	remoteAddr := r.RemoteAddr
	slog.Debug("[WS] New WebSocket connection request", "from", remoteAddr)

	token := auth.ExtractTokenFromRequest(r)
	principal, err := verifier.Authenticate(r.Context(), token)
	if err != nil {
		if apperr.Is(err, apperr.KindAuth) {
			slog.Warn("[WS] Token validation failed", "from", remoteAddr, "error", err)
			http.Error(w, "Unauthorized: "+apperr.Public(err), http.StatusUnauthorized)
			return
		}
		slog.Error("[WS] Failed to resolve principal", "from", remoteAddr, "error", err)
		http.Error(w, apperr.Public(err), http.StatusServiceUnavailable)
		return
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("[WS] Failed to upgrade connection", "user", principal.UserId, "error", err)
		return
	}

	client := newClient(hub, conn, principal)
	if !hub.Register(client) {
		slog.Warn("[WS] Hub stopped, closing connection", "user", principal.UserId)
		conn.Close()
		return
	}
	slog.Info("[WS] Connection upgraded successfully", "conn", client.id, "user", principal.UserId)

	go client.WritePump()
	go client.ReadPump()
}
