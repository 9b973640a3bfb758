package main

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"
)

const qrSize = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Non-browser clients don't send Origin
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statsResponse struct {
	MetricsSnapshot
	Lobbies []LobbyInfo `json:"lobbies"`
}

// SetupRoutes configures HTTP routes. joinURL is the page phones open from a
// QR code; when empty it is derived from the request host.
func SetupRoutes(hub *Hub, joinURL string) *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r)
		if !hub.CanAccept(ip) {
			hub.metrics.Track(EvtRejected)
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}
		if !hub.AllowAttempt(r.Context(), ip) {
			hub.metrics.Track(EvtRejected)
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}

		q := r.URL.Query()
		req := ConnectRequest{
			Token:      q.Get("token"),
			Action:     q.Get("action"),
			LobbyID:    q.Get("lobby"),
			Difficulty: q.Get("difficulty"),
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn("upgrade error", "error", err)
			return
		}

		hub.TrackConnect(ip)
		hub.metrics.Track(EvtConnect)

		client := NewClient(hub, conn, ip, q.Get("encoding") == "msgpack")
		lobby, role, err := hub.Admit(req, client)
		if err != nil {
			rejectConn(hub, client, err)
			return
		}
		client.attach(lobby, role)
		client.logger.Info("client connected")

		hub.register <- client

		go client.WritePump()
		go client.ReadPump()
	})

	mux.HandleFunc("/qr", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		id := strings.ToUpper(q.Get("lobby"))
		if _, err := hub.lobbies.GetLobby(id); err != nil {
			http.Error(w, ErrorMessage(err), http.StatusNotFound)
			return
		}
		token := q.Get("token")
		if token == "" {
			token = "player"
		}
		if _, err := ParseToken(token); err != nil {
			http.Error(w, ErrorMessage(err), http.StatusBadRequest)
			return
		}

		png, err := qrcode.Encode(joinLink(r, joinURL, id, token), qrcode.Medium, qrSize)
		if err != nil {
			hub.logger.Error("qr encode error", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(png)
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statsResponse{
			MetricsSnapshot: hub.metrics.Snapshot(),
			Lobbies:         hub.lobbies.List(),
		})
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return mux
}

// joinLink builds the URL encoded in a lobby's QR code
func joinLink(r *http.Request, base, lobbyID, token string) string {
	if base == "" {
		base = "http://" + r.Host + "/"
	}
	v := url.Values{}
	v.Set("lobby", lobbyID)
	v.Set("token", token)
	return base + "?" + v.Encode()
}

// rejectConn tells the client why it was refused, then closes the socket
func rejectConn(hub *Hub, c *Client, err error) {
	msg := ErrorMessage(err)
	c.logger.Info("connection rejected", "reason", msg, "error", err)
	hub.metrics.Track(EvtRejected)
	c.open.Store(false)

	data, merr := json.Marshal(NewErrorMsg(msg))
	if merr == nil {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		c.conn.WriteMessage(websocket.TextMessage, data)
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg))
	}
	c.conn.Close()
	hub.TrackDisconnect(c.remoteAddr)
}
