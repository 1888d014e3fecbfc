package main

import (
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sapliy/notify-engine/internal/notification"
	"github.com/sapliy/notify-engine/pkg/jsonutil"
)

const wsReadLimit = 4096

// recipientFromToken verifies the HMAC-signed JWT and returns its subject.
func (s *Server) recipientFromToken(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return sub, nil
}

// NotificationsWebSocket upgrades the connection and registers the session
// for real-time pushes. The recipient identity comes from the token query
// parameter; the socket is read-only from the client side.
func (s *Server) NotificationsWebSocket(w http.ResponseWriter, r *http.Request) {
	recipientID, err := s.recipientFromToken(r.URL.Query().Get("token"))
	if err != nil {
		jsonutil.WriteErrorJSON(w, http.StatusUnauthorized, err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	session := notification.NewSession(conn)
	s.registry.Register(recipientID, session)
	s.logger.Info("WebSocket connected", "recipient_id", recipientID)

	go session.WritePump()

	go func() {
		defer func() {
			s.registry.Deregister(recipientID, session)
			session.Close()
			s.logger.Info("WebSocket disconnected", "recipient_id", recipientID)
		}()

		// Clients never send application frames; the read loop only
		// detects disconnects and close frames.
		conn.SetReadLimit(wsReadLimit)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
