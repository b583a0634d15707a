package server

import (
	"bloodbooth/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// requireUpgrade rejects plain HTTP requests on websocket routes.
func requireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// WebsocketHandler streams donation request events to the authenticated user.
// @Summary Donation request event feed
// @Description Websocket stream of donation_request.* events for the caller. Token via ?token= or bearer header.
// @Tags realtime
// @Param token query string false "JWT"
// @Success 101
// @Failure 401 {object} models.ErrorResponse
// @Failure 426
// @Router /ws [get]
func (s *Server) WebsocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("userID").(string)
		if userID == "" {
			middleware.Logger.Warn("websocket: unauthenticated connection attempt")
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"unauthorized"}`))
			_ = conn.Close()
			return
		}

		if s.hub == nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"realtime events unavailable"}`))
			_ = conn.Close()
			return
		}

		client, err := s.hub.Register(userID, conn)
		if err != nil {
			middleware.Logger.Warn("websocket: register failed", "user_id", userID, "error", err.Error())
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}

		middleware.Logger.Info("websocket: user connected", "user_id", userID)

		// The handler must block until the connection ends.
		go client.WritePump()
		client.ReadPump()
	})
}
