package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"fieldclock/internal/models"
	"fieldclock/internal/timeclock"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message types sent to clients.
const (
	MessageStatus = "status"
	MessageEvent  = "timeclock_event"
)

type Message struct {
	Type   string                  `json:"type"`
	Status *models.TimeClockStatus `json:"status,omitempty"`
	Event  *timeclock.Event        `json:"event,omitempty"`
}

// StatusFunc loads the snapshot sent when a client connects.
type StatusFunc func(ctx context.Context, userID string) (models.TimeClockStatus, error)

// UpgradeTimeClockWS streams a user's time clock events. The current status
// is sent first, followed by one message per transition.
func UpgradeTimeClockWS(hub *Hub, status StatusFunc, log *logrus.Entry) gin.HandlerFunc {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		client := NewClient(userID, 64)
		if status != nil {
			if st, err := status(c.Request.Context(), userID); err == nil {
				client.trySend(mustJSON(Message{Type: MessageStatus, Status: &st}))
			} else {
				log.WithError(err).WithField("user_id", userID).Warn("load status for websocket")
			}
		}
		hub.Register(client)

		done := make(chan struct{})
		go func() {
			defer close(done)
			writePump(client, conn)
		}()
		readPump(conn)
		client.Close()
		<-done
	}
}

// writePump copies messages from client.Send to the connection.
func writePump(c *Client, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func readPump(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func mustJSON(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}
