package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Snapshotter hands out the current state of a live order, so a freshly
// connected display does not have to wait for the next transition.
type Snapshotter interface {
	CurrentSnapshot(orderID string) (interface{}, bool)
}

// UpgradeOrderWS upgrades the connection for a display watching one order.
// The order id comes from the ?order_id query parameter.
func UpgradeOrderWS(hub *Hub, snapshots Snapshotter) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Query("order_id")
		if orderID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "order_id query parameter required", "code": "MISSING_PARAM"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		client := &Client{
			OrderID: orderID,
			Send:    make(chan []byte, 16),
		}
		hub.Register(client)
		defer client.Close()

		if snapshots != nil {
			if snap, ok := snapshots.CurrentSnapshot(orderID); ok {
				// seed the display before streaming transitions
				if data, err := json.Marshal(snap); err == nil {
					client.Send <- data
				}
			}
		}

		go writePump(client, conn)
		readPump(conn)
	}
}

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
			break
		}
	}
}
