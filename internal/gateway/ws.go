package gateway

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kiranatap/kirana/internal/order"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsSendBuffer   = 16
)

// wsMessage is the single frame shape used in both directions.
type wsMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Reply   string `json:"reply,omitempty"`
	OrderID string `json:"order_id,omitempty"`
	Status  string `json:"status,omitempty"`
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan wsMessage

	mu     sync.Mutex
	closed bool
	orders []string // orders created over this connection, oldest first
}

func (c *wsClient) ownOrder(id string) {
	c.mu.Lock()
	c.orders = append(c.orders, id)
	c.mu.Unlock()
}

func (c *wsClient) ownedOrders() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.orders...)
}

// enqueue hands a frame to the write pump. Returns false when the buffer is
// full or the client has already been dropped; the send channel is only ever
// closed through closeSend, so enqueue can never hit a closed channel.
func (c *wsClient) enqueue(msg wsMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *wsClient) closeSend() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

// Hub tracks live websocket connections and pushes order lifecycle events to
// them. It doubles as the per-connection identity a bare "yes" resolves
// against.
type Hub struct {
	svc      *Service
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]bool
}

func NewHub(svc *Service) *Hub {
	return &Hub{
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*wsClient]bool),
	}
}

// Push broadcasts an order lifecycle event to every connected client. A
// client whose send buffer is full is dropped rather than allowed to stall
// the rest.
func (h *Hub) Push(orderID string, status order.Status, message string) {
	frame := wsMessage{Type: "order_update", OrderID: orderID, Status: string(status), Reply: message}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.enqueue(frame) {
			log.Printf("dropping slow websocket client")
			delete(h.clients, c)
			c.closeSend()
		}
	}
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	c := &wsClient{hub: h, conn: conn, send: make(chan wsMessage, wsSendBuffer)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go c.writePump()
	c.readPump(r.Context())
}

func (h *Hub) drop(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.closeSend()
	c.conn.Close()
}

// Close disconnects every client. Used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		delete(h.clients, c)
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.closeSend()
		c.conn.Close()
	}
}

func (c *wsClient) readPump(ctx context.Context) {
	defer c.hub.drop(c)

	for {
		var in wsMessage
		if err := c.conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read: %v", err)
			}
			return
		}
		c.handle(ctx, in)
	}
}

func (c *wsClient) handle(ctx context.Context, in wsMessage) {
	switch in.Type {
	case "chat", "":
		if in.Message == "" {
			c.reply(wsMessage{Type: "error", Reply: "empty message"})
			return
		}
		if IsConfirmation(in.Message) {
			c.confirm(ctx, in.OrderID)
			return
		}
		ord, reply, err := c.hub.svc.ParseOrder(ctx, in.Message)
		if err != nil {
			log.Printf("websocket parse failed: %v", err)
			c.reply(wsMessage{Type: "error", Reply: "could not understand the order"})
			return
		}
		out := wsMessage{Type: "reply", Reply: reply}
		if ord != nil {
			c.ownOrder(ord.ID)
			out.OrderID = ord.ID
			out.Status = string(ord.Status)
		}
		c.reply(out)

	case "confirm":
		c.confirm(ctx, in.OrderID)

	default:
		c.reply(wsMessage{Type: "error", Reply: "unknown message type " + in.Type})
	}
}

// confirm submits the named order, or with no id, this connection's most
// recent pending order.
func (c *wsClient) confirm(ctx context.Context, orderID string) {
	var (
		reply string
		err   error
	)
	if orderID != "" {
		reply, err = c.hub.svc.Confirm(ctx, orderID)
	} else {
		reply, err = c.hub.svc.ConfirmLatest(ctx, c.ownedOrders())
	}
	if err != nil {
		c.reply(wsMessage{Type: "error", Reply: err.Error()})
		return
	}
	c.reply(wsMessage{Type: "reply", Reply: reply, OrderID: orderID})
}

func (c *wsClient) reply(msg wsMessage) {
	// Buffer full or client dropped; the write pump will notice the closed
	// connection.
	_ = c.enqueue(msg)
}

func (c *wsClient) writePump() {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
