package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"fwstore/config"
	"fwstore/internal/auth"
	"fwstore/internal/domain"
	"fwstore/internal/service"
	"fwstore/pkg/logging"

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

const writeWait = 10 * time.Second

// StatusSource reads a payment's state for its owner.
type StatusSource interface {
	PollStatus(ctx context.Context, reference string, userID uint) (*service.PaymentStatus, error)
}

// PaymentStream pushes a payment's status to the buyer until it settles. The database row is
// re-read on every tick; nothing about the payment is cached here.
type PaymentStream struct {
	jwt      *config.JWTConfig
	source   StatusSource
	Interval time.Duration
	MaxWait  time.Duration
}

func NewPaymentStream(jwt *config.JWTConfig, source StatusSource) *PaymentStream {
	return &PaymentStream{jwt: jwt, source: source, Interval: 2 * time.Second, MaxWait: 90 * time.Second}
}

type message struct {
	Type   string                 `json:"type"` // status, timeout, error
	Status *service.PaymentStatus `json:"status,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// Handle upgrades GET /ws/payments?reference=&token=.
func (s *PaymentStream) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	token := c.Query("token")
	reference := c.Query("reference")
	if token == "" || reference == "" {
		writeJSON(conn, message{Type: "error", Error: "token and reference required"})
		return
	}
	claims, err := auth.ParseAccessToken(s.jwt, token)
	if err != nil {
		writeJSON(conn, message{Type: "error", Error: "invalid token"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.MaxWait)
	defer cancel()
	go readPump(conn, cancel)
	s.stream(ctx, conn, reference, claims.UserID)
}

func (s *PaymentStream) stream(ctx context.Context, conn *websocket.Conn, reference string, userID uint) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	last := ""
	for {
		st, err := s.source.PollStatus(ctx, reference, userID)
		switch {
		case errors.Is(err, service.ErrPaymentNotFound), errors.Is(err, service.ErrForbidden):
			// same answer for both so the stream does not reveal other users' references
			writeJSON(conn, message{Type: "error", Error: "payment not found"})
			return
		case err != nil && ctx.Err() == nil:
			logging.Errorf("[WS] payment status ref=%s: %v", reference, err)
			writeJSON(conn, message{Type: "error", Error: "status unavailable"})
			return
		case err == nil && st.Status != last:
			last = st.Status
			if writeJSON(conn, message{Type: "status", Status: st}) != nil {
				return
			}
			if st.Status != domain.StatusPending {
				writeClose(conn)
				return
			}
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				writeJSON(conn, message{Type: "timeout"})
				writeClose(conn)
			}
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames and cancels the stream when the client goes away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(conn *websocket.Conn, m message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func writeClose(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}
