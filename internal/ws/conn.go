package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"relaychat/internal/auth"
	"relaychat/internal/mw"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 10 * time.Second

// socket 把 gorilla 连接适配为 Transport：业务帧经 send 队列由写协程发出，ping 走 WriteControl。
type socket struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSocket(conn *websocket.Conn, buffer int) *socket {
	if buffer <= 0 {
		buffer = 256
	}
	return &socket{conn: conn, send: make(chan []byte, buffer), done: make(chan struct{})}
}

func (s *socket) Send(payload []byte) error {
	select {
	case <-s.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case s.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (s *socket) Ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *socket) writePump() {
	defer s.Close()
	for {
		select {
		case <-s.done:
			return
		case message := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Msg("ws write")
				return
			}
		}
	}
}

func (s *socket) readPump(ctx context.Context, c *Client, maxMessageBytes int64) {
	defer c.Close()
	s.conn.SetReadLimit(maxMessageBytes)
	s.conn.SetPongHandler(func(string) error {
		c.Pong()
		return nil
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("handle", string(c.handle)).Msg("ws read")
			}
			return
		}
		c.Receive(ctx, data)
	}
}

// ServeConfig 是 websocket 端点的参数。
type ServeConfig struct {
	Env             string
	ClientURL       string
	SendBuffer      int
	MaxMessageBytes int64
}

// Serve 升级 HTTP 连接；凭证来自 token cookie、Bearer 头或 token 查询参数，缺失时连接保持匿名。
// 握手的 Origin 按 mw.OriginAllowed 校验，不可信来源得到 403。
func Serve(h *Hub, cfg ServeConfig) gin.HandlerFunc {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 1 << 20
	}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if mw.OriginAllowed(cfg.Env, cfg.ClientURL, origin, r.Host) {
				return true
			}
			log.Warn().Str("origin", origin).Str("host", r.Host).Msg("ws origin rejected")
			return false
		},
	}
	return func(c *gin.Context) {
		credential := auth.CredentialFromRequest(c.Request)
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Debug().Err(err).Msg("ws upgrade")
			return
		}
		s := newSocket(conn, cfg.SendBuffer)
		client, err := h.Open(c.Request.Context(), s, credential)
		if err != nil {
			log.Error().Err(err).Msg("ws open")
			_ = s.Close()
			return
		}
		go s.writePump()
		s.readPump(c.Request.Context(), client, cfg.MaxMessageBytes)
	}
}
