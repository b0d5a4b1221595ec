package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"relaychat/internal/auth"
	"relaychat/internal/events"
	"relaychat/internal/metrics"
	"relaychat/internal/service"

	"github.com/rs/zerolog/log"
)

// IdentityVerifier 把握手凭证解析为身份。
type IdentityVerifier interface {
	Verify(credential string) (auth.Identity, error)
}

// UserRecorder 记录连接过的身份，使已知用户名册保持完整。
type UserRecorder interface {
	Upsert(ctx context.Context, id, username string) error
}

// Transport 是一条传输会话：出站队列、存活探测与强制关闭。
type Transport interface {
	Outbox
	Ping() error
}

type Options struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	NotifyRejections  bool
	Publisher         events.Publisher
	SubjectPrefix     string
	Users             UserRecorder
}

// Hub 串起连接生命周期：认证、登记、心跳监督、消息转发与在线广播。
type Hub struct {
	registry *Registry
	presence *Broadcaster
	relay    *Relay
	verifier IdentityVerifier
	opts     Options
}

func NewHub(store MessageStore, verifier IdentityVerifier, opts Options) *Hub {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 5 * time.Second
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = time.Second
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.SubjectPrefix == "" {
		opts.SubjectPrefix = "relaychat"
	}
	h := &Hub{registry: NewRegistry(), verifier: verifier, opts: opts}
	h.presence = NewBroadcaster(h.registry, h.writeFailed, h.publishRoster)
	h.relay = NewRelay(h.registry, store, h.writeFailed)
	return h
}

// Run 运行广播协程，直到 ctx 结束。
func (h *Hub) Run(ctx context.Context) { h.presence.Run(ctx) }

func (h *Hub) Registry() *Registry { return h.registry }

// Online 返回当前在线名册，供 REST 接口复用。
func (h *Hub) Online() []Presence { return h.registry.Snapshot() }

// Open 登记一条新连接。凭证缺失或无效时连接保持匿名，而不是被拒绝。
func (h *Hub) Open(ctx context.Context, tr Transport, credential string) (*Client, error) {
	handle := NewHandle()
	if err := h.registry.Admit(handle, tr); err != nil {
		return nil, err
	}
	metrics.WsConnections.Inc()
	c := &Client{hub: h, handle: handle, transport: tr}

	id, err := h.verifier.Verify(credential)
	switch {
	case err == nil:
		if err := h.registry.Authenticate(handle, id.UserID, id.Username); err != nil {
			log.Error().Err(err).Str("handle", string(handle)).Msg("authenticate")
			break
		}
		c.identity = id
		if h.opts.Users != nil {
			if err := h.opts.Users.Upsert(ctx, id.UserID, id.Username); err != nil {
				log.Warn().Err(err).Str("user_id", id.UserID).Msg("record user")
			}
		}
	case errors.Is(err, auth.ErrNoCredential):
	default:
		log.Debug().Err(err).Str("handle", string(handle)).Msg("anonymous connection")
	}

	c.hb = NewHeartbeat(h.opts.HeartbeatInterval, h.opts.HeartbeatTimeout, tr.Ping,
		func(s AliveState) {
			if err := h.registry.Transition(handle, s); err != nil {
				log.Debug().Err(err).Str("handle", string(handle)).Stringer("state", s).Msg("alive transition")
			}
		},
		func() {
			if h.evict(handle) {
				metrics.HeartbeatEvictionsTotal.Inc()
				log.Info().Str("handle", string(handle)).Str("user_id", id.UserID).Msg("heartbeat timeout")
			}
		},
	)
	c.hb.Start()
	h.presence.Trigger()
	log.Debug().Str("handle", string(handle)).Str("user_id", c.identity.UserID).Msg("connection open")
	return c, nil
}

// CloseAll 关闭所有连接，用于停服。
func (h *Hub) CloseAll() {
	for _, p := range h.registry.Peers() {
		h.evict(p.Handle)
	}
}

// evict 是所有关闭路径的汇合点：只有真正移除连接的调用者负责关闭传输并广播。
func (h *Hub) evict(handle Handle) bool {
	out, _ := h.registry.Outbox(handle)
	if !h.registry.Remove(handle) {
		return false
	}
	metrics.WsConnections.Dec()
	if out != nil {
		_ = out.Close()
	}
	h.presence.Trigger()
	return true
}

func (h *Hub) writeFailed(handle Handle, err error) {
	if h.evict(handle) {
		log.Info().Err(err).Str("handle", string(handle)).Msg("evicted after write failure")
	}
}

func (h *Hub) publishRoster(roster []Presence) {
	if err := h.opts.Publisher.Publish(events.PresenceSubject(h.opts.SubjectPrefix), presencePayload{Online: roster}); err != nil {
		log.Warn().Err(err).Msg("publish presence")
	}
}

func (h *Hub) publishMessage(msg service.MessageDTO) {
	subject, err := events.MessageSubject(h.opts.SubjectPrefix, msg.RecipientUserID)
	if err != nil {
		log.Warn().Err(err).Uint("message_id", msg.ID).Msg("skip message event")
		return
	}
	if err := h.opts.Publisher.Publish(subject, msg); err != nil {
		log.Warn().Err(err).Uint("message_id", msg.ID).Msg("publish message")
	}
}

// Client 是 Hub 为一条打开连接返回的句柄，由传输层的读协程驱动。
type Client struct {
	hub       *Hub
	handle    Handle
	transport Transport
	identity  auth.Identity
	hb        *Heartbeat
}

func (c *Client) Handle() Handle { return c.handle }

func (c *Client) Identity() (auth.Identity, bool) {
	return c.identity, c.identity.UserID != ""
}

// Receive 处理一条入站载荷。同一连接的载荷按到达顺序串行处理。
func (c *Client) Receive(ctx context.Context, payload []byte) {
	msg, err := c.hub.relay.Relay(ctx, c.handle, payload)
	if err != nil {
		reason := dropReason(err)
		metrics.RelayDroppedTotal.WithLabelValues(reason).Inc()
		ev := log.Debug()
		if reason == "store" {
			ev = log.Error()
		}
		ev.Err(err).Str("handle", string(c.handle)).Str("reason", reason).Msg("relay dropped")
		if c.hub.opts.NotifyRejections {
			c.reject(reason)
		}
		return
	}
	c.hub.publishMessage(*msg)
}

type rejection struct {
	Error string `json:"error"`
}

func (c *Client) reject(reason string) {
	b, err := json.Marshal(rejection{Error: reason})
	if err != nil {
		log.Error().Err(err).Str("reason", reason).Msg("marshal rejection")
		return
	}
	if err := c.transport.Send(b); err != nil {
		c.hub.writeFailed(c.handle, err)
	}
}

// Pong 在收到 pong 控制帧时调用。
func (c *Client) Pong() { c.hb.Pong() }

// Close 同步停止心跳，再移除连接。可重复调用，也可与心跳超时并发。
func (c *Client) Close() {
	c.hb.Stop()
	c.hub.evict(c.handle)
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrMalformedPayload):
		return "malformed"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrStore):
		return "store"
	}
	return "unknown"
}
