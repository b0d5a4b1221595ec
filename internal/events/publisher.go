package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/nats-io/nats.go"
)

// Publisher 把在线名册和已转发的消息作为事件发出，供其它服务订阅。投递尽力而为。
type Publisher interface {
	Publish(subject string, v any) error
	Close() error
}

func PresenceSubject(prefix string) string {
	return prefix + ".presence"
}

// ErrInvalidSubjectToken 表示用户 id 不能安全地作为单个 NATS subject token。
var ErrInvalidSubjectToken = errors.New("invalid subject token")

// MessageSubject 返回收件人的消息 subject。recipientUserID 来自客户端，
// 含 '.'、通配符或空白时会改变 subject 的层级，直接拒绝。
func MessageSubject(prefix, recipientUserID string) (string, error) {
	if !validToken(recipientUserID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSubjectToken, recipientUserID)
	}
	return fmt.Sprintf("%s.messages.%s", prefix, recipientUserID), nil
}

func validToken(tok string) bool {
	if tok == "" {
		return false
	}
	return strings.IndexFunc(tok, func(r rune) bool {
		return r == '.' || r == '*' || r == '>' || unicode.IsSpace(r) || unicode.IsControl(r)
	}) < 0
}

// Nop 在未配置 NATS 时使用。
type Nop struct{}

func (Nop) Publish(string, any) error { return nil }
func (Nop) Close() error              { return nil }

type NatsPublisher struct {
	nc *nats.Conn
}

// Connect 连接 NATS，断线后无限重连。
func Connect(url, name string) (*NatsPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NatsPublisher{nc: nc}, nil
}

func (p *NatsPublisher) Publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

func (p *NatsPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
