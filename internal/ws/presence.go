package ws

import (
	"context"
	"encoding/json"

	"relaychat/internal/metrics"

	"github.com/rs/zerolog/log"
)

type presencePayload struct {
	Online []Presence `json:"online"`
}

// Broadcaster 在成员变化后把在线名册推送给所有打开的连接。
// 触发通过单槽 channel 合并，由唯一的 Run 协程串行执行，保证每个连接看到的名册有序且最终一致。
type Broadcaster struct {
	registry       *Registry
	pending        chan struct{}
	onWriteFailure func(Handle, error)
	onRoster       func([]Presence)
}

func NewBroadcaster(reg *Registry, onWriteFailure func(Handle, error), onRoster func([]Presence)) *Broadcaster {
	return &Broadcaster{
		registry:       reg,
		pending:        make(chan struct{}, 1),
		onWriteFailure: onWriteFailure,
		onRoster:       onRoster,
	}
}

// Trigger 请求一次广播；已有待处理请求时合并。
func (b *Broadcaster) Trigger() {
	select {
	case b.pending <- struct{}{}:
	default:
	}
}

func (b *Broadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.pending:
			b.BroadcastPresence()
		}
	}
}

// BroadcastPresence 立即推送当前名册，返回成功入队的连接数。
func (b *Broadcaster) BroadcastPresence() int {
	roster, peers := b.registry.presenceView()
	payload, err := json.Marshal(presencePayload{Online: roster})
	if err != nil {
		log.Error().Err(err).Msg("marshal presence")
		return 0
	}
	delivered := 0
	for _, p := range peers {
		if err := p.Out.Send(payload); err != nil {
			metrics.WsWriteFailuresTotal.Inc()
			log.Warn().Err(err).Str("handle", string(p.Handle)).Msg("presence write")
			if b.onWriteFailure != nil {
				b.onWriteFailure(p.Handle, err)
			}
			continue
		}
		delivered++
	}
	metrics.PresenceBroadcastsTotal.Inc()
	metrics.OnlineUsers.Set(float64(len(roster)))
	if b.onRoster != nil {
		b.onRoster(roster)
	}
	return delivered
}
