package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"relaychat/internal/metrics"
	"relaychat/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// MessageStore 持久化消息并分配 id 与创建时间。
type MessageStore interface {
	Append(ctx context.Context, senderUserID, recipientUserID, text string) (service.MessageDTO, error)
}

// InboundMessage 是客户端发来的唯一合法载荷。
type InboundMessage struct {
	RecipientUserID string `json:"recipientUserId" validate:"required"`
	Text            string `json:"text" validate:"required"`
}

// Relay 校验、落库并转发消息。落库完成之前不会转发。
type Relay struct {
	registry          *Registry
	store             MessageStore
	validate          *validator.Validate
	onDeliveryFailure func(Handle, error)
}

func NewRelay(reg *Registry, store MessageStore, onDeliveryFailure func(Handle, error)) *Relay {
	return &Relay{
		registry:          reg,
		store:             store,
		validate:          validator.New(),
		onDeliveryFailure: onDeliveryFailure,
	}
}

func (r *Relay) Relay(ctx context.Context, sender Handle, payload []byte) (*service.MessageDTO, error) {
	var in InboundMessage
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := r.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	conn, ok := r.registry.Lookup(sender)
	if !ok || !conn.Authenticated() {
		return nil, ErrUnauthenticated
	}

	msg, err := r.store.Append(ctx, conn.UserID, in.RecipientUserID, in.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	metrics.WsMessagesTotal.Inc()

	out, err := json.Marshal(msg)
	if err != nil {
		// 消息已落库，只是无法实时推送；收件人仍可从历史中取到。
		metrics.RelayDroppedTotal.WithLabelValues("encode").Inc()
		log.Error().Err(err).Uint("message_id", msg.ID).Str("recipient_id", in.RecipientUserID).Msg("marshal relayed message")
		return &msg, nil
	}
	// 收件人连接集合在落库完成后读取。
	for _, h := range r.registry.ConnectionsFor(in.RecipientUserID) {
		ob, ok := r.registry.Outbox(h)
		if !ok {
			continue
		}
		if err := ob.Send(out); err != nil {
			metrics.WsWriteFailuresTotal.Inc()
			log.Warn().Err(err).Str("handle", string(h)).Uint("message_id", msg.ID).Msg("relay write")
			if r.onDeliveryFailure != nil {
				r.onDeliveryFailure(h, err)
			}
		}
	}
	return &msg, nil
}
