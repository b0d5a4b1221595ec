package ws

import (
	"errors"
	"fmt"
)

// Registry 不变量被破坏时返回的错误，只影响当前调用。
var (
	ErrDuplicateHandle      = errors.New("duplicate connection handle")
	ErrUnknownHandle        = errors.New("unknown connection handle")
	ErrAlreadyAuthenticated = errors.New("connection already authenticated")
	ErrInvalidIdentity      = errors.New("identity has empty user id")
	ErrInvalidTransition    = errors.New("invalid alive state transition")
)

// Relay 丢弃消息的原因。
var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnauthenticated  = errors.New("sender not authenticated")
	ErrStore            = errors.New("message store failure")
)

// 单个连接的写失败，不影响其它连接。
var (
	ErrTransportWrite   = errors.New("transport write failed")
	ErrSendBufferFull   = fmt.Errorf("%w: send buffer full", ErrTransportWrite)
	ErrConnectionClosed = fmt.Errorf("%w: connection closed", ErrTransportWrite)
)
