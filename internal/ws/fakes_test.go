package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"relaychat/internal/auth"
	"relaychat/internal/service"
)

type fakeTransport struct {
	mu     sync.Mutex
	msgs   [][]byte
	fail   error
	closes atomic.Int32
	pings  chan struct{}
	pingFn func() error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{pings: make(chan struct{}, 64)}
}

func (f *fakeTransport) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.msgs = append(f.msgs, append([]byte(nil), payload...))
	return nil
}

func (f *fakeTransport) Close() error {
	f.closes.Add(1)
	return nil
}

func (f *fakeTransport) Ping() error {
	select {
	case f.pings <- struct{}{}:
	default:
	}
	if f.pingFn != nil {
		return f.pingFn()
	}
	return nil
}

func (f *fakeTransport) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *fakeTransport) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.msgs))
	for _, m := range f.msgs {
		out = append(out, string(m))
	}
	return out
}

func (f *fakeTransport) last() string {
	msgs := f.messages()
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

type appendCall struct {
	sender, recipient, text string
}

type fakeStore struct {
	mu      sync.Mutex
	calls   []appendCall
	err     error
	gate    chan struct{}
	entered chan struct{}
	nextID  uint
	stamp   time.Time
}

func (s *fakeStore) Append(ctx context.Context, sender, recipient, text string) (service.MessageDTO, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return service.MessageDTO{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, appendCall{sender, recipient, text})
	if s.err != nil {
		return service.MessageDTO{}, s.err
	}
	s.nextID++
	stamp := s.stamp
	if stamp.IsZero() {
		stamp = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	}
	return service.MessageDTO{
		ID:              s.nextID,
		SenderUserID:    sender,
		RecipientUserID: recipient,
		Text:            text,
		CreatedAt:       stamp,
	}, nil
}

func (s *fakeStore) appended() []appendCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]appendCall(nil), s.calls...)
}

type fakeVerifier map[string]auth.Identity

func (v fakeVerifier) Verify(credential string) (auth.Identity, error) {
	if credential == "" {
		return auth.Identity{}, auth.ErrNoCredential
	}
	id, ok := v[credential]
	if !ok {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return id, nil
}

type published struct {
	subject string
	value   any
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
}

func (p *fakePublisher) Publish(subject string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{subject, v})
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.sent))
	for _, s := range p.sent {
		out = append(out, s.subject)
	}
	return out
}

type fakeUsers struct {
	mu   sync.Mutex
	seen map[string]string
}

func (u *fakeUsers) Upsert(_ context.Context, id, username string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.seen == nil {
		u.seen = make(map[string]string)
	}
	u.seen[id] = username
	return nil
}

var errBoom = errors.New("boom")

func jsonUnmarshal(s string, v any) error { return json.Unmarshal([]byte(s), v) }

func mustMarshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
