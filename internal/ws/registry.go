package ws

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Handle 标识一条打开的传输会话，与用户身份无关。
type Handle string

func NewHandle() Handle { return Handle(uuid.NewString()) }

// Outbox 是连接的出站队列；Send 不得阻塞。
type Outbox interface {
	Send(payload []byte) error
	Close() error
}

// Connection 是 Registry 中的一条连接记录。
type Connection struct {
	Handle       Handle
	UserID       string
	Username     string
	State        AliveState
	LastActivity time.Time
}

func (c Connection) Authenticated() bool { return c.UserID != "" }

// Presence 是在线名册中的一项。
type Presence struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Peer 是广播时使用的连接副本。
type Peer struct {
	Handle Handle
	Out    Outbox
}

type entry struct {
	conn Connection
	out  Outbox
}

// Registry 是当前打开连接的唯一数据源。
// 主索引 handle -> 连接；辅助索引 userID -> handle 集合，只包含已认证连接。
type Registry struct {
	mu     sync.RWMutex
	conns  map[Handle]*entry
	byUser map[string]map[Handle]struct{}
	now    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[Handle]*entry),
		byUser: make(map[string]map[Handle]struct{}),
		now:    time.Now,
	}
}

// Admit 登记一条未认证连接。
func (r *Registry) Admit(h Handle, out Outbox) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[h]; ok {
		return ErrDuplicateHandle
	}
	r.conns[h] = &entry{
		conn: Connection{Handle: h, State: Alive, LastActivity: r.now()},
		out:  out,
	}
	return nil
}

// Authenticate 为连接绑定身份，每条连接最多一次。userID 不能为空。
func (r *Registry) Authenticate(h Handle, userID, username string) error {
	if userID == "" {
		return ErrInvalidIdentity
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[h]
	if !ok {
		return ErrUnknownHandle
	}
	if e.conn.Authenticated() {
		return ErrAlreadyAuthenticated
	}
	e.conn.UserID = userID
	e.conn.Username = username
	set := r.byUser[userID]
	if set == nil {
		set = make(map[Handle]struct{})
		r.byUser[userID] = set
	}
	set[h] = struct{}{}
	return nil
}

// Remove 移除连接；不存在时为空操作。返回值表示本次调用是否真正移除了它。
func (r *Registry) Remove(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[h]
	if !ok {
		return false
	}
	delete(r.conns, h)
	if uid := e.conn.UserID; uid != "" {
		if set := r.byUser[uid]; set != nil {
			delete(set, h)
			if len(set) == 0 {
				delete(r.byUser, uid)
			}
		}
	}
	return true
}

// Transition 推进连接的存活状态：Alive -> AwaitingPong -> {Alive, Terminated}。
func (r *Registry) Transition(h Handle, to AliveState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[h]
	if !ok {
		return ErrUnknownHandle
	}
	if !e.conn.State.canTransition(to) {
		return ErrInvalidTransition
	}
	e.conn.State = to
	if to == Alive {
		e.conn.LastActivity = r.now()
	}
	return nil
}

func (r *Registry) Lookup(h Handle) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[h]
	if !ok {
		return Connection{}, false
	}
	return e.conn, true
}

func (r *Registry) Outbox(h Handle) (Outbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[h]
	if !ok {
		return nil, false
	}
	return e.out, true
}

// ConnectionsFor 返回该用户当前所有连接的 handle，顺序无意义。
func (r *Registry) ConnectionsFor(userID string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.byUser[userID])
}

// Snapshot 返回按用户去重、按用户名排序的在线名册。
func (r *Registry) Snapshot() []Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rosterLocked()
}

// Peers 返回所有打开连接（含未认证）的副本。
func (r *Registry) Peers() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peersLocked()
}

// presenceView 在同一把读锁下取名册与连接列表，保证两者一致。
func (r *Registry) presenceView() ([]Presence, []Peer) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rosterLocked(), r.peersLocked()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) rosterLocked() []Presence {
	roster := make([]Presence, 0, len(r.byUser))
	for uid, set := range r.byUser {
		for h := range set {
			e, ok := r.conns[h]
			if !ok {
				continue
			}
			roster = append(roster, Presence{UserID: uid, Username: e.conn.Username})
			break
		}
	}
	sort.Slice(roster, func(i, j int) bool {
		if roster[i].Username != roster[j].Username {
			return roster[i].Username < roster[j].Username
		}
		return roster[i].UserID < roster[j].UserID
	})
	return roster
}

func (r *Registry) peersLocked() []Peer {
	return lo.MapToSlice(r.conns, func(h Handle, e *entry) Peer {
		return Peer{Handle: h, Out: e.out}
	})
}
