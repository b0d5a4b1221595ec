package ws

import (
	"sync"
	"sync/atomic"
	"time"
)

// AliveState 是单条连接的心跳状态。
type AliveState int32

const (
	Alive AliveState = iota
	AwaitingPong
	Terminated
)

func (s AliveState) String() string {
	switch s {
	case Alive:
		return "alive"
	case AwaitingPong:
		return "awaiting_pong"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

func (s AliveState) canTransition(to AliveState) bool {
	switch s {
	case Alive:
		return to == AwaitingPong
	case AwaitingPong:
		return to == Alive || to == Terminated
	}
	return false
}

// Heartbeat 为一条连接运行 ping/pong 状态机：
// Alive 等待 interval 后发送 ping 进入 AwaitingPong；
// timeout 内收到 pong 回到 Alive，否则进入 Terminated 并调用 onTerminate。
type Heartbeat struct {
	interval    time.Duration
	timeout     time.Duration
	probe       func() error
	onState     func(AliveState)
	onTerminate func()

	state    atomic.Int32
	pong     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
}

func NewHeartbeat(interval, timeout time.Duration, probe func() error, onState func(AliveState), onTerminate func()) *Heartbeat {
	if onState == nil {
		onState = func(AliveState) {}
	}
	return &Heartbeat{
		interval:    interval,
		timeout:     timeout,
		probe:       probe,
		onState:     onState,
		onTerminate: onTerminate,
		pong:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (hb *Heartbeat) Start() {
	if hb.started.CompareAndSwap(false, true) {
		go hb.run()
	}
}

func (hb *Heartbeat) State() AliveState { return AliveState(hb.state.Load()) }

// Pong 记录一次存活确认，不会阻塞读协程。
func (hb *Heartbeat) Pong() {
	select {
	case hb.pong <- struct{}{}:
	default:
	}
}

// Stop 取消挂起的定时器并等待监督协程退出。不能在 onTerminate 内调用。
func (hb *Heartbeat) Stop() {
	hb.stopOnce.Do(func() { close(hb.stop) })
	if hb.started.Load() {
		<-hb.done
	}
}

func (hb *Heartbeat) run() {
	defer close(hb.done)
	for {
		wait := time.NewTimer(hb.interval)
		select {
		case <-hb.stop:
			wait.Stop()
			return
		case <-wait.C:
		}

		// Alive 期间收到的 pong 不能抵消下一次探测。
		select {
		case <-hb.pong:
		default:
		}
		hb.set(AwaitingPong)
		if err := hb.probe(); err != nil {
			hb.terminate()
			return
		}

		deadline := time.NewTimer(hb.timeout)
		select {
		case <-hb.stop:
			deadline.Stop()
			return
		case <-hb.pong:
			deadline.Stop()
			hb.set(Alive)
		case <-deadline.C:
			hb.terminate()
			return
		}
	}
}

func (hb *Heartbeat) set(s AliveState) {
	hb.state.Store(int32(s))
	hb.onState(s)
}

func (hb *Heartbeat) terminate() {
	hb.set(Terminated)
	if hb.onTerminate != nil {
		hb.onTerminate()
	}
}
