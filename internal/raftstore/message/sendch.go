package message

import (
	"errors"
	"sync"
)

var (
	ErrChannelFull   = errors.New("raftstore: message channel is full")
	ErrChannelClosed = errors.New("raftstore: message channel is closed")
)

// Sender delivers a message without waiting.
type Sender interface {
	TrySend(Msg) error
}

// SendCh is a bounded, closable message channel.
type SendCh struct {
	name string
	ch   chan Msg

	mu     sync.RWMutex
	closed bool
}

var _ Sender = (*SendCh)(nil)

func NewSendCh(name string, capacity int) *SendCh {
	if capacity <= 0 {
		capacity = 1
	}
	return &SendCh{name: name, ch: make(chan Msg, capacity)}
}

// TrySend enqueues m or fails immediately.
func (s *SendCh) TrySend(m Msg) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrChannelClosed
	}
	select {
	case s.ch <- m:
		return nil
	default:
		return ErrChannelFull
	}
}

// Receive exposes the channel to the single consumer. It is closed by Close.
func (s *SendCh) Receive() <-chan Msg {
	return s.ch
}

func (s *SendCh) Len() int {
	return len(s.ch)
}

func (s *SendCh) Name() string {
	return s.name
}

// Close rejects further sends. Messages already queued can still be drained.
func (s *SendCh) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
