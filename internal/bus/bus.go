package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/haricheung/thor-planner/internal/types"
)

const (
	subscriberBufSize = 64
	tapBufSize        = 256
)

// Bus is the per-request event bus. The executor publishes stage changes,
// planner attempts and the final outcome on it; the transport subscribes to
// stream progress and the auditor reads the tap.
//
// A Bus lives exactly as long as one request. Nothing on it is shared
// between requests.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[types.MessageType][]chan types.Message
	all         []chan types.Message
	tapCh       chan types.Message
	closed      bool
	logger      *zap.Logger
}

// New creates a new Bus.
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subscribers: make(map[types.MessageType][]chan types.Message),
		tapCh:       make(chan types.Message, tapBufSize),
		logger:      logger.Named("bus"),
	}
}

// Publish fans out msg to all subscribers of msg.Type and to the tap channel.
// Non-blocking: if a subscriber's channel is full, the message is dropped with a warning.
// Publishing on a closed Bus is a no-op.
func (b *Bus) Publish(msg types.Message) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, ch := range b.subscribers[msg.Type] {
		b.deliver(ch, msg)
	}
	for _, ch := range b.all {
		b.deliver(ch, msg)
	}

	select {
	case b.tapCh <- msg:
	default:
		b.logger.Warn("tap channel full, audit message dropped", zap.String("type", string(msg.Type)))
	}
}

func (b *Bus) deliver(ch chan types.Message, msg types.Message) {
	select {
	case ch <- msg:
	default:
		b.logger.Warn("subscriber channel full, message dropped",
			zap.String("type", string(msg.Type)), zap.String("task_id", msg.TaskID))
	}
}

// Subscribe returns a receive-only channel that delivers messages of type t.
// Each call creates a new independent subscriber channel. Subscribing after
// Close returns an already-closed channel.
func (b *Bus) Subscribe(t types.MessageType) <-chan types.Message {
	ch := make(chan types.Message, subscriberBufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[t] = append(b.subscribers[t], ch)
	return ch
}

// SubscribeAll returns a channel that delivers every published message in
// publish order, whatever its type.
func (b *Bus) SubscribeAll() <-chan types.Message {
	ch := make(chan types.Message, subscriberBufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.all = append(b.all, ch)
	return ch
}

// Tap returns the read-only tap channel for the Auditor.
// Only one consumer should call this; calling it multiple times returns the same channel.
func (b *Bus) Tap() <-chan types.Message {
	return b.tapCh
}

// Close closes every subscriber channel and the tap. Buffered messages are
// still delivered to readers. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	for _, ch := range b.all {
		close(ch)
	}
	close(b.tapCh)
}
