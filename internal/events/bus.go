package events

import (
	"sync"
	"time"

	"guideflow/internal/logging"
)

// Mirror receives every published event in append order. The event log writer
// implements it; failures must be handled by the mirror itself (the in-memory
// stream stays authoritative).
type Mirror interface {
	Append(evt Event) error
}

// Bus is the in-memory event stream of one session. It assigns contiguous
// sequence numbers, keeps a bounded replay buffer, and fans out to any number
// of subscribers. After a terminal event every subscriber channel is closed
// and further publishes are no-ops.
type Bus struct {
	sessionID string
	size      int
	logger    logging.Logger

	mu       sync.Mutex
	buffer   []Event
	nextSeq  int64
	subs     map[int]*subscriber
	nextSub  int
	terminal bool
	mirror   Mirror
	now      func() time.Time
}

// NewBus creates a bus with the given replay buffer bound.
func NewBus(sessionID string, bufferSize int, logger logging.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Bus{
		sessionID: sessionID,
		size:      bufferSize,
		logger:    logging.OrNop(logger),
		subs:      map[int]*subscriber{},
		now:       time.Now,
	}
}

// SetMirror attaches the event log mirror. Must be called before the first
// publish; events published earlier are not replayed into the mirror.
func (b *Bus) SetMirror(m Mirror) {
	b.mu.Lock()
	b.mirror = m
	b.mu.Unlock()
}

// Publish appends an event to the stream. It returns the sequenced event, or
// false when the stream is already terminal.
func (b *Bus) Publish(evtType Type, payload map[string]any) (Event, bool) {
	b.mu.Lock()
	if b.terminal {
		b.mu.Unlock()
		return Event{}, false
	}
	evt := Event{
		Type:      evtType,
		SessionID: b.sessionID,
		Seq:       b.nextSeq,
		TS:        b.now().UnixMilli(),
		Payload:   payload,
	}
	b.nextSeq++

	b.buffer = append(b.buffer, evt)
	if len(b.buffer) > b.size {
		// Evict oldest; late subscribers recover history from the log mirror.
		b.buffer = b.buffer[len(b.buffer)-b.size:]
	}

	if b.mirror != nil {
		if err := b.mirror.Append(evt); err != nil {
			b.logger.Warn("event log append failed for %s seq=%d: %v", b.sessionID, evt.Seq, err)
		}
	}

	terminal := evt.IsTerminal()
	if terminal {
		b.terminal = true
	}
	for _, sub := range b.subs {
		sub.enqueue(evt)
		if terminal {
			sub.finish()
		}
	}
	if terminal {
		b.subs = map[int]*subscriber{}
	}
	b.mu.Unlock()
	return evt, true
}

// Subscribe returns a channel that first replays the buffered events and then
// streams live ones. The channel closes after the terminal event.
func (b *Bus) Subscribe() <-chan Event {
	sub := newSubscriber()

	b.mu.Lock()
	for _, evt := range b.buffer {
		sub.enqueue(evt)
	}
	if b.terminal {
		sub.finish()
	} else {
		id := b.nextSub
		b.nextSub++
		b.subs[id] = sub
	}
	b.mu.Unlock()

	go sub.run()
	return sub.out
}

// Terminal reports whether the terminal event was published.
func (b *Bus) Terminal() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.terminal
}

// NextSeq returns the sequence number the next event would receive.
func (b *Bus) NextSeq() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextSeq
}

// subscriber decouples delivery from publishing: each subscriber drains its
// own queue in a dedicated goroutine, so one slow consumer never stalls the
// bus or its peers.
type subscriber struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
	out    chan Event
}

func newSubscriber() *subscriber {
	s := &subscriber{out: make(chan Event)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *subscriber) enqueue(evt Event) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, evt)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

// finish marks the queue complete; run closes out after draining.
func (s *subscriber) finish() {
	s.mu.Lock()
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *subscriber) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			close(s.out)
			return
		}
		evt := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.out <- evt
	}
}
