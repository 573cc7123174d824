package audit

import (
	"encoding/json"
	"log"
	"sync"
)

// Publisher delivers one serialized audit message to a topic.
type Publisher interface {
	Publish(topic string, body []byte) error
}

type message struct {
	topic string
	body  []byte
}

// Emitter decouples audit emission from the request path: Emit hands the
// message to a buffered channel drained by a single goroutine, so a slow or
// failing sink never adds latency to a check-in. Messages are dropped when
// the buffer is full; publish failures are logged and swallowed.
type Emitter struct {
	pub      Publisher
	messages chan message
	stop     chan struct{}
	stopped  chan struct{}
	once     sync.Once
}

func NewEmitter(pub Publisher, buffer int) *Emitter {
	if buffer <= 0 {
		buffer = 64
	}
	e := &Emitter{
		pub:      pub,
		messages: make(chan message, buffer),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go e.drain()
	return e
}

// Emit serializes the event and queues it. Never blocks and never panics:
// the messages channel is never closed (Close signals the drain goroutine
// instead), so an emit racing shutdown is dropped, not a send on a closed
// channel.
func (e *Emitter) Emit(topic string, event interface{}) {
	body, err := json.Marshal(event)
	if err != nil {
		log.Printf("audit: failed to marshal event for topic %s: %v", topic, err)
		return
	}

	select {
	case <-e.stop:
		log.Printf("audit: emitter closed, dropping message for topic %s", topic)
		return
	default:
	}

	select {
	case e.messages <- message{topic: topic, body: body}:
	default:
		log.Printf("audit: buffer full, dropping message for topic %s", topic)
	}
}

// Close stops accepting messages and waits for the buffered ones to drain.
func (e *Emitter) Close() {
	e.once.Do(func() {
		close(e.stop)
		<-e.stopped
	})
}

func (e *Emitter) drain() {
	defer close(e.stopped)
	for {
		select {
		case m := <-e.messages:
			e.publish(m)
		case <-e.stop:
			// Flush whatever is already buffered, then exit.
			for {
				select {
				case m := <-e.messages:
					e.publish(m)
				default:
					return
				}
			}
		}
	}
}

func (e *Emitter) publish(m message) {
	if err := e.pub.Publish(m.topic, m.body); err != nil {
		log.Printf("audit: failed to publish to topic %s: %v", m.topic, err)
	}
}
