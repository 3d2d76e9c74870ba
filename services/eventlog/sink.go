package eventlog

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/segmentio/kafka-go"

	"github.com/apxor/browserpool/logger"
	"go.uber.org/zap"
)

// Sink fans an Event out to Kafka (for streaming consumers), Mongo (for
// querying recent pool history), and any local subscriber (for the
// websocket event-stream endpoint). Any destination may be nil/empty, in
// which case publishing to it is skipped.
type Sink struct {
	writer     *kafka.Writer
	collection *mongo.Collection

	mu          sync.Mutex
	subscribers map[chan Event]struct{}
}

// Subscribe registers a channel to receive every future Publish call. The
// channel is buffered so a slow reader drops events rather than blocking
// the pool; callers should read promptly. Call the returned func to
// unsubscribe.
func (s *Sink) Subscribe() (ch chan Event, unsubscribe func()) {
	ch = make(chan Event, 64)
	if s == nil {
		return ch, func() { close(ch) }
	}
	s.mu.Lock()
	if s.subscribers == nil {
		s.subscribers = make(map[chan Event]struct{})
	}
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		delete(s.subscribers, ch)
		s.mu.Unlock()
		close(ch)
	}
}

func (s *Sink) broadcast(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- e:
		default:
			logger.Warn("eventlog: subscriber channel full, dropping event")
		}
	}
}

// NewSink connects to brokers/topic and mongoURI/db.collection. Any of the
// four may be empty to disable that destination.
func NewSink(ctx context.Context, brokers []string, topic string, mongoURI, db, collection string) (*Sink, error) {
	s := &Sink{}

	if len(brokers) > 0 && topic != "" {
		s.writer = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		}
	}

	if mongoURI != "" {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
		if err != nil {
			return nil, err
		}
		s.collection = client.Database(db).Collection(collection)
	}

	return s, nil
}

// Publish records e to every configured destination. Failures are logged,
// not returned — a broken event sink must never fail a pool operation.
func (s *Sink) Publish(ctx context.Context, e Event) {
	if s == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	if s.writer != nil {
		msg, err := e.ToKafkaMessage()
		if err != nil {
			logger.Error("eventlog: marshal failed", zap.Error(err))
		} else if err := s.writer.WriteMessages(ctx, *msg); err != nil {
			logger.Error("eventlog: kafka publish failed", zap.Error(err))
		}
	}

	if s.collection != nil {
		if _, err := s.collection.InsertOne(ctx, e); err != nil {
			logger.Error("eventlog: mongo insert failed", zap.Error(err))
		}
	}

	s.broadcast(e)
}

// Close flushes and closes the Kafka writer, if configured.
func (s *Sink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
