// Package eventlog records pool lifecycle events (context created, evicted,
// recreated; browser restarted) to Kafka for downstream consumers and to
// Mongo for querying recent history, per SPEC_FULL.md's observability
// surface.
package eventlog

import (
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// Kind enumerates the pool lifecycle events worth recording.
type Kind string

const (
	KindContextCreated    Kind = "context_created"
	KindContextEvicted    Kind = "context_evicted"
	KindContextRecreated  Kind = "context_recreated"
	KindBrowserRestarted  Kind = "browser_restarted"
	KindBrowserDegraded   Kind = "browser_degraded"
)

// Event is one pool lifecycle occurrence.
type Event struct {
	Kind      Kind      `json:"kind" bson:"kind"`
	ContextID string    `json:"context_id,omitempty" bson:"context_id,omitempty"`
	Detail    string    `json:"detail,omitempty" bson:"detail,omitempty"`
	At        time.Time `json:"at" bson:"at"`
}

// ToKafkaMessage serializes e for publication, keyed by context id so a
// single context's events land on the same partition.
func (e Event) ToKafkaMessage() (*kafka.Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return &kafka.Message{
		Key:        []byte(e.ContextID),
		Value:      data,
		WriterData: e.ContextID,
	}, nil
}
