// Package protocol defines the versioned message types exchanged over the
// trading bus and the topics they travel on. Every message shares a common
// envelope (version, type, timestamp, source agent, optional correlation id,
// metadata); type-specific fields sit alongside the envelope fields in the
// serialized JSON. Unknown fields are ignored on decode; unknown types are
// reported via ErrUnknownType so consumers can drop and log them.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is stamped into every outgoing message envelope.
const SchemaVersion = "1.0"

// Message type discriminators carried in the envelope's "type" field.
const (
	TypeMarketData      = "market_data"
	TypeSignal          = "signal"
	TypeTradeIntent     = "trade_intent"
	TypeOrder           = "order"
	TypeExecutionReport = "execution_report"
	TypeFill            = "fill"
	TypePosition        = "position"
	TypeRiskAssessment  = "risk_assessment"
)

// ErrUnknownType is returned by Decode when the type discriminator does not
// match any known message type. Consumers drop the message and log it.
var ErrUnknownType = errors.New("unknown message type")

// Header is the envelope shared by all bus messages.
type Header struct {
	Version       string                 `json:"version"`
	Type          string                 `json:"type"`
	Timestamp     time.Time              `json:"timestamp"`                // wall-clock, UTC
	SourceAgent   string                 `json:"source_agent"`             // origin worker name
	CorrelationID string                 `json:"correlation_id,omitempty"` // threads intent -> order -> execution
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// NewHeader builds an envelope for the given message type and source worker.
func NewHeader(msgType, source string) Header {
	return Header{
		Version:     SchemaVersion,
		Type:        msgType,
		Timestamp:   time.Now().UTC(),
		SourceAgent: source,
	}
}

// WithCorrelation returns a copy of the header with the correlation id set.
func (h Header) WithCorrelation(id string) Header {
	h.CorrelationID = id
	return h
}

// WithMeta returns a copy of the header with a metadata entry added.
func (h Header) WithMeta(key string, value interface{}) Header {
	if h.Metadata == nil {
		h.Metadata = make(map[string]interface{})
	}
	h.Metadata[key] = value
	return h
}

// MetaFloat reads a numeric metadata entry. Returns false when the key is
// absent or not a number.
func (h Header) MetaFloat(key string) (float64, bool) {
	v, ok := h.Metadata[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// MetaString reads a string metadata entry.
func (h Header) MetaString(key string) (string, bool) {
	v, ok := h.Metadata[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Message is implemented by every bus message type.
type Message interface {
	// Kind returns the type discriminator for the message.
	Kind() string
	// Envelope returns the shared header for stamping and inspection.
	Envelope() *Header
}

// NewCorrelationID returns a fresh correlation id for a new message chain.
func NewCorrelationID() string {
	return uuid.NewString()
}

// Encode stamps envelope defaults and serializes the message to JSON.
func Encode(m Message) ([]byte, error) {
	h := m.Envelope()
	if h.Version == "" {
		h.Version = SchemaVersion
	}
	if h.Type == "" {
		h.Type = m.Kind()
	}
	if h.Timestamp.IsZero() {
		h.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", m.Kind(), err)
	}
	return data, nil
}

// Decode deserializes a bus message, dispatching on the envelope's type
// discriminator. Unknown types return ErrUnknownType.
func Decode(data []byte) (Message, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message envelope: %w", err)
	}

	var msg Message
	switch probe.Type {
	case TypeMarketData:
		msg = &MarketData{}
	case TypeSignal:
		msg = &Signal{}
	case TypeTradeIntent:
		msg = &TradeIntent{}
	case TypeOrder:
		msg = &Order{}
	case TypeExecutionReport:
		msg = &ExecutionReport{}
	case TypeFill:
		msg = &Fill{}
	case TypePosition:
		msg = &Position{}
	case TypeRiskAssessment:
		msg = &RiskAssessment{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, probe.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s message: %w", probe.Type, err)
	}
	return msg, nil
}
