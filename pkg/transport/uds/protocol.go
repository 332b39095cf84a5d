package uds

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

var reqCounter atomic.Uint64

// MsgType identifies the kind of message.
type MsgType string

const (
	MsgTypeReq MsgType = "req"
	MsgTypeRes MsgType = "res"
	MsgTypeEvt MsgType = "evt"
)

// Message is the NDJSON envelope for all communication on the control socket.
type Message struct {
	Type   MsgType         `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// UnmarshalData decodes the message payload into v.
func (m Message) UnmarshalData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s: empty payload", m.Method)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", m.Method, err)
	}
	return nil
}

func marshalData(data any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// NewRequest creates a new request message with a unique ID.
func NewRequest(method string, data any) (Message, error) {
	raw, err := marshalData(data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:   MsgTypeReq,
		ID:     fmt.Sprintf("req-%d", reqCounter.Add(1)),
		Method: method,
		Data:   raw,
	}, nil
}

// NewResponse creates a response to a request.
func NewResponse(reqID, method string, data any) (Message, error) {
	raw, err := marshalData(data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:   MsgTypeRes,
		ID:     reqID,
		Method: method,
		Data:   raw,
	}, nil
}

// NewErrorResponse creates an error response.
func NewErrorResponse(reqID, method, errMsg string) Message {
	return Message{
		Type:   MsgTypeRes,
		ID:     reqID,
		Method: method,
		Error:  errMsg,
	}
}

// NewEvent creates a server-pushed event.
func NewEvent(method string, data any) (Message, error) {
	raw, err := marshalData(data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:   MsgTypeEvt,
		ID:     fmt.Sprintf("evt-%d", reqCounter.Add(1)),
		Method: method,
		Data:   raw,
	}, nil
}

// Methods
const (
	MethodPing        = "Ping"
	MethodStatus      = "Status"
	MethodRecent      = "Recent"
	MethodDeadLetters = "DeadLetters"

	EventEntryRelayed = "entries.relayed"
	EventDiagnostic   = "diagnostics"
)

// PingResponse is the response to a Ping request.
type PingResponse struct {
	Pong    bool   `json:"pong"`
	Version string `json:"version,omitempty"`
}

// RecentRequest asks for the last relayed entries.
type RecentRequest struct {
	Limit int `json:"limit"`
}

// DeadLettersRequest asks for the newest dead-lettered records.
type DeadLettersRequest struct {
	Limit int `json:"limit"`
}
