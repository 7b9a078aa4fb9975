// Package realtime defines the duplex frame envelope carried over the
// realtime endpoint. Inbound frames are validated twice: structurally
// against a JSON schema, then semantically via Validate.
package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	apibridge "github.com/tiger/persona-bridge/api/bridge"
)

// FrameType identifies one realtime frame kind.
type FrameType string

const (
	FrameChat      FrameType = "chat"
	FrameHeartbeat FrameType = "heartbeat"
	FrameStatus    FrameType = "status"
	// FrameError is server-originated only; inbound error frames are rejected.
	FrameError FrameType = "error"
)

// Validate enforces supported inbound frame types.
func (f FrameType) Validate() error {
	switch f {
	case FrameChat, FrameHeartbeat, FrameStatus:
		return nil
	case FrameError:
		return fmt.Errorf("error frames are server-originated only")
	default:
		return fmt.Errorf("unsupported frame type: %q", f)
	}
}

// Frame is the JSON envelope carried in both directions on a realtime
// connection.
type Frame struct {
	Type        FrameType          `json:"type"`
	UserID      string             `json:"userId,omitempty"`
	PersonaID   apibridge.PersonaID `json:"personaId,omitempty"`
	Data        json.RawMessage    `json:"data,omitempty"`
	TimestampMS int64              `json:"timestamp"`
	RequestID   string             `json:"requestId,omitempty"`
}

// ChatData is the payload of an inbound chat frame.
type ChatData struct {
	Message string                   `json:"message"`
	Options apibridge.RequestOptions `json:"options,omitempty"`
}

// ErrorData is the payload of a server-originated error frame.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validate enforces envelope invariants for inbound frames. The first frame
// of a connection must also carry userId and personaId; the session layer
// enforces that separately.
func (f Frame) Validate() error {
	if err := f.Type.Validate(); err != nil {
		return err
	}
	if f.TimestampMS < 0 {
		return fmt.Errorf("timestamp must be >= 0")
	}
	if f.Type == FrameChat {
		if strings.TrimSpace(f.RequestID) == "" {
			return fmt.Errorf("chat frames require a requestId")
		}
		var data ChatData
		if err := json.Unmarshal(f.Data, &data); err != nil {
			return fmt.Errorf("decode chat data: %w", err)
		}
		if strings.TrimSpace(data.Message) == "" {
			return fmt.Errorf("chat frames require a non-empty message")
		}
	}
	return nil
}

const frameSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "timestamp"],
  "properties": {
    "type": {"type": "string", "enum": ["chat", "heartbeat", "status"]},
    "userId": {"type": "string"},
    "personaId": {"type": "string"},
    "data": {},
    "timestamp": {"type": "integer", "minimum": 0},
    "requestId": {"type": "string"}
  },
  "additionalProperties": false
}`

var compiledFrameSchema = mustCompileFrameSchema()

func mustCompileFrameSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("frame.schema.json", strings.NewReader(frameSchema)); err != nil {
		panic(fmt.Sprintf("add frame schema resource: %v", err))
	}
	schema, err := compiler.Compile("frame.schema.json")
	if err != nil {
		panic(fmt.Sprintf("compile frame schema: %v", err))
	}
	return schema
}

// DecodeInbound validates a raw inbound envelope against the frame schema
// and decodes it. Schema rejection and semantic rejection both fail decode.
func DecodeInbound(raw []byte) (Frame, error) {
	var generic any
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&generic); err != nil {
		return Frame{}, fmt.Errorf("decode frame envelope: %w", err)
	}
	if err := compiledFrameSchema.Validate(generic); err != nil {
		return Frame{}, fmt.Errorf("frame schema violation: %w", err)
	}

	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if err := frame.Validate(); err != nil {
		return Frame{}, err
	}
	return frame, nil
}

// NewErrorFrame builds a server-originated error frame.
func NewErrorFrame(code, message string, timestampMS int64, requestID string) Frame {
	data, _ := json.Marshal(ErrorData{Code: code, Message: message})
	return Frame{
		Type:        FrameError,
		Data:        data,
		TimestampMS: timestampMS,
		RequestID:   requestID,
	}
}
