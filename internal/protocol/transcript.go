// internal/protocol/transcript.go
package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	json "github.com/json-iterator/go"
)

// ErrUnknownMethod is returned when a transcript line names no known message.
var ErrUnknownMethod = errors.New("unknown protocol method")

// envelope is one transcript line.
type envelope struct {
	Method Method          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Marshal encodes a message as a single transcript line without the trailing
// newline.
func Marshal(m Message) ([]byte, error) {
	params, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s params: %w", m.Method(), err)
	}
	return json.Marshal(envelope{Method: m.Method(), Params: params})
}

// Unmarshal decodes and validates one transcript line.
func Unmarshal(line []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}

	msg, err := decodeParams(env.Method, env.Params)
	if err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

func decodeParams(method Method, params []byte) (Message, error) {
	if len(params) == 0 {
		params = []byte("{}")
	}
	switch method {
	case MethodSetDocument:
		return decodeAs[DocumentSet](params)
	case MethodSetDetachedRoot:
		return decodeAs[DetachedRootSet](params)
	case MethodSetChildNodes:
		return decodeAs[ChildNodesSet](params)
	case MethodChildNodeCountUpdated:
		return decodeAs[ChildNodeCountUpdated](params)
	case MethodChildNodeInserted:
		return decodeAs[ChildNodeInserted](params)
	case MethodChildNodeRemoved:
		return decodeAs[ChildNodeRemoved](params)
	case MethodAttributesUpdated:
		return decodeAs[AttributesUpdated](params)
	case MethodAttributeModified:
		return decodeAs[AttributeModified](params)
	case MethodAttributeRemoved:
		return decodeAs[AttributeRemoved](params)
	case MethodCharacterDataModified:
		return decodeAs[CharacterDataModified](params)
	case MethodInlineStyleInvalidated:
		return decodeAs[InlineStyleInvalidated](params)
	case MethodAck:
		return decodeAs[Ack](params)
	case MethodCookiesResult:
		return decodeAs[CookiesResult](params)
	case MethodEventListenersResult:
		return decodeAs[EventListenersResult](params)
	case MethodStylesResult:
		return decodeAs[StylesResult](params)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
}

func decodeAs[T Message](params []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(params, &m); err != nil {
		return nil, fmt.Errorf("failed to decode %s params: %w", m.Method(), err)
	}
	return m, nil
}

// Encoder writes newline-delimited transcript lines.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes m followed by a newline.
func (e *Encoder) Encode(m Message) error {
	line, err := Marshal(m)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := e.w.Write(line); err != nil {
		return fmt.Errorf("failed to write transcript line: %w", err)
	}
	return nil
}

// Decoder reads newline-delimited transcript lines. Blank lines are skipped.
type Decoder struct {
	r    *bufio.Reader
	line int
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode returns the next message, or io.EOF when the input is exhausted.
func (d *Decoder) Decode() (Message, error) {
	for {
		raw, err := d.r.ReadBytes('\n')
		if len(raw) == 0 && err != nil {
			return nil, err
		}
		d.line++
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			if err != nil {
				return nil, err
			}
			continue
		}
		msg, decErr := Unmarshal(raw)
		if decErr != nil {
			return nil, fmt.Errorf("transcript line %d: %w", d.line, decErr)
		}
		return msg, nil
	}
}
