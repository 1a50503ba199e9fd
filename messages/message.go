package messages

import (
	"fmt"

	"github.com/go-openapi/strfmt"
	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Part is one element of a message body. Implementations are TextPart,
// ReasoningPart and ToolPart.
type Part interface {
	part()
}

// TextPart accumulates streamed assistant or user text.
type TextPart struct {
	Text string `json:"text"`
}

func (TextPart) part() {}

// ReasoningPart accumulates streamed model reasoning. Renderers hide it by
// default.
type ReasoningPart struct {
	Text string `json:"text"`
}

func (ReasoningPart) part() {}

// ToolPart references a ToolCall by id. The call itself lives in the
// conversation's tool call index.
type ToolPart struct {
	CallID string `json:"call_id"`
}

func (ToolPart) part() {}

// Message is an ordered sequence of parts authored by one role. Parts are
// append-only while streaming; once Frozen is set the message never changes
// again.
type Message struct {
	ID        string          `json:"id"`
	Role      Role            `json:"role"`
	Parts     []Part          `json:"parts"`
	CreatedAt strfmt.DateTime `json:"created_at"`
	Frozen    bool            `json:"frozen,omitempty"`
}

// Clone returns a deep copy of the message. Part values are immutable value
// types, so copying the slice is sufficient.
func (m Message) Clone() Message {
	dup := m
	dup.Parts = make([]Part, len(m.Parts))
	copy(dup.Parts, m.Parts)
	return dup
}

// Text concatenates all text parts of the message.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// MarshalJSON emits the parts array with a type marker per part so the
// document round-trips through renderers written in other languages.
func (m Message) MarshalJSON() ([]byte, error) {
	result := []byte(`{}`)

	var err error
	result, err = sjson.SetBytes(result, "id", m.ID)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "role", string(m.Role))
	if err != nil {
		return nil, err
	}

	parts := []byte(`[]`)
	for _, part := range m.Parts {
		pj, err := marshalPart(part)
		if err != nil {
			return nil, err
		}
		parts, err = sjson.SetRawBytes(parts, "-1", pj)
		if err != nil {
			return nil, err
		}
	}
	result, err = sjson.SetRawBytes(result, "parts", parts)
	if err != nil {
		return nil, err
	}

	if !m.CreatedAt.IsZero() {
		result, err = sjson.SetBytes(result, "created_at", m.CreatedAt.String())
		if err != nil {
			return nil, err
		}
	}
	if m.Frozen {
		result, err = sjson.SetBytes(result, "frozen", true)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func marshalPart(part Part) ([]byte, error) {
	switch p := part.(type) {
	case TextPart:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		return sjson.SetBytes(b, "type", "text")
	case ReasoningPart:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		return sjson.SetBytes(b, "type", "reasoning")
	case ToolPart:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		return sjson.SetBytes(b, "type", "tool")
	default:
		return nil, fmt.Errorf("unknown part type: %T", part)
	}
}

// UnmarshalJSON parses the tagged parts array back into typed parts.
func (m *Message) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}
	jv := gjson.ParseBytes(data)

	m.ID = jv.Get("id").String()
	m.Role = Role(jv.Get("role").String())
	m.Frozen = jv.Get("frozen").Bool()

	if ts := jv.Get("created_at"); ts.Exists() {
		if err := m.CreatedAt.UnmarshalText([]byte(ts.String())); err != nil {
			return fmt.Errorf("invalid created_at: %w", err)
		}
	}

	parts := jv.Get("parts")
	if !parts.Exists() {
		m.Parts = nil
		return nil
	}
	arr := parts.Array()
	m.Parts = make([]Part, 0, len(arr))
	for idx, pv := range arr {
		part, err := unmarshalPart(pv)
		if err != nil {
			return fmt.Errorf("invalid part at %d: %w", idx, err)
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

func unmarshalPart(pv gjson.Result) (Part, error) {
	switch tpe := pv.Get("type").String(); tpe {
	case "text":
		return TextPart{Text: pv.Get("text").String()}, nil
	case "reasoning":
		return ReasoningPart{Text: pv.Get("text").String()}, nil
	case "tool":
		return ToolPart{CallID: pv.Get("call_id").String()}, nil
	default:
		return nil, fmt.Errorf("unknown part type %q", tpe)
	}
}
