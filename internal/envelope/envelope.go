// Package envelope implements the JSON frame format shared by the socket
// channel and the push stream.
//
// An Envelope is an ordered JSON object whose values are kept as raw JSON, so
// payload fields pass through byte-for-byte. Only the "type" discriminator is
// interpreted.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"kafka-proxy-client/internal/proxyerr"
)

const (
	TypeSubscribe = "subscribe"
	TypeProduce   = "produce"
	TypePing      = "ping"
	TypeMessage   = "message"
	TypeAck       = "ack"
	TypeRaw       = "raw"

	KeyType = "type"

	// DefaultFrom is the replay position used when none is given.
	DefaultFrom = "latest"
)

type Envelope struct {
	fields *orderedmap.OrderedMap[string, json.RawMessage]
}

func New(kind string) *Envelope {
	e := &Envelope{}
	if kind != "" {
		e.setString(KeyType, kind)
	}
	return e
}

func (e *Envelope) init() {
	if e.fields == nil {
		e.fields = orderedmap.New[string, json.RawMessage]()
	}
}

// Set marshals value and stores it under key. An existing key keeps its
// position.
func (e *Envelope) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("envelope field %q: %w", key, err)
	}
	e.SetRaw(key, raw)
	return nil
}

func (e *Envelope) SetRaw(key string, raw json.RawMessage) {
	e.init()
	e.fields.Set(key, append(json.RawMessage(nil), raw...))
}

func (e *Envelope) setString(key string, value string) {
	raw, _ := json.Marshal(value)
	e.SetRaw(key, raw)
}

func (e *Envelope) Delete(key string) {
	if e == nil || e.fields == nil {
		return
	}
	e.fields.Delete(key)
}

func (e *Envelope) Get(key string) (json.RawMessage, bool) {
	if e == nil || e.fields == nil {
		return nil, false
	}
	return e.fields.Get(key)
}

// String returns the field as a Go string when it holds a JSON string.
func (e *Envelope) String(key string) (string, bool) {
	raw, ok := e.Get(key)
	if !ok {
		return "", false
	}
	var out string
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", false
	}
	return out, true
}

// Field decodes the value stored under key into target.
func (e *Envelope) Field(key string, target any) error {
	raw, ok := e.Get(key)
	if !ok {
		return fmt.Errorf("envelope field %q not present", key)
	}
	return json.Unmarshal(raw, target)
}

// Type returns the discriminator or "" when absent or not a string.
func (e *Envelope) Type() string {
	kind, _ := e.String(KeyType)
	return kind
}

func (e *Envelope) Is(kinds ...string) bool {
	kind := e.Type()
	for _, k := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

func (e *Envelope) Len() int {
	if e == nil || e.fields == nil {
		return 0
	}
	return e.fields.Len()
}

func (e *Envelope) Keys() []string {
	if e == nil || e.fields == nil {
		return nil
	}
	keys := make([]string, 0, e.fields.Len())
	for pair := e.fields.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

func (e *Envelope) Clone() *Envelope {
	out := &Envelope{}
	if e == nil || e.fields == nil {
		return out
	}
	for pair := e.fields.Oldest(); pair != nil; pair = pair.Next() {
		out.SetRaw(pair.Key, pair.Value)
	}
	return out
}

func (e *Envelope) MarshalJSON() ([]byte, error) {
	if e == nil || e.fields == nil || e.fields.Len() == 0 {
		return []byte("{}"), nil
	}
	return e.fields.MarshalJSON()
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return proxyerr.ErrFrameDecode
	}
	fields := orderedmap.New[string, json.RawMessage]()
	if err := fields.UnmarshalJSON(trimmed); err != nil {
		return fmt.Errorf("%w: %v", proxyerr.ErrFrameDecode, err)
	}
	e.fields = fields
	return nil
}

// Subscribe builds {"type":"subscribe","topics":[...],"from":...}.
func Subscribe(topics []string, from string) *Envelope {
	if from == "" {
		from = DefaultFrom
	}
	if topics == nil {
		topics = []string{}
	}
	e := New(TypeSubscribe)
	_ = e.Set("topics", topics)
	e.setString("from", from)
	return e
}

// Produce builds a produce frame. key and headers are omitted when empty.
func Produce(topic string, key string, headers map[string]string, value any) (*Envelope, error) {
	e := New(TypeProduce)
	e.setString("topic", topic)
	if key != "" {
		e.setString("key", key)
	}
	if len(headers) > 0 {
		if err := e.Set("headers", headers); err != nil {
			return nil, err
		}
	}
	if err := e.Set("value", value); err != nil {
		return nil, err
	}
	return e, nil
}

func Ping(ts time.Time) *Envelope {
	e := New(TypePing)
	_ = e.Set("ts", ts.UnixMilli())
	return e
}

// ChatMessage builds the chat-style frame, which carries no discriminator.
func ChatMessage(chatID string, message string) *Envelope {
	e := New("")
	e.setString("chatId", chatID)
	e.setString("message", message)
	return e
}

// Raw wraps undecodable frame text so it still reaches the caller.
func Raw(text string) *Envelope {
	e := New(TypeRaw)
	e.setString("data", text)
	return e
}
