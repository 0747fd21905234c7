package envelope

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"kafka-proxy-client/internal/proxyerr"
)

func structurallyEqual(t *testing.T, a []byte, b []byte) bool {
	t.Helper()
	var left, right any
	if err := json.Unmarshal(a, &left); err != nil {
		t.Fatalf("unmarshal %q: %v", a, err)
	}
	if err := json.Unmarshal(b, &right); err != nil {
		t.Fatalf("unmarshal %q: %v", b, err)
	}
	return reflect.DeepEqual(left, right)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	frames := []string{
		`{"type":"subscribe","topics":["ai-requests","ai-responses"],"from":"latest"}`,
		`{"type":"produce","topic":"ai-requests","key":"k1","headers":{"trace":"abc"},"value":{"hello":"world","ts":1760000000000}}`,
		`{"type":"ping","ts":1760000000000}`,
		`{"chatId":"chat-7","message":"hi there","meta":{"lang":"en","tags":[1,2.5,null,true]}}`,
		`{ "type" : "message", "value" : "<b>&</b>", "offset": 12345678901234567890 }`,
		`{}`,
	}
	for _, frame := range frames {
		out, err := Encode(Decode([]byte(frame)))
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		if !structurallyEqual(t, []byte(frame), out) {
			t.Fatalf("round trip of %s = %s", frame, out)
		}
	}
}

func TestEncode_PreservesKeyOrderAndRawNumbers(t *testing.T) {
	frame := `{"zeta":1,"type":"ack","alpha":12345678901234567890}`
	out, err := Encode(Decode([]byte(frame)))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if string(out) != frame {
		t.Fatalf("Encode() = %s, want %s", out, frame)
	}
}

func TestDecode_MalformedBecomesRaw(t *testing.T) {
	inputs := []string{"not json", `{"type":`, `[1,2,3]`, `"just a string"`, `{"a":1} trailing`, ""}
	for _, in := range inputs {
		got := Decode([]byte(in))
		if got.Type() != TypeRaw {
			t.Fatalf("Decode(%q).Type() = %q, want raw", in, got.Type())
		}
		data, ok := got.String("data")
		if !ok || data != in {
			t.Fatalf("Decode(%q) data = %q ok=%v", in, data, ok)
		}
		if _, err := Parse([]byte(in)); !errors.Is(err, proxyerr.ErrFrameDecode) {
			t.Fatalf("Parse(%q) error = %v, want ErrFrameDecode", in, err)
		}
	}
}

func TestConstructors(t *testing.T) {
	produce, err := Produce("ai-requests", "", map[string]string{"h": "v"}, map[string]any{"hello": "world"})
	if err != nil {
		t.Fatalf("Produce() error = %v", err)
	}
	tests := []struct {
		name string
		env  *Envelope
		want string
	}{
		{name: "subscribe", env: Subscribe([]string{"a", "b"}, ""), want: `{"type":"subscribe","topics":["a","b"],"from":"latest"}`},
		{name: "subscribe nil topics", env: Subscribe(nil, "beginning"), want: `{"type":"subscribe","topics":[],"from":"beginning"}`},
		{name: "produce", env: produce, want: `{"type":"produce","topic":"ai-requests","headers":{"h":"v"},"value":{"hello":"world"}}`},
		{name: "ping", env: Ping(time.UnixMilli(1760000000123)), want: `{"type":"ping","ts":1760000000123}`},
		{name: "chat", env: ChatMessage("c1", "hello"), want: `{"chatId":"c1","message":"hello"}`},
		{name: "raw", env: Raw("oops"), want: `{"type":"raw","data":"oops"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Encode(tt.env)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if string(out) != tt.want {
				t.Fatalf("Encode() = %s, want %s", out, tt.want)
			}
		})
	}
}

func TestEnvelope_Accessors(t *testing.T) {
	e := Decode([]byte(`{"type":"message","topic":"t","value":{"n":3},"type2":5}`))
	if !e.Is(TypeMessage, TypeAck) {
		t.Fatalf("Is(message, ack) = false")
	}
	if got := strings.Join(e.Keys(), ","); got != "type,topic,value,type2" {
		t.Fatalf("Keys() = %s", got)
	}
	var value struct {
		N int `json:"n"`
	}
	if err := e.Field("value", &value); err != nil || value.N != 3 {
		t.Fatalf("Field(value) = %+v, %v", value, err)
	}
	if _, ok := e.String("type2"); ok {
		t.Fatalf("String(type2) ok = true for a number")
	}

	clone := e.Clone()
	clone.Delete("topic")
	if e.Len() != 4 || clone.Len() != 3 {
		t.Fatalf("Len() original=%d clone=%d", e.Len(), clone.Len())
	}

	var zero Envelope
	if zero.Type() != "" || zero.Len() != 0 {
		t.Fatalf("zero envelope not empty")
	}
	if out, _ := Encode(&zero); string(out) != "{}" {
		t.Fatalf("Encode(zero) = %s", out)
	}
	if err := zero.Set("type", "ack"); err != nil || zero.Type() != TypeAck {
		t.Fatalf("Set on zero envelope: type=%q err=%v", zero.Type(), err)
	}
}

func TestFromValue(t *testing.T) {
	e, err := FromValue(map[string]any{"type": "ack"})
	if err != nil || e.Type() != TypeAck {
		t.Fatalf("FromValue() = %v, %v", e, err)
	}
	if _, err := FromValue([]int{1}); !errors.Is(err, proxyerr.ErrFrameDecode) {
		t.Fatalf("FromValue(slice) error = %v", err)
	}
}
