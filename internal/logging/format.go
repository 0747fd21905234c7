package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

const clipLimit = 240

// Truncate flattens value to one line and clips it for status displays.
func Truncate(value string) string {
	value = strings.TrimSpace(value)
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	if value == "" {
		return "<empty>"
	}
	if len(value) > clipLimit {
		return value[:clipLimit] + "..."
	}
	return value
}

func FormatEventLine(event Event) string {
	ts := event.Time.Format("15:04:05")
	level := strings.ToUpper(event.Level.String())
	component := ""
	if event.Component != "" {
		component = " " + event.Component + ":"
	}
	fields := ""
	if len(event.Fields) > 0 {
		keys := orderedFieldKeys(event.Fields)
		parts := make([]string, 0, len(keys))
		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, formatFieldValue(event.Fields[key])))
		}
		fields = " " + strings.Join(parts, " ")
	}
	return fmt.Sprintf("%s [%s]%s %s%s\n", ts, level, component, event.Message, fields)
}

func formatFieldValue(value any) string {
	if value == nil {
		return "<nil>"
	}
	if pretty, ok := prettyJSONString(value); ok {
		return pretty
	}
	return fmt.Sprintf("%v", value)
}

func marshalPrettyJSON(value any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// prettyJSONString reports whether value is a JSON object/array (encoded or
// as a Go container) and returns it indented.
func prettyJSONString(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case error:
		return prettyJSONString(v.Error())
	case json.RawMessage:
		return prettyJSONString(string(v))
	case []byte:
		return prettyJSONString(string(v))
	case json.Marshaler:
		data, err := v.MarshalJSON()
		if err != nil {
			return "", false
		}
		return prettyJSONString(string(data))
	case string:
		trimmed := strings.TrimSpace(v)
		if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
			return "", false
		}
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
			return "", false
		}
		out, err := marshalPrettyJSON(decoded)
		return out, err == nil
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		out, err := marshalPrettyJSON(rv.Interface())
		return out, err == nil
	}
	return "", false
}

// orderedFieldKeys sorts plain fields first, then JSON blocks, with payload
// style keys last so large bodies trail the summary.
func orderedFieldKeys(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	inline := make([]string, 0, len(keys))
	jsonKeys := make([]string, 0, len(keys))
	payloadKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := prettyJSONString(fields[key]); ok {
			if isPayloadFieldKey(key) {
				payloadKeys = append(payloadKeys, key)
			} else {
				jsonKeys = append(jsonKeys, key)
			}
			continue
		}
		inline = append(inline, key)
	}
	ordered := append(inline, jsonKeys...)
	return append(ordered, payloadKeys...)
}

func isPayloadFieldKey(key string) bool {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "payload", "frame", "envelope", "response", "body", "data":
		return true
	default:
		return false
	}
}
