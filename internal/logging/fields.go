package logging

import "log/slog"

// fieldMap flattens attrs for events. Groups become nested maps, durations
// their String form; attrs without a key are dropped.
func fieldMap(attrs []slog.Attr) map[string]any {
	var fields map[string]any
	for _, attr := range attrs {
		if attr.Key == "" {
			continue
		}
		if fields == nil {
			fields = make(map[string]any, len(attrs))
		}
		fields[attr.Key] = fieldValue(attr.Value)
	}
	return fields
}

func fieldValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		group := make(map[string]any)
		for _, member := range v.Group() {
			if member.Key != "" {
				group[member.Key] = fieldValue(member.Value)
			}
		}
		return group
	case slog.KindDuration:
		return v.Duration().String()
	default:
		return v.Any()
	}
}
