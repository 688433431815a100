package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// TextFormatter renders entries as a single human-readable line.
type TextFormatter struct {
	TimestampFormat  string
	DisableTimestamp bool
}

// NewTextFormatter returns a text formatter with millisecond timestamps.
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{TimestampFormat: "2006-01-02 15:04:05.000"}
}

// Format renders one entry as "TIME [LEVEL] component: message k=v ...".
func (f *TextFormatter) Format(e *Entry) ([]byte, error) {
	var buf bytes.Buffer

	if !f.DisableTimestamp {
		buf.WriteString(e.Time.Format(f.TimestampFormat))
		buf.WriteByte(' ')
	}
	fmt.Fprintf(&buf, "[%s] ", e.Level)
	if e.Component != "" {
		buf.WriteString(e.Component)
		buf.WriteString(": ")
	}
	buf.WriteString(e.Message)

	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf.WriteByte(' ')
			buf.WriteString(k)
			buf.WriteByte('=')
			buf.WriteString(formatValue(e.Fields[k]))
		}
	}

	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case error:
		return strconvQuoteIfNeeded(val.Error())
	case string:
		return strconvQuoteIfNeeded(val)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func strconvQuoteIfNeeded(s string) string {
	if strings.ContainsAny(s, " \t\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// JSONFormatter renders entries as one JSON object per line.
type JSONFormatter struct {
	TimestampFormat string
}

// NewJSONFormatter returns a JSON formatter with RFC 3339 timestamps.
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}
}

// Format renders one entry as a JSON object.
func (f *JSONFormatter) Format(e *Entry) ([]byte, error) {
	obj := make(map[string]interface{}, len(e.Fields)+4)
	obj["time"] = e.Time.Format(f.TimestampFormat)
	obj["level"] = e.Level.String()
	obj["message"] = e.Message
	if e.Component != "" {
		obj["component"] = e.Component
	}
	for k, v := range e.Fields {
		if err, ok := v.(error); ok {
			obj[k] = err.Error()
			continue
		}
		obj[k] = v
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("marshal log entry: %w", err)
	}
	return append(data, '\n'), nil
}
