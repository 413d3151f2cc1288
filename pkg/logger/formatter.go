package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type JSONFormatter struct {
	TimestampFormat string
	Service         string
}

type TextFormatter struct {
	TimestampFormat string
	Colors          bool
}

func NewJSONFormatter(timestampFormat, service string) *JSONFormatter {
	return &JSONFormatter{TimestampFormat: timestampFormat, Service: service}
}

func NewTextFormatter(timestampFormat string, colors bool) *TextFormatter {
	return &TextFormatter{TimestampFormat: timestampFormat, Colors: colors}
}

func (f *JSONFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	data := make(map[string]interface{}, len(entry.Data)+5)

	timestampFormat := f.TimestampFormat
	if timestampFormat == "" {
		timestampFormat = time.RFC3339Nano
	}
	data["timestamp"] = entry.Time.UTC().Format(timestampFormat)
	data["level"] = entry.Level.String()
	data["message"] = entry.Message

	if f.Service != "" {
		data["service"] = f.Service
	}

	if entry.HasCaller() {
		data["caller"] = fmt.Sprintf("%s:%d", entry.Caller.File, entry.Caller.Line)
	}

	for k, v := range entry.Data {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		data[k] = v
	}

	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}

	if err := json.NewEncoder(b).Encode(data); err != nil {
		return nil, fmt.Errorf("failed to marshal fields to JSON: %w", err)
	}

	return b.Bytes(), nil
}

func (f *TextFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}

	timestampFormat := f.TimestampFormat
	if timestampFormat == "" {
		timestampFormat = "2006-01-02 15:04:05"
	}

	level := strings.ToUpper(entry.Level.String())
	if f.Colors {
		level = levelColor(entry.Level) + level + "\033[0m"
	}
	fmt.Fprintf(b, "%s [%s] ", entry.Time.Format(timestampFormat), level)

	if entry.HasCaller() {
		fmt.Fprintf(b, "[%s:%d] ", entry.Caller.File, entry.Caller.Line)
	}

	b.WriteString(entry.Message)

	if len(entry.Data) > 0 {
		fields := make([]string, 0, len(entry.Data))
		for k, v := range entry.Data {
			fields = append(fields, fmt.Sprintf("%s=%v", k, v))
		}
		sort.Strings(fields)
		fmt.Fprintf(b, " %s", strings.Join(fields, " "))
	}

	b.WriteByte('\n')

	return b.Bytes(), nil
}

func levelColor(level logrus.Level) string {
	switch level {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return "\033[31m"
	case logrus.WarnLevel:
		return "\033[33m"
	case logrus.InfoLevel:
		return "\033[36m"
	default:
		return "\033[37m"
	}
}

// AuditLogger records operator actions against the ledger.
type AuditLogger struct {
	logger *Logger
}

func NewAuditLogger(logger *Logger) *AuditLogger {
	return &AuditLogger{logger: logger.WithField("type", "audit")}
}

func (a *AuditLogger) LogAction(action, resource, actor string, details map[string]interface{}) {
	fields := map[string]interface{}{
		"action":    action,
		"resource":  resource,
		"actor":     actor,
		"timestamp": time.Now().UTC(),
	}

	for k, v := range details {
		fields[k] = v
	}

	a.logger.WithFields(fields).Info("Audit log entry")
}
