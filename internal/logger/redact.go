package logger

import (
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

const redacted = "[REDACTED]"

var (
	jwtPattern    = regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)
	sensitiveKeys = []string{"password", "token", "secret", "authorization", "cookie"}
)

// IsSensitiveKey reports whether a field or parameter name must never
// reach the log output.
func IsSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

// Redact masks anything that looks like a signed token.
func Redact(s string) string {
	return jwtPattern.ReplaceAllString(s, redacted)
}

// redactingCore scrubs sensitive field values and embedded tokens before
// entries reach the wrapped core.
type redactingCore struct {
	zapcore.Core
}

func newRedactingCore(core zapcore.Core) zapcore.Core {
	return &redactingCore{Core: core}
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(redactFields(fields))}
}

func (c *redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = Redact(ent.Message)
	return c.Core.Write(ent, redactFields(fields))
}

func redactFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		switch {
		case IsSensitiveKey(f.Key):
			out[i] = zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: redacted}
		case f.Type == zapcore.StringType:
			f.String = Redact(f.String)
			out[i] = f
		default:
			out[i] = f
		}
	}
	return out
}
