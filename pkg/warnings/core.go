package warnings

import (
	"go.uber.org/zap/zapcore"
)

// FieldDeprecation marks a log entry as a deprecation notice with the given id.
const FieldDeprecation = "deprecation"

type filterCore struct {
	zapcore.Core
	filter *Filter
	// id is the deprecation id attached through With, if any.
	id string
}

// NewCore drops warn level entries the filter suppresses before they reach
// core. Entries of any other level are never inspected.
func NewCore(core zapcore.Core, f *Filter) zapcore.Core {
	return &filterCore{Core: core, filter: f}
}

func (c *filterCore) With(fields []zapcore.Field) zapcore.Core {
	return &filterCore{Core: c.Core.With(fields), filter: c.filter, id: deprecationID(c.id, fields)}
}

func deprecationID(id string, fields []zapcore.Field) string {
	for _, field := range fields {
		if field.Key == FieldDeprecation && field.Type == zapcore.StringType {
			id = field.String
		}
	}
	return id
}

func (c *filterCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *filterCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if entry.Level == zapcore.WarnLevel {
		notice := Notice{Message: entry.Message, Text: entry.Message}
		if id := deprecationID(c.id, fields); id != "" {
			notice.Name = DeprecationWarning
			notice.ID = id
		}
		if c.filter.Suppressed(notice) {
			return nil
		}
	}
	return c.Core.Write(entry, fields)
}
