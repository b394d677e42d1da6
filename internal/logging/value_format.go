package logging

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// formatValue renders a console attr value, quoted when the bare text would
// break key=value parsing.
func formatValue(v slog.Value) string {
	s := plainValue(v)
	if s == "" || strings.IndexFunc(s, breaksPair) >= 0 {
		return strconv.Quote(s)
	}
	return s
}

func breaksPair(r rune) bool { return r <= ' ' || r == '=' || r == '"' }

// plainValue renders v without quoting. Durations are cut to milliseconds
// since backend runs are never timed finer than that; stem and model lists
// print comma separated.
func plainValue(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindDuration:
		return v.Duration().Round(time.Millisecond).String()
	case slog.KindTime:
		return formatTimestamp(v.Time())
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			return x.Error()
		case []string:
			return strings.Join(x, ",")
		}
		return fmt.Sprint(v.Any())
	}
	return v.String()
}
