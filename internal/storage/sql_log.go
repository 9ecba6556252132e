package storage

import (
	"fmt"
	"strings"
	"time"
)

// FormatSQLForLog inlines positional arguments into query. Output is for
// debug logs only and must never be executed.
func FormatSQLForLog(query string, args ...any) string {
	if strings.TrimSpace(query) == "" || len(args) == 0 {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + len(args)*8)
	next := 0
	for _, ch := range query {
		if ch == '?' && next < len(args) {
			b.WriteString(formatSQLArg(args[next]))
			next++
			continue
		}
		b.WriteRune(ch)
	}
	if next < len(args) {
		rest := make([]string, 0, len(args)-next)
		for _, arg := range args[next:] {
			rest = append(rest, formatSQLArg(arg))
		}
		b.WriteString(" /* args: " + strings.Join(rest, ", ") + " */")
	}
	return b.String()
}

func formatSQLArg(arg any) string {
	quote := func(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" }
	switch v := arg.(type) {
	case nil:
		return "NULL"
	case string:
		return quote(v)
	case []byte:
		return quote(string(v))
	case time.Time:
		return quote(v.Format(time.RFC3339Nano))
	case fmt.Stringer:
		return quote(v.String())
	default:
		return fmt.Sprintf("%v", arg)
	}
}
