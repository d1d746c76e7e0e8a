package kalshi

import (
	"fmt"
	"net/url"
	"strings"
)

// Param is a single query-string parameter. Params are ordered so the built
// query follows the caller's insertion order.
type Param struct {
	Key   string
	Value any
}

// BuildQuery renders params into a query string.
//
//   - nil values are omitted entirely
//   - booleans become "true"/"false"
//   - string slices are joined with commas
//   - an empty result is "" (no "?")
func BuildQuery(params []Param) string {
	var b strings.Builder
	for _, p := range params {
		if p.Value == nil {
			continue
		}

		var val string
		switch v := p.Value.(type) {
		case bool:
			if v {
				val = "true"
			} else {
				val = "false"
			}
		case []string:
			val = strings.Join(v, ",")
		case string:
			val = v
		default:
			val = fmt.Sprint(v)
		}

		if b.Len() == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(val))
	}
	return b.String()
}

// NormalizeTicker uppercases a single ticker at the venue boundary.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// NormalizeTickers uppercases one-or-many tickers. A comma-separated string
// is split into its parts; empty segments are dropped.
func NormalizeTickers(tickers string) []string {
	parts := strings.Split(tickers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := NormalizeTicker(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
