// Package obs records every command, event, and error flowing through the
// buses into pluggable sinks. Recording is strictly non-blocking: when a
// sink cannot keep up, records are dropped and counted rather than ever
// stalling the trading path.
package obs

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Record kinds.
const (
	KindCommand = "command"
	KindEvent   = "event"
	KindError   = "error"
)

// Record is one observability row: a classified message with its redacted
// summary and correlation keys.
type Record struct {
	LoggedAt      time.Time      `json:"logged_at"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Kind          string         `json:"kind"`
	EventType     string         `json:"event_type"`
	Stage         string         `json:"stage"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	TradeID       string         `json:"trade_id,omitempty"`
	VenueOrderID  string         `json:"venue_order_id,omitempty"`
	Summary       map[string]any `json:"summary"`
}

// redactedKeys are summary fields whose values never reach a sink.
var redactedKeys = map[string]bool{
	"api_key":     true,
	"private_key": true,
	"secret":      true,
	"token":       true,
	"password":    true,
}

// requestAllowList is the projection applied to embedded order requests:
// only these fields survive into the summary.
var requestAllowList = map[string]bool{
	"trade_id":            true,
	"venue":               true,
	"ticker":              true,
	"side":                true,
	"action":              true,
	"count":               true,
	"order_type":          true,
	"limit_price_dollars": true,
	"client_order_id":     true,
}

type occurredAtCarrier interface{ OccurredAt() time.Time }
type eventTyped interface{ EventType() string }
type commandTyped interface{ CommandType() string }

// buildRecord classifies a message and produces its sink-ready record.
func buildRecord(message any, kind, stage, correlationID string, now time.Time) Record {
	rec := Record{
		LoggedAt:   now,
		OccurredAt: now,
		Kind:       kind,
		Stage:      stage,
		EventType:  messageType(message),
		Summary:    summarize(message),
	}
	if c, ok := message.(occurredAtCarrier); ok {
		if ts := c.OccurredAt(); !ts.IsZero() {
			rec.OccurredAt = ts
		}
	}

	rec.TradeID = extractString(rec.Summary, "trade_id")
	rec.VenueOrderID = extractString(rec.Summary, "venue_order_id")

	rec.CorrelationID = correlationID
	if rec.CorrelationID == "" {
		rec.CorrelationID = rec.TradeID
	}
	if rec.CorrelationID == "" {
		rec.CorrelationID = rec.VenueOrderID
	}
	return rec
}

func messageType(message any) string {
	switch m := message.(type) {
	case eventTyped:
		return m.EventType()
	case commandTyped:
		return m.CommandType()
	case error:
		return "error"
	}
	t := reflect.TypeOf(message)
	if t == nil {
		return "unknown"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return strings.ToLower(t.Name())
}

// summarize renders a message as a redacted string-keyed map by round-
// tripping it through JSON. Non-object messages land under "value".
func summarize(message any) map[string]any {
	if err, ok := message.(error); ok {
		return map[string]any{"value": err.Error()}
	}

	data, err := json.Marshal(message)
	if err != nil {
		return map[string]any{"value": fmt.Sprint(message)}
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return map[string]any{"value": string(data)}
	}

	redact(doc)
	if req, ok := doc["request"].(map[string]any); ok {
		doc["request"] = projectRequest(req)
	}
	return doc
}

// redact replaces sensitive values in place, descending into nested
// objects and arrays.
func redact(doc map[string]any) {
	for key, value := range doc {
		if redactedKeys[strings.ToLower(key)] {
			doc[key] = "[REDACTED]"
			continue
		}
		switch v := value.(type) {
		case map[string]any:
			redact(v)
		case []any:
			for _, item := range v {
				if m, ok := item.(map[string]any); ok {
					redact(m)
				}
			}
		}
	}
}

func projectRequest(req map[string]any) map[string]any {
	out := make(map[string]any, len(requestAllowList))
	for key, value := range req {
		if requestAllowList[key] {
			out[key] = value
		}
	}
	return out
}

// extractString finds a string field at the top level or inside an
// embedded request object.
func extractString(doc map[string]any, key string) string {
	if s, ok := doc[key].(string); ok {
		return s
	}
	if req, ok := doc["request"].(map[string]any); ok {
		if s, ok := req[key].(string); ok {
			return s
		}
	}
	return ""
}
