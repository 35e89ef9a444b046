// internal/domain/notification/normalize.go
package notification

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrMissingID is returned when a payload carries no usable notification id.
var ErrMissingID = errors.New("notification payload has no valid id")

// nowFunc is swapped in tests.
var nowFunc = func() time.Time { return time.Now().UTC() }

// Normalize maps a loosely typed payload from the stream or the paginated
// query onto a Record. eventName is the SSE event the payload arrived with and
// is used as a category hint when the payload itself has none; pass "" when
// there is no event.
//
// Only a missing id is an error. Unknown categories fall back to SYSTEM,
// unknown priorities to NORMAL, and a missing timestamp to the current time.
func Normalize(raw map[string]any, eventName string) (Record, error) {
	src := unwrap(raw)

	id, ok := int64Field(src, "id", "notificationId", "notification_id", "pk")
	if !ok || id <= 0 {
		return Record{}, fmt.Errorf("%w: %v", ErrMissingID, src["id"])
	}

	rec := Record{
		ID:        id,
		Category:  normalizeCategory(src, eventName),
		Priority:  normalizePriority(src),
		Title:     stringField(src, "title", "subject", "verb"),
		Message:   stringField(src, "message", "body", "description", "text"),
		IsRead:    boolField(src, "isRead", "is_read", "read", "unread"),
		CreatedAt: timeField(src, "createdAt", "created_at", "timestamp", "created"),
		ActionURL: stringField(src, "actionUrl", "action_url", "link", "url"),
		ActorName: actorName(src),
	}
	return rec, nil
}

// unwrap returns the innermost notification object of enveloped payloads
// such as {"type":"notification","data":{...}}.
func unwrap(raw map[string]any) map[string]any {
	for _, key := range []string{"notification", "data", "payload", "node"} {
		if inner, ok := raw[key].(map[string]any); ok {
			if _, hasID := raw["id"]; !hasID || key == "notification" || key == "node" {
				return unwrap(inner)
			}
		}
	}
	return raw
}

func normalizeCategory(src map[string]any, eventName string) Category {
	for _, key := range []string{"category", "notificationType", "notification_type", "type"} {
		if s := stringField(src, key); s != "" {
			if c, ok := ParseCategory(s); ok {
				return c
			}
		}
	}
	if eventName != "" {
		if c, ok := ParseCategory(eventName); ok {
			return c
		}
	}
	return CategorySystem
}

func normalizePriority(src map[string]any) Priority {
	if s := stringField(src, "priority", "level", "severity"); s != "" {
		if p, ok := ParsePriority(s); ok {
			return p
		}
	}
	return PriorityNormal
}

func actorName(src map[string]any) string {
	if s := stringField(src, "actorName", "actor_name"); s != "" {
		return s
	}
	switch actor := src["actor"].(type) {
	case string:
		return strings.TrimSpace(actor)
	case map[string]any:
		if s := stringField(actor, "name", "fullName", "full_name", "username"); s != "" {
			return s
		}
		first := stringField(actor, "firstName", "first_name")
		last := stringField(actor, "lastName", "last_name")
		return strings.TrimSpace(first + " " + last)
	}
	return ""
}

func stringField(src map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := src[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func int64Field(src map[string]any, keys ...string) (int64, bool) {
	for _, key := range keys {
		v, present := src[key]
		if !present || v == nil {
			continue
		}
		switch n := v.(type) {
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return i, true
			}
		case float64:
			if n == math.Trunc(n) {
				return int64(n), true
			}
		case int:
			return int64(n), true
		case int64:
			return n, true
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
				return i, true
			}
			if i, ok := relayID(n); ok {
				return i, true
			}
		}
	}
	return 0, false
}

// relayID decodes a Relay global id ("Tm90aWZpY2F0aW9uOjQy" = "Notification:42").
func relayID(s string) (int64, bool) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	_, pk, found := strings.Cut(string(decoded), ":")
	if !found {
		return 0, false
	}
	i, err := strconv.ParseInt(pk, 10, 64)
	if err != nil {
		return 0, false
	}
	return i, true
}

func boolField(src map[string]any, keys ...string) bool {
	for _, key := range keys {
		v, present := src[key]
		if !present {
			continue
		}
		b := false
		switch t := v.(type) {
		case bool:
			b = t
		case string:
			b, _ = strconv.ParseBool(strings.TrimSpace(t))
		case json.Number:
			b = t.String() != "0"
		case float64:
			b = t != 0
		}
		if key == "unread" {
			return !b
		}
		return b
	}
	return false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
}

func timeField(src map[string]any, keys ...string) time.Time {
	for _, key := range keys {
		switch v := src[key].(type) {
		case string:
			s := strings.TrimSpace(v)
			for _, layout := range timeLayouts {
				if t, err := time.Parse(layout, s); err == nil {
					return t.UTC()
				}
			}
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return unixTime(n)
			}
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return unixTime(n)
			}
		case float64:
			return unixTime(int64(v))
		}
	}
	return nowFunc()
}

// unixTime accepts seconds or milliseconds.
func unixTime(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}
