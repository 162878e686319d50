package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/reclamflow/feed/pkg/enums"
)

// NotificationRecord is one entry of the session's notification list.
type NotificationRecord struct {
	ID        int64                  `json:"id"`
	Message   string                 `json:"message"`
	Type      enums.NotificationType `json:"type"`
	Timestamp string                 `json:"timestamp"`
	UniqueKey string                 `json:"uniqueKey"`
	IsRead    bool                   `json:"isRead"`
}

// UniqueKey is the deduplication identity of an entity change.
func UniqueKey(notificationType enums.NotificationType, entityID string) string {
	return fmt.Sprintf("%s_%s", notificationType, entityID)
}

// Item is one element of an endpoint response or broker payload.
type Item map[string]json.RawMessage

// EntityID returns the identifier stored under field. Strings and numbers are
// accepted; missing, null or blank values report false.
func (it Item) EntityID(field string) (string, bool) {
	raw, ok := it[field]
	if !ok {
		return "", false
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		text = strings.TrimSpace(text)
		return text, text != ""
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var number json.Number
	if err := dec.Decode(&number); err == nil {
		return number.String(), true
	}
	return "", false
}

// String returns the string value of field, or "" when absent or not a string.
func (it Item) String(field string) string {
	raw, ok := it[field]
	if !ok {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}
