// Package telegram holds the Bot API update model and a small client for the
// calls the bot makes: sendMessage, getWebhookInfo and setWebhook.
package telegram

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Update types understood by the router.
const (
	TypeMessage       = "message"
	TypeCallbackQuery = "callback_query"
	TypeInlineQuery   = "inline_query"
	TypeUnknown       = "unknown"
)

// ErrMalformedUpdate is returned when a webhook body is not a JSON object.
var ErrMalformedUpdate = errors.New("malformed telegram update")

// Update is one webhook delivery.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	UpdateType    string         `json:"update_type,omitempty"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
	InlineQuery   *InlineQuery   `json:"inline_query,omitempty"`
}

// Message is a chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	Date      int64  `json:"date"`
	Text      string `json:"text,omitempty"`
	Caption   string `json:"caption,omitempty"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
}

// Content returns the message text, or the caption for media messages.
func (m *Message) Content() string {
	if m == nil {
		return ""
	}
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// User is a Telegram account.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Chat is the conversation a message belongs to.
type Chat struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// CallbackQuery is an inline keyboard button press.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

// InlineQuery is an "@bot query" typed in any chat.
type InlineQuery struct {
	ID     string `json:"id"`
	From   User   `json:"from"`
	Query  string `json:"query"`
	Offset string `json:"offset"`
}

// Type returns UpdateType when set, otherwise infers it from the payload present.
func (u Update) Type() string {
	if u.UpdateType != "" {
		return u.UpdateType
	}
	switch {
	case u.Message != nil:
		return TypeMessage
	case u.CallbackQuery != nil:
		return TypeCallbackQuery
	case u.InlineQuery != nil:
		return TypeInlineQuery
	default:
		return TypeUnknown
	}
}

// ParseUpdate decodes a webhook body.
func ParseUpdate(body []byte) (Update, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		return Update{}, fmt.Errorf("%w: body is not a json object", ErrMalformedUpdate)
	}
	var u Update
	if err := json.Unmarshal(body, &u); err != nil {
		return Update{}, fmt.Errorf("%w: %w", ErrMalformedUpdate, err)
	}
	return u, nil
}

// WebhookPath is the request target Telegram posts updates to.
func WebhookPath(token string) string {
	return "/" + token
}
