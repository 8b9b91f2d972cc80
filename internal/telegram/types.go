package telegram

import "encoding/json"

type APIResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	Description string          `json:"description,omitempty"`
}

type Message struct {
	MessageID int64 `json:"message_id"`
	Chat      Chat  `json:"chat"`
	Poll      *Poll `json:"poll,omitempty"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type Poll struct {
	ID       string       `json:"id"`
	Question string       `json:"question"`
	Options  []PollOption `json:"options"`
	IsClosed bool         `json:"is_closed"`
}

type PollOption struct {
	Text       string `json:"text"`
	VoterCount int    `json:"voter_count"`
}

// Update is the webhook payload. Only poll state updates matter here; the
// rest of the Bot API update surface is ignored.
type Update struct {
	UpdateID int64 `json:"update_id"`
	Poll     *Poll `json:"poll,omitempty"`
}

type SendAnimationRequest struct {
	ChatID    int64  `json:"chat_id"`
	Animation string `json:"animation"`
	Caption   string `json:"caption,omitempty"`
}

type PinChatMessageRequest struct {
	ChatID              int64 `json:"chat_id"`
	MessageID           int64 `json:"message_id"`
	DisableNotification bool  `json:"disable_notification"`
}

type SendPollRequest struct {
	ChatID      int64    `json:"chat_id"`
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	IsAnonymous bool     `json:"is_anonymous"`
}

type StopPollRequest struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
}
