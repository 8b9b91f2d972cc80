package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
}

func NewClient(token string) *Client {
	return &Client{
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    fmt.Sprintf("https://api.telegram.org/bot%s", token),
	}
}

func (c *Client) call(ctx context.Context, method string, payload interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(data, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	if !apiResp.OK {
		return nil, fmt.Errorf("telegram: %s", apiResp.Description)
	}

	return apiResp.Result, nil
}

// SendAnimation posts a stored animation by its file identifier.
func (c *Client) SendAnimation(ctx context.Context, chatID int64, fileIdentifier, caption string) (int64, error) {
	result, err := c.call(ctx, "sendAnimation", SendAnimationRequest{
		ChatID:    chatID,
		Animation: fileIdentifier,
		Caption:   caption,
	})
	if err != nil {
		return 0, err
	}

	var msg Message
	if err := json.Unmarshal(result, &msg); err != nil {
		return 0, fmt.Errorf("unmarshal: %w", err)
	}
	return msg.MessageID, nil
}

func (c *Client) PinChatMessage(ctx context.Context, chatID, messageID int64) error {
	_, err := c.call(ctx, "pinChatMessage", PinChatMessageRequest{
		ChatID:              chatID,
		MessageID:           messageID,
		DisableNotification: true,
	})
	return err
}

// SendPoll publishes an open, non-anonymous two-option poll and returns the
// poll identifier with the message that carries it.
func (c *Client) SendPoll(ctx context.Context, chatID int64, question string, options []string) (string, int64, error) {
	result, err := c.call(ctx, "sendPoll", SendPollRequest{
		ChatID:   chatID,
		Question: question,
		Options:  options,
	})
	if err != nil {
		return "", 0, err
	}

	var msg Message
	if err := json.Unmarshal(result, &msg); err != nil {
		return "", 0, fmt.Errorf("unmarshal: %w", err)
	}
	if msg.Poll == nil {
		return "", 0, fmt.Errorf("telegram: sendPoll returned no poll")
	}
	return msg.Poll.ID, msg.MessageID, nil
}

// StopPoll closes a poll and returns its final state.
func (c *Client) StopPoll(ctx context.Context, chatID, messageID int64) (*Poll, error) {
	result, err := c.call(ctx, "stopPoll", StopPollRequest{ChatID: chatID, MessageID: messageID})
	if err != nil {
		return nil, err
	}

	var poll Poll
	if err := json.Unmarshal(result, &poll); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return &poll, nil
}
