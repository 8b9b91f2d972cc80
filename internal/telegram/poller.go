package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gifarena/gifarena/internal/service"
)

// PollBackend runs matchup votes as Telegram polls.
type PollBackend struct {
	client   *Client
	question string
	optionA  string
	optionB  string
}

func NewPollBackend(client *Client, question, optionA, optionB string) *PollBackend {
	return &PollBackend{
		client:   client,
		question: question,
		optionA:  optionA,
		optionB:  optionB,
	}
}

// OpenPoll shows both contenders and then publishes the vote. The poll
// message is pinned so latecomers find the live matchup.
func (b *PollBackend) OpenPoll(ctx context.Context, req service.PollRequest) (string, int64, error) {
	heading := fmt.Sprintf("Round %d, matchup %d", req.Round, req.MatchupIndex+1)
	if req.Round == 1 {
		heading = fmt.Sprintf("The final, matchup %d", req.MatchupIndex+1)
	}

	if _, err := b.client.SendAnimation(ctx, req.ChatID, req.FileA, heading+": "+b.optionA); err != nil {
		return "", 0, fmt.Errorf("send contender: %w", err)
	}
	if _, err := b.client.SendAnimation(ctx, req.ChatID, req.FileB, heading+": "+b.optionB); err != nil {
		return "", 0, fmt.Errorf("send contender: %w", err)
	}

	pollID, messageID, err := b.client.SendPoll(ctx, req.ChatID, b.question, []string{b.optionA, b.optionB})
	if err != nil {
		return "", 0, err
	}

	if err := b.client.PinChatMessage(ctx, req.ChatID, messageID); err != nil {
		slog.Warn("failed to pin poll", "chat_id", req.ChatID, "message_id", messageID, "error", err)
	}
	return pollID, messageID, nil
}

func (b *PollBackend) ClosePoll(ctx context.Context, chatID, messageID int64) (int, int, error) {
	poll, err := b.client.StopPoll(ctx, chatID, messageID)
	if err != nil {
		return 0, 0, err
	}
	if len(poll.Options) != 2 {
		return 0, 0, fmt.Errorf("telegram: poll %s has %d options", poll.ID, len(poll.Options))
	}
	return poll.Options[0].VoterCount, poll.Options[1].VoterCount, nil
}
