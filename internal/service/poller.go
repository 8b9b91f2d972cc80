package service

import "context"

// PollRequest carries what a poll backend needs to open voting for one
// matchup, including the storage references of both contenders so the
// backend can show them. Presentation (captions, option wording) belongs
// to the backend.
type PollRequest struct {
	ChatID       int64
	MatchupIndex int
	Round        int
	DurationSecs int
	FileA        string
	FileB        string
}

// Poller is the external polling service. OpenPoll publishes a two-option
// poll and returns its identifiers; ClosePoll stops it and returns the
// final tallies, which are authoritative over the engine's running counts.
type Poller interface {
	OpenPoll(ctx context.Context, req PollRequest) (pollID string, messageID int64, err error)
	ClosePoll(ctx context.Context, chatID, messageID int64) (votesA, votesB int, err error)
}
