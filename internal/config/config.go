package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds everything the process reads from the environment. Values
// come from real env vars or a .env file loaded by the caller.
type Config struct {
	DBPath     string
	ListenAddr string

	BotToken     string
	PollQuestion string
	PollOptionA  string
	PollOptionB  string

	// RoundLengthsSecs is the poll duration per round, final round first.
	RoundLengthsSecs  []int
	MinVotes          int
	SweepIntervalSecs int
}

func Load() (*Config, error) {
	lengths, err := parseIntList(getEnv("ROUND_LENGTHS_SECS", "86400,43200,21600"))
	if err != nil {
		return nil, fmt.Errorf("ROUND_LENGTHS_SECS: %w", err)
	}
	minVotes, err := strconv.Atoi(getEnv("MIN_VOTES", "2"))
	if err != nil {
		return nil, fmt.Errorf("MIN_VOTES: %w", err)
	}
	if minVotes < 1 {
		return nil, fmt.Errorf("MIN_VOTES: must be at least 1, got %d", minVotes)
	}
	sweep, err := strconv.Atoi(getEnv("SWEEP_INTERVAL_SECS", "60"))
	if err != nil {
		return nil, fmt.Errorf("SWEEP_INTERVAL_SECS: %w", err)
	}
	if sweep < 1 {
		return nil, fmt.Errorf("SWEEP_INTERVAL_SECS: must be at least 1, got %d", sweep)
	}

	return &Config{
		DBPath:            getEnv("DB_PATH", "gifarena.db"),
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		BotToken:          os.Getenv("BOT_TOKEN"),
		PollQuestion:      getEnv("POLL_QUESTION", "Which one wins?"),
		PollOptionA:       getEnv("POLL_OPTION_A", "First"),
		PollOptionB:       getEnv("POLL_OPTION_B", "Second"),
		RoundLengthsSecs:  lengths,
		MinVotes:          minVotes,
		SweepIntervalSecs: sweep,
	}, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func parseIntList(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, fmt.Errorf("duration must be positive, got %d", n)
		}
		out = append(out, n)
	}
	return out, nil
}
