package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gifarena/gifarena/internal/config"
	"github.com/gifarena/gifarena/internal/db"
	"github.com/gifarena/gifarena/internal/service"
	"github.com/gifarena/gifarena/internal/store"
	"github.com/gifarena/gifarena/internal/telegram"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration:", err)
	}

	database := db.InitDB(cfg.DBPath)
	defer database.Close()

	if err := db.RunMigrations(database.DB); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	client := telegram.NewClient(cfg.BotToken)
	poller := telegram.NewPollBackend(client, cfg.PollQuestion, cfg.PollOptionA, cfg.PollOptionB)

	chats := store.NewChatStore(database)
	animations := store.NewAnimationStore(database)
	tournaments := store.NewTournamentStore(database)
	matchups := store.NewMatchupStore(database)

	resolver := service.NewDuplicateResolver(animations)
	builder := service.NewBracketBuilder(cfg.RoundLengthsSecs)
	scheduler := service.NewMatchupScheduler(database, matchups, tournaments, animations, poller)
	controller := service.NewTournamentController(
		database, chats, tournaments, matchups,
		resolver, builder, scheduler, poller, cfg.MinVotes,
	)

	go sweepLoop(controller, time.Duration(cfg.SweepIntervalSecs)*time.Second)

	router := newRouter(controller, scheduler)

	log.Println("Server starting on", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, router); err != nil {
		log.Fatal(err)
	}
}

// sweepLoop closes expired matchup polls on a fixed interval. Sweeps are
// idempotent, so a slow sweep overlapping the next tick is harmless.
func sweepLoop(controller *service.TournamentController, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		controller.SweepDueMatchups(context.Background())
	}
}
