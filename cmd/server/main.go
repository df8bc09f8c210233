// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/tempotrivia/tempotrivia/internal/catalog"
	"github.com/tempotrivia/tempotrivia/internal/game"
	"github.com/tempotrivia/tempotrivia/internal/handlers"
	"github.com/tempotrivia/tempotrivia/internal/history"
	"github.com/tempotrivia/tempotrivia/internal/middleware"
	"github.com/tempotrivia/tempotrivia/internal/room"
)

func main() {
	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(lvl)
	}

	ctx := context.Background()

	pg, err := catalog.Connect(ctx)
	if err != nil {
		logger.Fatalf("catalog database: %v", err)
	}
	defer pg.Pool.Close()
	cat := catalog.New(pg, catalog.NewDeezer())

	// History is optional: without Redis the game runs, it just records
	// nothing for the stats consumer.
	var hist *history.Publisher
	if rdb, err := history.Connect(); err != nil {
		logger.WithError(err).Warn("redis unavailable, history publishing disabled")
	} else {
		hist = history.NewPublisher(rdb, logger)
	}

	rooms := room.NewStore(logger)
	svc := game.NewService(rooms, cat, hist, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.WSHandler(logger, rooms, svc, cat),
	)))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
