// internal/history/history.go
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultQueueName is the Redis list the stats consumer drains.
const DefaultQueueName = "tempotrivia_events"

// RoundRecord captures one round start.
type RoundRecord struct {
	RoomCode    string `json:"room_code"`
	RoundNumber int    `json:"round_number"`
	SongID      int64  `json:"song_id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	StartedAt   int64  `json:"started_at"`
}

// AnswerRecord captures one scored guess.
type AnswerRecord struct {
	RoomCode       string  `json:"room_code"`
	PlayerID       string  `json:"player_id"`
	RoundNumber    int     `json:"round_number"`
	ArtistGuess    string  `json:"artist_guess"`
	TitleGuess     string  `json:"title_guess"`
	ArtistCorrect  bool    `json:"artist_correct"`
	TitleCorrect   bool    `json:"title_correct"`
	ScoreAwarded   int     `json:"score_awarded"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Timestamp      int64   `json:"timestamp"`
}

// GameRecord captures a finished game's final standings.
type GameRecord struct {
	RoomCode string         `json:"room_code"`
	Rounds   int            `json:"rounds"`
	Scores   map[string]int `json:"scores"`
	EndedAt  int64          `json:"ended_at"`
}

// Connect initializes a Redis client from REDIS_ADDR (default
// "localhost:6379") and REDIS_DB, verifying connectivity with a short ping.
func Connect() (*redis.Client, error) {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	dbIdx := getEnvInt("REDIS_DB", 0)

	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbIdx,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Publisher pushes game records onto a Redis list for out-of-process
// consumption. A nil Publisher is valid and publishes nothing, so gameplay
// never depends on Redis being up.
type Publisher struct {
	rdb    *redis.Client
	queue  string
	logger *logrus.Logger
}

// NewPublisher wraps a connected client. The queue name comes from
// HISTORY_QUEUE_NAME, defaulting to DefaultQueueName.
func NewPublisher(rdb *redis.Client, logger *logrus.Logger) *Publisher {
	return &Publisher{
		rdb:    rdb,
		queue:  getEnv("HISTORY_QUEUE_NAME", DefaultQueueName),
		logger: logger,
	}
}

// RoundStarted publishes a round record, best-effort.
func (p *Publisher) RoundStarted(ctx context.Context, rec RoundRecord) {
	p.push(ctx, "round_started", rec)
}

// AnswerScored publishes an answer record, best-effort.
func (p *Publisher) AnswerScored(ctx context.Context, rec AnswerRecord) {
	p.push(ctx, "answer_scored", rec)
}

// GameEnded publishes a final-standings record, best-effort.
func (p *Publisher) GameEnded(ctx context.Context, rec GameRecord) {
	p.push(ctx, "game_ended", rec)
}

func (p *Publisher) push(ctx context.Context, kind string, rec interface{}) {
	if p == nil || p.rdb == nil {
		return
	}
	envelope := struct {
		Kind      string      `json:"kind"`
		Record    interface{} `json:"record"`
		Timestamp int64       `json:"timestamp"`
	}{Kind: kind, Record: rec, Timestamp: time.Now().Unix()}

	data, err := json.Marshal(envelope)
	if err != nil {
		p.logger.WithError(err).Warnf("history: marshal %s record", kind)
		return
	}
	if err := p.rdb.RPush(ctx, p.queue, data).Err(); err != nil {
		p.logger.WithError(err).Warnf("history: rpush %s record", kind)
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
