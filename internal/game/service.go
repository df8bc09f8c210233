// internal/game/service.go
package game

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tempotrivia/tempotrivia/internal/catalog"
	"github.com/tempotrivia/tempotrivia/internal/history"
	"github.com/tempotrivia/tempotrivia/internal/protocol"
	"github.com/tempotrivia/tempotrivia/internal/room"
	"github.com/tempotrivia/tempotrivia/internal/scoring"
)

// Default round pacing.
const (
	DefaultRoundDuration = 30 * time.Second
	DefaultRevealDelay   = 5 * time.Second
)

// lookupTimeout bounds the best-effort catalog enrichment calls (preview URL,
// artist image) so a slow upstream cannot hold up a round.
const lookupTimeout = 5 * time.Second

// Service runs the round state machine for every room: it starts rounds,
// schedules the deferred reveal and end-of-round transitions, and scores
// answers. One Service is shared by all rooms in a Store.
type Service struct {
	rooms   *room.Store
	catalog catalog.Catalog
	history *history.Publisher
	logger  *logrus.Logger

	// RoundDuration and RevealDelay are overridable for tests.
	RoundDuration time.Duration
	RevealDelay   time.Duration
}

// NewService wires the state machine to its collaborators. The history
// publisher may be nil.
func NewService(rooms *room.Store, cat catalog.Catalog, hist *history.Publisher, logger *logrus.Logger) *Service {
	return &Service{
		rooms:         rooms,
		catalog:       cat,
		history:       hist,
		logger:        logger,
		RoundDuration: DefaultRoundDuration,
		RevealDelay:   DefaultRevealDelay,
	}
}

// StartRound advances the room into its next round: picks an unplayed song
// from the selected playlist, broadcasts round_started, and schedules the
// deferred reveal and end-of-round transitions. No-op if the room is missing
// or no mode is selected. Playlist exhaustion broadcasts no_more_songs and
// leaves all round state untouched.
func (s *Service) StartRound(ctx context.Context, roomCode string) {
	r, ok := s.rooms.GetRoom(roomCode)
	if !ok {
		return
	}

	r.Mu.Lock()
	mode := r.SelectedMode
	exclude := r.PlayedSongIDsUnsafe()
	startedFrom := r.RoundNumber
	r.Mu.Unlock()
	if mode == "" {
		return
	}

	playlistID, err := s.catalog.PlaylistIDByName(ctx, mode)
	if err != nil {
		s.logger.WithError(err).WithField("room", roomCode).Warn("playlist lookup failed, round not started")
		return
	}
	song, err := s.catalog.RandomSongExcluding(ctx, playlistID, exclude)
	if err != nil {
		s.logger.WithError(err).WithField("room", roomCode).Warn("song selection failed, round not started")
		return
	}
	if song == nil {
		s.rooms.Broadcast(ctx, roomCode, protocol.MustNew(protocol.TypeNoMoreSongs, struct{}{}))
		return
	}

	r.Mu.Lock()
	if r.RoundNumber != startedFrom {
		// Another start won the race while we were querying the catalog.
		r.Mu.Unlock()
		return
	}
	r.CurrentSong = song
	r.PlayedSongIDs[song.ID] = struct{}{}
	r.RoundNumber++
	r.RoundStartTime = time.Now()
	r.State = room.StatePlaying
	roundNumber := r.RoundNumber
	hostOnly := r.HostOnlyAudio
	hostID := r.HostID
	r.Mu.Unlock()

	previewURL := s.previewURL(ctx, song)

	duration := int(s.RoundDuration / time.Second)
	basePayload := protocol.RoundStartedPayload{
		SongData: protocol.SongData{URL: previewURL, Title: song.Title, Artist: song.Artist},
		Duration: duration,
	}

	if hostOnly && hostID != "" {
		hostPayload := basePayload
		hostPayload.IsHost = true
		basePayload.SongData.URL = ""
		s.rooms.SendToPlayer(ctx, roomCode, hostID, protocol.MustNew(protocol.TypeRoundStarted, hostPayload))
		s.rooms.Broadcast(ctx, roomCode, protocol.MustNew(protocol.TypeRoundStarted, basePayload), hostID)
	} else {
		s.rooms.Broadcast(ctx, roomCode, protocol.MustNew(protocol.TypeRoundStarted, basePayload))
	}

	s.history.RoundStarted(ctx, history.RoundRecord{
		RoomCode:    roomCode,
		RoundNumber: roundNumber,
		SongID:      song.ID,
		Title:       song.Title,
		Artist:      song.Artist,
		StartedAt:   time.Now().Unix(),
	})

	s.logger.WithFields(logrus.Fields{
		"room":  roomCode,
		"round": roundNumber,
		"song":  song.ID,
	}).Info("round started")

	s.scheduleRoundTimers(roomCode, roundNumber)
}

// scheduleRoundTimers arms the reveal and end-of-round callbacks for the
// given round. Each callback is tagged with the round number it was issued
// for and bails if a newer round has started since; that guard stands in for
// cancellation when a manual next_round pre-empts the timer.
func (s *Service) scheduleRoundTimers(roomCode string, roundNumber int) {
	time.AfterFunc(s.RoundDuration, func() {
		// Run in a fresh goroutine so lock acquisition never blocks the
		// timer runtime.
		go func() {
			if !s.roundStillCurrent(roomCode, roundNumber) {
				s.logger.WithFields(logrus.Fields{"room": roomCode, "round": roundNumber}).
					Debug("stale reveal timer fired, ignoring")
				return
			}
			ctx := context.Background()
			s.RevealAnswer(ctx, roomCode)

			time.AfterFunc(s.RevealDelay, func() {
				go func() {
					if !s.roundStillCurrent(roomCode, roundNumber) {
						s.logger.WithFields(logrus.Fields{"room": roomCode, "round": roundNumber}).
							Debug("stale end-round timer fired, ignoring")
						return
					}
					s.EndRound(context.Background(), roomCode)
				}()
			})
		}()
	})
}

// roundStillCurrent reports whether the room exists and is still on the round
// a deferred callback was armed for.
func (s *Service) roundStillCurrent(roomCode string, roundNumber int) bool {
	r, ok := s.rooms.GetRoom(roomCode)
	if !ok {
		return false
	}
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.RoundNumber == roundNumber && r.State == room.StatePlaying
}

// RevealAnswer broadcasts the correct title and artist for the current song,
// with a best-effort artist image. No-op when no song is active.
func (s *Service) RevealAnswer(ctx context.Context, roomCode string) {
	r, ok := s.rooms.GetRoom(roomCode)
	if !ok {
		return
	}
	r.Mu.Lock()
	song := r.CurrentSong
	r.Mu.Unlock()
	if song == nil {
		return
	}

	payload := protocol.AnswerRevealPayload{Title: song.Title, Artist: song.Artist}
	lookupCtx, cancel := context.WithTimeout(ctx, lookupTimeout)
	imageURL, err := s.catalog.ArtistImageURL(lookupCtx, song.Artist)
	cancel()
	if err != nil {
		s.logger.WithError(err).WithField("room", roomCode).Warn("artist image lookup failed")
	} else if imageURL != "" {
		payload.ArtistImageURL = &imageURL
	}

	s.rooms.Broadcast(ctx, roomCode, protocol.MustNew(protocol.TypeAnswerReveal, payload))
}

// EndRound moves the room to the leaderboard phase and broadcasts the current
// ranking. After the final round it also marks the game ended, broadcasts the
// final standings, and no further rounds are possible.
func (s *Service) EndRound(ctx context.Context, roomCode string) {
	r, ok := s.rooms.GetRoom(roomCode)
	if !ok {
		return
	}

	r.Mu.Lock()
	r.State = room.StateLeaderboard
	leaderboard := r.LeaderboardUnsafe()
	currentRound := r.RoundNumber
	totalRounds := r.TotalRounds
	final := currentRound >= totalRounds
	if final {
		r.State = room.StateEnded
	}
	scores := make(map[string]int, len(r.Players))
	for _, p := range r.Players {
		scores[p.ID] = p.Score
	}
	r.Mu.Unlock()

	s.rooms.Broadcast(ctx, roomCode, protocol.MustNew(protocol.TypeRoundEnded, protocol.RoundEndedPayload{
		Leaderboard:  leaderboard,
		CurrentRound: currentRound,
		TotalRounds:  totalRounds,
	}))

	if final {
		s.rooms.Broadcast(ctx, roomCode, protocol.MustNew(protocol.TypeGameEnded, protocol.GameEndedPayload{
			FinalLeaderboard: leaderboard,
		}))
		s.history.GameEnded(ctx, history.GameRecord{
			RoomCode: roomCode,
			Rounds:   currentRound,
			Scores:   scores,
			EndedAt:  time.Now().Unix(),
		})
		s.logger.WithField("room", roomCode).Info("game ended")
	}
}

// ProcessAnswer scores one guess against the current song and credits the
// player. It returns the private reply frame for the submitting connection.
// Multiple submissions per round are each scored at their own elapsed time.
func (s *Service) ProcessAnswer(ctx context.Context, roomCode, playerID string, guess protocol.SubmitAnswerPayload) protocol.Message {
	r, ok := s.rooms.GetRoom(roomCode)
	if !ok {
		return protocol.Error(protocol.CodeNoActiveRound)
	}
	r.Mu.Lock()
	song := r.CurrentSong
	startTime := r.RoundStartTime
	roundNumber := r.RoundNumber
	r.Mu.Unlock()
	if song == nil {
		return protocol.Error(protocol.CodeNoActiveRound)
	}

	var elapsed time.Duration
	if !startTime.IsZero() {
		elapsed = time.Since(startTime)
	}

	artist := strings.TrimSpace(guess.Artist)
	title := strings.TrimSpace(guess.Title)

	result := scoring.CheckAnswer(artist, title, song.Artist, song.Title)
	awarded := scoring.Score(result, elapsed)
	if awarded > 0 {
		s.rooms.AddScore(roomCode, playerID, awarded)
	}

	s.history.AnswerScored(ctx, history.AnswerRecord{
		RoomCode:       roomCode,
		PlayerID:       playerID,
		RoundNumber:    roundNumber,
		ArtistGuess:    artist,
		TitleGuess:     title,
		ArtistCorrect:  result.ArtistCorrect,
		TitleCorrect:   result.TitleCorrect,
		ScoreAwarded:   awarded,
		ElapsedSeconds: elapsed.Seconds(),
		Timestamp:      time.Now().Unix(),
	})

	return protocol.MustNew(protocol.TypeAnswerReceived, protocol.AnswerReceivedPayload{
		Artist:       artist,
		Title:        title,
		Result:       result,
		ScoreAwarded: awarded,
	})
}

// previewURL resolves the playback URL for a song, falling back to an empty
// URL on any failure or timeout rather than blocking the round.
func (s *Service) previewURL(ctx context.Context, song *catalog.Song) string {
	lookupCtx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	url, err := s.catalog.PreviewURL(lookupCtx, song.DeezerTrackID)
	if err != nil {
		s.logger.WithError(err).WithField("song", song.ID).Warn("preview lookup failed, starting round without audio")
		return ""
	}
	return url
}
