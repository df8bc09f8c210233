// internal/protocol/protocol.go
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tempotrivia/tempotrivia/internal/scoring"
)

// Message is the envelope for every frame in both directions. The payload is
// left raw so each handler can decode it into its own typed struct.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client -> server message types.
const (
	TypeJoin           = "join"
	TypeSelectGameMode = "select_game_mode"
	TypeStartGame      = "start_game"
	TypeSubmitAnswer   = "submit_answer"
	TypeNextRound      = "next_round"
	TypeSetAudioMode   = "set_audio_mode"
)

// Server -> client message types.
const (
	TypeGameModes        = "game_modes"
	TypeJoined           = "joined"
	TypeRoomState        = "room_state"
	TypeModeSelected     = "mode_selected"
	TypeGameStateChanged = "game_state_changed"
	TypeRoundStarted     = "round_started"
	TypeNoMoreSongs      = "no_more_songs"
	TypeAnswerReveal     = "answer_reveal"
	TypeRoundEnded       = "round_ended"
	TypeGameEnded        = "game_ended"
	TypeAudioModeSet     = "audio_mode_set"
	TypeError            = "error"
	TypeAnswerReceived   = "answer_received"
)

// Error codes carried in ErrorPayload.
const (
	CodeInvalidJoin   = "INVALID_JOIN"
	CodeNotHost       = "NOT_HOST"
	CodeNoActiveRound = "NO_ACTIVE_ROUND"
)

// New builds a Message of the given type with a marshaled payload.
// Payload structs in this package are all marshalable; an error here means a
// programming mistake, so it is surfaced rather than swallowed.
func New(msgType string, payload interface{}) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Message{Type: msgType, Payload: data}, nil
}

// MustNew is New for payloads that cannot fail to marshal.
func MustNew(msgType string, payload interface{}) Message {
	msg, err := New(msgType, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Error builds an error frame with the given code.
func Error(code string) Message {
	return MustNew(TypeError, ErrorPayload{Code: code})
}

// --- Client payloads ---

// JoinPayload is the required first message on every connection.
type JoinPayload struct {
	RoomCode string `json:"roomCode"`
	Nickname string `json:"nickname"`
}

// Validate canonicalizes the payload and reports whether it is acceptable:
// a 6-character alphanumeric room code and a nickname of at least 2 characters
// after trimming.
func (p *JoinPayload) Validate() error {
	p.RoomCode = strings.ToUpper(strings.TrimSpace(p.RoomCode))
	p.Nickname = strings.TrimSpace(p.Nickname)
	if len(p.RoomCode) != 6 || !isAlnum(p.RoomCode) {
		return fmt.Errorf("room code must be 6 alphanumeric characters")
	}
	if utf8.RuneCountInString(p.Nickname) < 2 {
		return fmt.Errorf("nickname must be at least 2 characters")
	}
	return nil
}

func isAlnum(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}

// SelectGameModePayload carries the playlist name chosen by the host.
type SelectGameModePayload struct {
	Mode string `json:"mode"`
}

// SubmitAnswerPayload carries one guess for the current round.
type SubmitAnswerPayload struct {
	Artist string `json:"artist"`
	Title  string `json:"title"`
}

// SetAudioModePayload toggles host-only playback.
type SetAudioModePayload struct {
	HostOnly bool `json:"hostOnly"`
}

// --- Server payloads ---

// GameModesPayload lists the selectable playlists as parallel name and
// description arrays.
type GameModesPayload struct {
	Name        []string `json:"name"`
	Description []string `json:"description"`
}

// JoinedPayload acknowledges a successful join to the new player.
type JoinedPayload struct {
	PlayerID string  `json:"playerId"`
	HostID   *string `json:"hostId"`
	RoomCode string  `json:"roomCode"`
	Nickname string  `json:"nickname"`
}

// PlayerInfo is one entry in a room state snapshot.
type PlayerInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsHost bool   `json:"isHost"`
}

// RoomStatePayload is the full membership snapshot broadcast on every change.
type RoomStatePayload struct {
	RoomCode     string       `json:"roomCode"`
	HostID       *string      `json:"hostId"`
	Players      []PlayerInfo `json:"players"`
	SelectedMode string       `json:"selectedMode"`
}

// ModeSelectedPayload announces the host's playlist choice.
type ModeSelectedPayload struct {
	SelectedMode string `json:"selectedMode"`
}

// GameStateChangedPayload announces a coarse state transition.
type GameStateChangedPayload struct {
	NewState string `json:"newState"`
}

// SongData carries playback info for a round. URL is empty for non-host
// players when host-only audio is enabled.
type SongData struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
}

// RoundStartedPayload opens a round. Duration is in seconds.
type RoundStartedPayload struct {
	SongData SongData `json:"songData"`
	Duration int      `json:"duration"`
	IsHost   bool     `json:"isHost,omitempty"`
}

// AnswerRevealPayload exposes the correct answer after the guessing window.
type AnswerRevealPayload struct {
	Title          string  `json:"title"`
	Artist         string  `json:"artist"`
	ArtistImageURL *string `json:"artistImageUrl"`
}

// LeaderboardEntry is one row of a score ranking.
type LeaderboardEntry struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// RoundEndedPayload carries the standings after a round.
type RoundEndedPayload struct {
	Leaderboard  []LeaderboardEntry `json:"leaderboard"`
	CurrentRound int                `json:"currentRound"`
	TotalRounds  int                `json:"totalRounds"`
}

// GameEndedPayload carries the final standings once all rounds are played.
type GameEndedPayload struct {
	FinalLeaderboard []LeaderboardEntry `json:"finalLeaderboard"`
}

// AudioModeSetPayload announces the current host-only audio setting.
type AudioModeSetPayload struct {
	HostOnlyAudio bool `json:"hostOnlyAudio"`
}

// ErrorPayload carries a machine-readable error code.
type ErrorPayload struct {
	Code string `json:"code"`
}

// AnswerReceivedPayload is the private reply to a submitted guess.
type AnswerReceivedPayload struct {
	Artist       string         `json:"artist"`
	Title        string         `json:"title"`
	Result       scoring.Result `json:"result"`
	ScoreAwarded int            `json:"scoreAwarded"`
}
