// internal/room/room.go
package room

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tempotrivia/tempotrivia/internal/catalog"
	"github.com/tempotrivia/tempotrivia/internal/protocol"
)

// GameState is the coarse lifecycle phase of a room.
type GameState string

const (
	StateLobby       GameState = "lobby"
	StatePlaying     GameState = "playing"
	StateLeaderboard GameState = "leaderboard"
	StateEnded       GameState = "ended"
)

// DefaultTotalRounds is the number of rounds a room plays before the game
// ends. Fixed at room creation.
const DefaultTotalRounds = 10

// Conn is one player's transport handle. Implementations must tolerate
// concurrent Send calls; the store never holds a room lock while sending.
type Conn interface {
	Send(ctx context.Context, msg protocol.Message) error
}

// Player is a member of exactly one room. Score only ever grows within a game.
type Player struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// Room is the mutable in-memory state for one active session. All fields are
// protected by Mu; methods with the Unsafe suffix assume the caller holds it.
type Room struct {
	Code string

	// Players is kept in join order. Host reassignment and leaderboard
	// tie-breaks both depend on that ordering.
	Players []*Player

	HostID         string
	SelectedMode   string
	CurrentSong    *catalog.Song
	PlayedSongIDs  map[int64]struct{}
	RoundNumber    int
	TotalRounds    int
	RoundStartTime time.Time
	HostOnlyAudio  bool
	State          GameState

	// conns maps playerID -> live connection. The connection is the strong
	// identity; this is only a lookup back-reference for targeted sends.
	conns map[string]Conn

	Mu sync.Mutex
}

func newRoom(code string) *Room {
	return &Room{
		Code:          code,
		PlayedSongIDs: make(map[int64]struct{}),
		TotalRounds:   DefaultTotalRounds,
		State:         StateLobby,
		conns:         make(map[string]Conn),
	}
}

// PlayerUnsafe returns the player with the given id, or nil.
func (r *Room) PlayerUnsafe(playerID string) *Player {
	for _, p := range r.Players {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}

// PlayedSongIDsUnsafe returns the exclusion list for the catalog, sorted for
// deterministic queries.
func (r *Room) PlayedSongIDsUnsafe() []int64 {
	ids := make([]int64, 0, len(r.PlayedSongIDs))
	for id := range r.PlayedSongIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// LeaderboardUnsafe returns players ranked by score descending; players with
// equal scores keep their join order.
func (r *Room) LeaderboardUnsafe() []protocol.LeaderboardEntry {
	ranked := make([]*Player, len(r.Players))
	copy(ranked, r.Players)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	entries := make([]protocol.LeaderboardEntry, len(ranked))
	for i, p := range ranked {
		entries[i] = protocol.LeaderboardEntry{Name: p.Name, Score: p.Score}
	}
	return entries
}

// StatePayloadUnsafe builds the room_state snapshot for broadcast.
func (r *Room) StatePayloadUnsafe() protocol.RoomStatePayload {
	payload := protocol.RoomStatePayload{
		RoomCode:     r.Code,
		Players:      make([]protocol.PlayerInfo, 0, len(r.Players)),
		SelectedMode: r.SelectedMode,
	}
	if r.HostID != "" {
		hostID := r.HostID
		payload.HostID = &hostID
	}
	for _, p := range r.Players {
		payload.Players = append(payload.Players, protocol.PlayerInfo{
			ID:     p.ID,
			Name:   p.Name,
			IsHost: p.ID == r.HostID,
		})
	}
	return payload
}

// connsUnsafe snapshots the live connections, minus excluded players, so
// writes can happen outside the lock.
func (r *Room) connsUnsafe(exclude map[string]struct{}) []Conn {
	conns := make([]Conn, 0, len(r.conns))
	for playerID, c := range r.conns {
		if _, skip := exclude[playerID]; skip {
			continue
		}
		conns = append(conns, c)
	}
	return conns
}
