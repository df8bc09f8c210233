// internal/room/store.go
package room

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Store owns every active room and the connection registry mapping each live
// connection back to its (room, player) identity. It is constructed per
// server instance and injected wherever rooms are needed, so tests can run
// isolated stores side by side.
//
// Lock order: a room mutex may be held while the store mutex is taken, never
// the reverse, and neither is held while a connection is written to.
type Store struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	conns  map[Conn]connIdent
	logger *logrus.Logger
}

type connIdent struct {
	roomCode string
	playerID string
}

// Removal describes the outcome of RemoveConnection.
type Removal struct {
	RoomCode    string
	PlayerID    string
	HostChanged bool
	RoomDeleted bool
}

// NewStore returns an empty store.
func NewStore(logger *logrus.Logger) *Store {
	return &Store{
		rooms:  make(map[string]*Room),
		conns:  make(map[Conn]connIdent),
		logger: logger,
	}
}

// Canonical upper-cases a room code; codes are case-insensitive keys.
func Canonical(code string) string {
	return strings.ToUpper(code)
}

// EnsureRoom returns the room for code, creating it if unseen. Idempotent.
func (s *Store) EnsureRoom(code string) *Room {
	code = Canonical(code)
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[code]
	if !ok {
		r = newRoom(code)
		s.rooms[code] = r
		s.logger.WithField("room", code).Info("room created")
	}
	return r
}

// GetRoom looks up a room by code.
func (s *Store) GetRoom(code string) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[Canonical(code)]
	return r, ok
}

// AddPlayer appends a player and its connection to the room, creating the
// room on first join. The first player to join becomes host. The insert is
// only committed into a room still registered in the store; losing that race
// to a final disconnect retries against a fresh room.
func (s *Store) AddPlayer(code, playerID, name string, c Conn) *Player {
	var r *Room
	player := &Player{ID: playerID, Name: name}
	for {
		r = s.EnsureRoom(code)

		r.Mu.Lock()
		s.mu.Lock()
		if s.rooms[r.Code] != r {
			// A concurrent disconnect deleted this room after EnsureRoom
			// returned it.
			s.mu.Unlock()
			r.Mu.Unlock()
			continue
		}
		s.conns[c] = connIdent{roomCode: r.Code, playerID: playerID}
		s.mu.Unlock()

		r.Players = append(r.Players, player)
		r.conns[playerID] = c
		if r.HostID == "" {
			r.HostID = playerID
		}
		r.Mu.Unlock()
		break
	}

	s.logger.WithFields(logrus.Fields{
		"room":   r.Code,
		"player": playerID,
		"name":   name,
	}).Info("player joined")
	return player
}

// RemoveConnection detaches a connection, removes its player, reassigns the
// host to the earliest-joined remaining player if needed, and deletes the
// room once empty. Calling it again for the same connection is a no-op.
func (s *Store) RemoveConnection(c Conn) (Removal, bool) {
	s.mu.Lock()
	ident, ok := s.conns[c]
	if !ok {
		s.mu.Unlock()
		return Removal{}, false
	}
	delete(s.conns, c)
	r, roomExists := s.rooms[ident.roomCode]
	s.mu.Unlock()

	if !roomExists {
		return Removal{}, false
	}

	r.Mu.Lock()
	// Only drop the registered connection: a stale handle must not evict a
	// player who reconnected with a fresh one.
	if cur, ok := r.conns[ident.playerID]; ok && cur == c {
		delete(r.conns, ident.playerID)
	}
	for i, p := range r.Players {
		if p.ID == ident.playerID {
			r.Players = append(r.Players[:i], r.Players[i+1:]...)
			break
		}
	}

	hostChanged := false
	if r.HostID == ident.playerID {
		hostChanged = true
		if len(r.Players) > 0 {
			r.HostID = r.Players[0].ID
		} else {
			r.HostID = ""
		}
	}
	// The emptiness check and the store delete stay under the room lock so a
	// concurrent join either lands before the check or retries after the
	// delete; it can never be inserted into a deregistered room.
	empty := len(r.conns) == 0
	if empty {
		s.mu.Lock()
		if s.rooms[ident.roomCode] == r {
			delete(s.rooms, ident.roomCode)
		}
		s.mu.Unlock()
	}
	r.Mu.Unlock()

	if empty {
		s.logger.WithField("room", ident.roomCode).Info("room deleted")
	}

	s.logger.WithFields(logrus.Fields{
		"room":        ident.roomCode,
		"player":      ident.playerID,
		"hostChanged": hostChanged,
	}).Info("player left")

	return Removal{
		RoomCode:    ident.roomCode,
		PlayerID:    ident.playerID,
		HostChanged: hostChanged,
		RoomDeleted: empty,
	}, true
}

// GetPlayer returns a player by room code and id.
func (s *Store) GetPlayer(code, playerID string) (*Player, bool) {
	r, ok := s.GetRoom(code)
	if !ok {
		return nil, false
	}
	r.Mu.Lock()
	defer r.Mu.Unlock()
	p := r.PlayerUnsafe(playerID)
	if p == nil {
		return nil, false
	}
	return p, true
}

// AddScore credits points to a player. Awards are always non-negative, so
// scores never decrease.
func (s *Store) AddScore(code, playerID string, points int) {
	r, ok := s.GetRoom(code)
	if !ok {
		return
	}
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if p := r.PlayerUnsafe(playerID); p != nil {
		p.Score += points
	}
}
