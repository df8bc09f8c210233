// internal/room/broadcast.go
package room

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tempotrivia/tempotrivia/internal/protocol"
)

// sendTimeout bounds each individual connection write so one slow or dead
// client cannot stall delivery to the rest of the room.
const sendTimeout = 3 * time.Second

// Broadcast delivers msg to every connection in the room except the excluded
// players. Connection snapshots are taken under the room lock; the writes
// happen outside it. Any failed write demotes that connection through the
// normal disconnect path.
func (s *Store) Broadcast(ctx context.Context, code string, msg protocol.Message, excludePlayerIDs ...string) {
	r, ok := s.GetRoom(code)
	if !ok {
		return
	}

	exclude := make(map[string]struct{}, len(excludePlayerIDs))
	for _, id := range excludePlayerIDs {
		exclude[id] = struct{}{}
	}

	r.Mu.Lock()
	targets := r.connsUnsafe(exclude)
	r.Mu.Unlock()

	var dead []Conn
	for _, c := range targets {
		if err := s.send(ctx, c, msg); err != nil {
			s.logger.WithError(err).WithField("room", code).Warn("broadcast delivery failed")
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		s.DropConnection(ctx, c)
	}
}

// SendToPlayer delivers msg to a single player, with the same failure
// handling as Broadcast.
func (s *Store) SendToPlayer(ctx context.Context, code, playerID string, msg protocol.Message) {
	r, ok := s.GetRoom(code)
	if !ok {
		return
	}

	r.Mu.Lock()
	c, ok := r.conns[playerID]
	r.Mu.Unlock()
	if !ok {
		return
	}

	if err := s.send(ctx, c, msg); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"room":   code,
			"player": playerID,
		}).Warn("targeted send failed")
		s.DropConnection(ctx, c)
	}
}

// DropConnection is the single cleanup path for a connection that failed or
// closed: remove it (idempotently) and, if the room survived, broadcast the
// updated membership. The re-broadcast cannot loop forever because each
// failing connection is removed from the registry before it is retried.
func (s *Store) DropConnection(ctx context.Context, c Conn) (Removal, bool) {
	removal, ok := s.RemoveConnection(c)
	if !ok {
		return Removal{}, false
	}
	if !removal.RoomDeleted {
		s.BroadcastRoomState(ctx, removal.RoomCode)
	}
	return removal, true
}

// RoomStateMessage builds the room_state frame for a code. A missing room
// yields an empty snapshot, mirroring what late deliveries observe.
func (s *Store) RoomStateMessage(code string) protocol.Message {
	code = Canonical(code)
	r, ok := s.GetRoom(code)
	if !ok {
		return protocol.MustNew(protocol.TypeRoomState, protocol.RoomStatePayload{
			RoomCode: code,
			Players:  []protocol.PlayerInfo{},
		})
	}
	r.Mu.Lock()
	payload := r.StatePayloadUnsafe()
	r.Mu.Unlock()
	return protocol.MustNew(protocol.TypeRoomState, payload)
}

// BroadcastRoomState pushes the current membership snapshot to the room.
func (s *Store) BroadcastRoomState(ctx context.Context, code string) {
	s.Broadcast(ctx, code, s.RoomStateMessage(code))
}

func (s *Store) send(ctx context.Context, c Conn, msg protocol.Message) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return c.Send(sendCtx, msg)
}
