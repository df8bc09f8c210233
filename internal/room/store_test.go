// internal/room/store_test.go
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempotrivia/tempotrivia/internal/protocol"
)

// fakeConn records sent messages instead of writing to a socket. Setting
// fail makes every Send return an error, simulating a dead connection.
type fakeConn struct {
	mu   sync.Mutex
	msgs []protocol.Message
	fail bool
}

func (f *fakeConn) Send(_ context.Context, msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection reset")
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeConn) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, len(f.msgs))
	for i, m := range f.msgs {
		types[i] = m.Type
	}
	return types
}

func (f *fakeConn) countType(msgType string) int {
	n := 0
	for _, typ := range f.sentTypes() {
		if typ == msgType {
			n++
		}
	}
	return n
}

func newTestStore() *Store {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewStore(logger)
}

func TestFirstJoinCreatesRoomAndHost(t *testing.T) {
	s := newTestStore()
	conn := &fakeConn{}

	p := s.AddPlayer("abc123", "p1", "Alice", conn)
	require.NotNil(t, p)
	assert.Equal(t, 0, p.Score)

	r, ok := s.GetRoom("ABC123")
	require.True(t, ok, "room should exist under the canonical code")
	r.Mu.Lock()
	defer r.Mu.Unlock()
	assert.Equal(t, "ABC123", r.Code)
	assert.Equal(t, "p1", r.HostID)
	assert.Len(t, r.Players, 1)
	assert.Equal(t, StateLobby, r.State)
	assert.Equal(t, 0, r.RoundNumber)
}

func TestHostReassignmentIsFIFO(t *testing.T) {
	s := newTestStore()
	c1, c2, c3 := &fakeConn{}, &fakeConn{}, &fakeConn{}
	s.AddPlayer("ABC123", "p1", "Alice", c1)
	s.AddPlayer("ABC123", "p2", "Bob", c2)
	s.AddPlayer("ABC123", "p3", "Cara", c3)

	removal, ok := s.RemoveConnection(c1)
	require.True(t, ok)
	assert.True(t, removal.HostChanged)
	assert.False(t, removal.RoomDeleted)

	r, ok := s.GetRoom("ABC123")
	require.True(t, ok)
	r.Mu.Lock()
	defer r.Mu.Unlock()
	assert.Equal(t, "p2", r.HostID, "earliest-joined remaining player becomes host")
	assert.NotNil(t, r.PlayerUnsafe(r.HostID), "host must be a current player")
}

func TestRemoveConnectionIsIdempotent(t *testing.T) {
	s := newTestStore()
	c1, c2 := &fakeConn{}, &fakeConn{}
	s.AddPlayer("ABC123", "p1", "Alice", c1)
	s.AddPlayer("ABC123", "p2", "Bob", c2)

	_, ok := s.RemoveConnection(c1)
	require.True(t, ok)

	_, ok = s.RemoveConnection(c1)
	assert.False(t, ok, "second removal must be a no-op")

	r, ok := s.GetRoom("ABC123")
	require.True(t, ok)
	r.Mu.Lock()
	defer r.Mu.Unlock()
	assert.Len(t, r.Players, 1)
}

func TestEmptyRoomIsDeletedAndRejoinIsFresh(t *testing.T) {
	s := newTestStore()
	c1 := &fakeConn{}
	s.AddPlayer("ABC123", "p1", "Alice", c1)

	r, _ := s.GetRoom("ABC123")
	r.Mu.Lock()
	r.RoundNumber = 5
	r.PlayedSongIDs[42] = struct{}{}
	r.Mu.Unlock()

	removal, ok := s.RemoveConnection(c1)
	require.True(t, ok)
	assert.True(t, removal.RoomDeleted)

	_, ok = s.GetRoom("ABC123")
	assert.False(t, ok, "room with zero connections must not exist")

	s.AddPlayer("ABC123", "p2", "Bob", &fakeConn{})
	fresh, ok := s.GetRoom("ABC123")
	require.True(t, ok)
	fresh.Mu.Lock()
	defer fresh.Mu.Unlock()
	assert.Equal(t, 0, fresh.RoundNumber)
	assert.Empty(t, fresh.PlayedSongIDs)
	assert.Equal(t, "p2", fresh.HostID)
}

func TestBroadcastExcludesPlayers(t *testing.T) {
	s := newTestStore()
	c1, c2 := &fakeConn{}, &fakeConn{}
	s.AddPlayer("ABC123", "p1", "Alice", c1)
	s.AddPlayer("ABC123", "p2", "Bob", c2)

	msg := protocol.MustNew("test_event", struct{}{})
	s.Broadcast(context.Background(), "ABC123", msg, "p1")

	assert.Equal(t, 0, c1.countType("test_event"))
	assert.Equal(t, 1, c2.countType("test_event"))
}

func TestSendToPlayer(t *testing.T) {
	s := newTestStore()
	c1, c2 := &fakeConn{}, &fakeConn{}
	s.AddPlayer("ABC123", "p1", "Alice", c1)
	s.AddPlayer("ABC123", "p2", "Bob", c2)

	msg := protocol.MustNew("private_event", struct{}{})
	s.SendToPlayer(context.Background(), "ABC123", "p2", msg)

	assert.Equal(t, 0, c1.countType("private_event"))
	assert.Equal(t, 1, c2.countType("private_event"))
}

func TestBroadcastFailureDemotesConnection(t *testing.T) {
	s := newTestStore()
	good, dead := &fakeConn{}, &fakeConn{fail: true}
	s.AddPlayer("ABC123", "p1", "Alice", good)
	s.AddPlayer("ABC123", "p2", "Bob", dead)

	s.Broadcast(context.Background(), "ABC123", protocol.MustNew("test_event", struct{}{}))

	// The failed connection is removed through the standard cleanup path.
	r, ok := s.GetRoom("ABC123")
	require.True(t, ok)
	r.Mu.Lock()
	assert.Len(t, r.Players, 1)
	assert.Equal(t, "p1", r.HostID)
	r.Mu.Unlock()

	_, ok = s.RemoveConnection(dead)
	assert.False(t, ok, "dead connection must already be gone from the registry")

	// The survivor got the original message plus the membership update.
	assert.Equal(t, 1, good.countType("test_event"))
	assert.Equal(t, 1, good.countType(protocol.TypeRoomState))
}

func TestBroadcastFailureOfLastConnectionDeletesRoom(t *testing.T) {
	s := newTestStore()
	dead := &fakeConn{fail: true}
	s.AddPlayer("ABC123", "p1", "Alice", dead)

	s.Broadcast(context.Background(), "ABC123", protocol.MustNew("test_event", struct{}{}))

	_, ok := s.GetRoom("ABC123")
	assert.False(t, ok)
}

func TestAddScoreNeverGoesThroughForMissingPlayer(t *testing.T) {
	s := newTestStore()
	s.AddPlayer("ABC123", "p1", "Alice", &fakeConn{})

	s.AddScore("ABC123", "p1", 980)
	s.AddScore("ABC123", "ghost", 500)

	p, ok := s.GetPlayer("ABC123", "p1")
	require.True(t, ok)
	assert.Equal(t, 980, p.Score)

	_, ok = s.GetPlayer("ABC123", "ghost")
	assert.False(t, ok)
}

func TestConcurrentJoinAndDisconnectNeverOrphansAJoiner(t *testing.T) {
	s := newTestStore()

	// Churn joins and final disconnects on one code. Every joiner must come
	// back registered in the room the store currently serves, even when its
	// join races the delete of the previous room instance.
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c := &fakeConn{}
				id := fmt.Sprintf("p%d-%d", g, i)
				s.AddPlayer("ABC123", id, "Racer", c)

				r, ok := s.GetRoom("ABC123")
				if assert.True(t, ok, "joiner %s landed in a deleted room", id) {
					r.Mu.Lock()
					p := r.PlayerUnsafe(id)
					r.Mu.Unlock()
					assert.NotNil(t, p, "joiner %s missing from the registered room", id)
				}

				_, ok = s.RemoveConnection(c)
				assert.True(t, ok)
			}
		}(g)
	}
	wg.Wait()

	_, ok := s.GetRoom("ABC123")
	assert.False(t, ok, "room must be gone once every connection left")
}

func TestRoomStateMessage(t *testing.T) {
	s := newTestStore()
	s.AddPlayer("abc123", "p1", "Alice", &fakeConn{})
	s.AddPlayer("abc123", "p2", "Bob", &fakeConn{})

	msg := s.RoomStateMessage("abc123")
	assert.Equal(t, protocol.TypeRoomState, msg.Type)

	var payload protocol.RoomStatePayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "ABC123", payload.RoomCode)
	require.NotNil(t, payload.HostID)
	assert.Equal(t, "p1", *payload.HostID)
	require.Len(t, payload.Players, 2)
	assert.True(t, payload.Players[0].IsHost)
	assert.False(t, payload.Players[1].IsHost)
}
