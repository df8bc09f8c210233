// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tempotrivia/tempotrivia/internal/catalog"
	"github.com/tempotrivia/tempotrivia/internal/game"
	"github.com/tempotrivia/tempotrivia/internal/protocol"
	"github.com/tempotrivia/tempotrivia/internal/room"
)

// replyTimeout bounds direct (non-broadcast) writes from the handler.
const replyTimeout = 5 * time.Second

// wsConn adapts a coder/websocket connection to the room.Conn interface.
// websocket.Conn allows one concurrent writer; Write itself serializes
// concurrent callers, so no extra locking is needed here.
type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Send(ctx context.Context, msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return w.c.Write(ctx, websocket.MessageText, data)
}

// WSHandler upgrades the connection and runs the join handshake followed by
// the per-connection read loop. The first frame must be a valid join; any
// other first frame closes the connection with an unsupported-data status,
// and a malformed join payload gets an INVALID_JOIN error frame before a
// policy-violation close.
func WSHandler(logger *logrus.Logger, rooms *room.Store, svc *game.Service, cat catalog.Catalog) http.HandlerFunc {
	dispatcher := NewDispatcher(logger)

	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"}, // Adjust in production.
		})
		if err != nil {
			logger.WithError(err).Warn("websocket accept failed")
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		ctx := r.Context()
		remoteAddr := r.RemoteAddr

		join, ok := readJoin(ctx, c)
		if !ok {
			return
		}

		playerID := newPlayerID()
		conn := &wsConn{c: c}
		rooms.AddPlayer(join.RoomCode, playerID, join.Nickname, conn)
		logger.WithFields(logrus.Fields{
			"room":   join.RoomCode,
			"player": playerID,
			"remote": remoteAddr,
		}).Info("websocket connected")

		sendJoinSequence(ctx, logger, rooms, cat, conn, join, playerID)

		readLoop(ctx, c, dispatcher, &MessageContext{
			Conn:     conn,
			PlayerID: playerID,
			RoomCode: join.RoomCode,
			Rooms:    rooms,
			Game:     svc,
		}, logger)

		// Cleanup after the read loop exits, for whatever reason. Broadcast
		// failures may already have dropped this connection; DropConnection
		// is a no-op in that case.
		rooms.DropConnection(context.Background(), conn)
		logger.WithFields(logrus.Fields{
			"room":   join.RoomCode,
			"player": playerID,
		}).Info("websocket disconnected")
	}
}

// readJoin enforces the join-first protocol on a fresh connection.
func readJoin(ctx context.Context, c *websocket.Conn) (protocol.JoinPayload, bool) {
	var join protocol.JoinPayload

	typ, data, err := c.Read(ctx)
	if err != nil {
		return join, false
	}
	if typ != websocket.MessageText {
		c.Close(websocket.StatusUnsupportedData, "expected a text join frame")
		return join, false
	}

	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != protocol.TypeJoin {
		c.Close(websocket.StatusUnsupportedData, "first message must be join")
		return join, false
	}

	if len(msg.Payload) > 0 {
		// Decode errors leave the zero value, which Validate rejects.
		_ = json.Unmarshal(msg.Payload, &join)
	}
	if err := join.Validate(); err != nil {
		writeMessage(ctx, c, protocol.Error(protocol.CodeInvalidJoin))
		c.Close(websocket.StatusPolicyViolation, "invalid join payload")
		return join, false
	}

	return join, true
}

// sendJoinSequence delivers the post-join frames: the selectable game modes,
// the private joined acknowledgement, and the room_state broadcast.
func sendJoinSequence(ctx context.Context, logger *logrus.Logger, rooms *room.Store, cat catalog.Catalog, conn room.Conn, join protocol.JoinPayload, playerID string) {
	names := []string{}
	descriptions := []string{}
	listCtx, cancel := context.WithTimeout(ctx, replyTimeout)
	playlists, err := cat.ListPlaylists(listCtx)
	cancel()
	if err != nil {
		logger.WithError(err).Warn("playlist listing failed, sending empty game modes")
	}
	for _, pl := range playlists {
		names = append(names, pl.Name)
		descriptions = append(descriptions, pl.Description)
	}
	sendDirect(ctx, conn, protocol.MustNew(protocol.TypeGameModes, protocol.GameModesPayload{
		Name:        names,
		Description: descriptions,
	}))

	joined := protocol.JoinedPayload{
		PlayerID: playerID,
		RoomCode: join.RoomCode,
		Nickname: join.Nickname,
	}
	if r, ok := rooms.GetRoom(join.RoomCode); ok {
		r.Mu.Lock()
		if r.HostID != "" {
			hostID := r.HostID
			joined.HostID = &hostID
		}
		r.Mu.Unlock()
	}
	sendDirect(ctx, conn, protocol.MustNew(protocol.TypeJoined, joined))

	rooms.BroadcastRoomState(ctx, join.RoomCode)
}

// readLoop pumps inbound frames into the dispatcher until the connection
// closes. Malformed frames are logged and skipped.
func readLoop(ctx context.Context, c *websocket.Conn, dispatcher *Dispatcher, mc *MessageContext, logger *logrus.Logger) {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return
			}
			if strings.Contains(err.Error(), "context canceled") {
				return
			}
			logger.WithError(err).WithFields(logrus.Fields{
				"room":   mc.RoomCode,
				"player": mc.PlayerID,
			}).Warn("websocket read error")
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"room":   mc.RoomCode,
				"player": mc.PlayerID,
			}).Warn("invalid json frame")
			continue
		}

		dispatcher.Dispatch(ctx, mc, msg)
	}
}

// newPlayerID generates a short opaque id, unique enough within one room.
func newPlayerID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])[:8]
}

func sendDirect(ctx context.Context, conn room.Conn, msg protocol.Message) {
	sendCtx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	_ = conn.Send(sendCtx, msg)
}

func writeMessage(ctx context.Context, c *websocket.Conn, msg protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	_ = c.Write(writeCtx, websocket.MessageText, data)
}
