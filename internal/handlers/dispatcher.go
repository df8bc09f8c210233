// internal/handlers/dispatcher.go
package handlers

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
	"github.com/tempotrivia/tempotrivia/internal/game"
	"github.com/tempotrivia/tempotrivia/internal/protocol"
	"github.com/tempotrivia/tempotrivia/internal/room"
)

// MessageContext carries everything a handler needs about the originating
// connection: the transport handle, the resolved player identity, and the
// injected collaborators.
type MessageContext struct {
	Conn     room.Conn
	PlayerID string
	RoomCode string
	Rooms    *room.Store
	Game     *game.Service
}

// HandlerFunc processes one inbound message's payload.
type HandlerFunc func(ctx context.Context, mc *MessageContext, payload json.RawMessage)

// Dispatcher routes inbound frames by their declared type. Unrecognized
// types are observed in the log and otherwise ignored.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   *logrus.Logger
}

// NewDispatcher registers the full post-join handler set.
func NewDispatcher(logger *logrus.Logger) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
	d.handlers[protocol.TypeSelectGameMode] = handleSelectGameMode
	d.handlers[protocol.TypeStartGame] = handleStartGame
	d.handlers[protocol.TypeSubmitAnswer] = handleSubmitAnswer
	d.handlers[protocol.TypeNextRound] = handleNextRound
	d.handlers[protocol.TypeSetAudioMode] = handleSetAudioMode
	return d
}

// Dispatch routes one frame to its handler.
func (d *Dispatcher) Dispatch(ctx context.Context, mc *MessageContext, msg protocol.Message) {
	handler, ok := d.handlers[msg.Type]
	if !ok {
		d.logger.WithFields(logrus.Fields{
			"type":   msg.Type,
			"room":   mc.RoomCode,
			"player": mc.PlayerID,
		}).Debug("unhandled message type")
		return
	}
	handler(ctx, mc, msg.Payload)
}

// isHost reports whether the acting player currently holds the host role.
func isHost(mc *MessageContext) bool {
	r, ok := mc.Rooms.GetRoom(mc.RoomCode)
	if !ok {
		return false
	}
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.HostID == mc.PlayerID
}

// handleSelectGameMode sets the room's playlist. Host only; silently ignored
// for anyone else.
func handleSelectGameMode(ctx context.Context, mc *MessageContext, payload json.RawMessage) {
	if !isHost(mc) {
		return
	}
	var p protocol.SelectGameModePayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Mode == "" {
		return
	}

	r, ok := mc.Rooms.GetRoom(mc.RoomCode)
	if !ok {
		return
	}
	r.Mu.Lock()
	r.SelectedMode = p.Mode
	r.Mu.Unlock()

	mc.Rooms.Broadcast(ctx, mc.RoomCode, protocol.MustNew(protocol.TypeModeSelected, protocol.ModeSelectedPayload{
		SelectedMode: p.Mode,
	}))
}

// handleStartGame kicks off the first round. Non-hosts get an explicit error
// reply, unlike the other privileged actions.
func handleStartGame(ctx context.Context, mc *MessageContext, _ json.RawMessage) {
	if !isHost(mc) {
		_ = mc.Conn.Send(ctx, protocol.Error(protocol.CodeNotHost))
		return
	}

	mc.Rooms.Broadcast(ctx, mc.RoomCode, protocol.MustNew(protocol.TypeGameStateChanged, protocol.GameStateChangedPayload{
		NewState: string(room.StatePlaying),
	}))
	mc.Game.StartRound(ctx, mc.RoomCode)
}

// handleSubmitAnswer scores a guess and replies privately to the submitter.
func handleSubmitAnswer(ctx context.Context, mc *MessageContext, payload json.RawMessage) {
	var p protocol.SubmitAnswerPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	reply := mc.Game.ProcessAnswer(ctx, mc.RoomCode, mc.PlayerID, p)
	_ = mc.Conn.Send(ctx, reply)
}

// handleNextRound manually advances to the next round, pre-empting any
// pending round timer via the round-number guard. Host only, silent otherwise.
func handleNextRound(ctx context.Context, mc *MessageContext, _ json.RawMessage) {
	if !isHost(mc) {
		return
	}
	r, ok := mc.Rooms.GetRoom(mc.RoomCode)
	if !ok {
		return
	}
	r.Mu.Lock()
	canAdvance := r.RoundNumber < r.TotalRounds
	r.Mu.Unlock()
	if canAdvance {
		mc.Game.StartRound(ctx, mc.RoomCode)
	}
}

// handleSetAudioMode toggles host-only playback. Host only, silent otherwise.
func handleSetAudioMode(ctx context.Context, mc *MessageContext, payload json.RawMessage) {
	if !isHost(mc) {
		return
	}
	var p protocol.SetAudioModePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}

	r, ok := mc.Rooms.GetRoom(mc.RoomCode)
	if !ok {
		return
	}
	r.Mu.Lock()
	r.HostOnlyAudio = p.HostOnly
	r.Mu.Unlock()

	mc.Rooms.Broadcast(ctx, mc.RoomCode, protocol.MustNew(protocol.TypeAudioModeSet, protocol.AudioModeSetPayload{
		HostOnlyAudio: p.HostOnly,
	}))
}
