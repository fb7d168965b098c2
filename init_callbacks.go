package main

import (
	"context"
	"log"

	"github.com/akinalp/agroconsult/models"
	"github.com/akinalp/agroconsult/ws"
)

// registerHubCallbacks connects gateway operations to the services. The hub
// lives in ws and must not import services, so main does the wiring.
//
// Operation callbacks run on the caller's read goroutine; a returned error
// becomes an error event echoing the caller's ref. Acks are sent by the
// services themselves.
func registerHubCallbacks(hub *ws.Hub, svcs *Services) {
	// ─── Video rooms ───

	hub.OnVideoJoin(func(ctx context.Context, caller models.Caller, data ws.VideoJoinData) error {
		_, err := svcs.VideoRoom.Join(ctx, caller, data.ConsultationID)
		return err
	})

	hub.OnVideoLeave(func(_ context.Context, caller models.Caller, data ws.VideoLeaveData) error {
		svcs.VideoRoom.Leave(caller, data.RoomID)
		return nil
	})

	// End call is fire-and-forget: without a ref there is nobody waiting
	// for the failure.
	hub.OnEndCall(func(_ context.Context, caller models.Caller, data ws.EndCallData) error {
		err := svcs.VideoRoom.EndCall(caller, data.RoomID, data.ConsultationID)
		if err != nil && caller.Ref == "" {
			log.Printf("[video] end_call from %s ignored: %v", caller.UserID, err)
			return nil
		}
		return err
	})

	hub.OnSignal(func(_ context.Context, caller models.Caller, kind models.SignalKind, data ws.SignalData) {
		svcs.VideoRoom.Relay(caller, kind, data)
	})

	// ─── Chat ───

	hub.OnChatJoin(func(ctx context.Context, caller models.Caller, data ws.ChatJoinData) error {
		_, err := svcs.Chat.Join(ctx, caller, data.ConsultationID)
		return err
	})

	hub.OnChatSend(func(ctx context.Context, caller models.Caller, req models.SendChatMessageRequest) error {
		_, err := svcs.Chat.Send(ctx, caller, req)
		return err
	})

	hub.OnChatTyping(func(_ context.Context, caller models.Caller, data ws.ChatTypingData) {
		svcs.Chat.Typing(caller, data.ConsultationID, data.IsTyping)
	})

	hub.OnChatRead(func(ctx context.Context, caller models.Caller, data ws.ChatReadData) error {
		_, err := svcs.Chat.MarkRead(ctx, caller, data.ConsultationID, data.MessageIDs)
		return err
	})

	hub.OnChatLeave(func(_ context.Context, caller models.Caller, data ws.ChatLeaveData) error {
		svcs.Chat.Leave(caller, data.ConsultationID)
		return nil
	})

	// ─── Disconnect ───
	//
	// The hub has already dropped the connection from every group, chat
	// rooms included. Only the Room Registry needs cleanup.
	hub.OnDisconnect(func(caller models.Caller) {
		svcs.VideoRoom.HandleDisconnect(caller)
	})
}

