package livekit

import (
	"context"
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/vovakirdan/parley/internal/callengine"
	"github.com/vovakirdan/parley/internal/store"
)

// Engine implements callengine.Engine using LiveKit as the media backend.
type Engine struct {
	apiKey    string
	apiSecret string
	wsURL     string
	tokenTTL  time.Duration
}

var _ callengine.Engine = (*Engine)(nil)

// New creates a new LiveKit engine.
func New(apiKey, apiSecret, wsURL string) *Engine {
	return &Engine{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		wsURL:     wsURL,
		tokenTTL:  time.Hour,
	}
}

// AllocateRoom names the LiveKit room for the call.
// LiveKit creates rooms on demand when the first participant joins.
func (e *Engine) AllocateRoom(_ context.Context, call *store.VoiceCall) (string, error) {
	return fmt.Sprintf("parley-%s-%s", call.Kind, call.ID), nil
}

// ReleaseRoom is a no-op: empty LiveKit rooms expire on their own.
func (e *Engine) ReleaseRoom(_ context.Context, _ *store.VoiceCall) error {
	return nil
}

// JoinInfo creates a room-scoped access token for a participant.
func (e *Engine) JoinInfo(_ context.Context, call *store.VoiceCall, userID, displayName string) (*callengine.JoinInfo, error) {
	if call.ExternalRoom == "" {
		return nil, fmt.Errorf("call %s has no media room", call.ID)
	}

	at := auth.NewAccessToken(e.apiKey, e.apiSecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     call.ExternalRoom,
	}
	at.SetVideoGrant(grant).
		SetIdentity(userID).
		SetName(displayName).
		SetValidFor(e.tokenTTL)

	token, err := at.ToJWT()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	return &callengine.JoinInfo{
		URL:      e.wsURL,
		Token:    token,
		RoomName: call.ExternalRoom,
		Identity: userID,
	}, nil
}
