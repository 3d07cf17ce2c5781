package callengine

import (
	"context"

	"github.com/vovakirdan/parley/internal/store"
)

// JoinInfo contains information needed to join a call's media room.
type JoinInfo struct {
	URL      string `json:"url"`      // media server WebSocket URL
	Token    string `json:"token"`    // access token for the room
	RoomName string `json:"roomName"` // media room name
	Identity string `json:"identity"` // participant identity in the room
}

// Engine abstracts the media backend for voice calls. Signaling between
// peers is relayed by the server whether or not an engine is configured.
type Engine interface {
	// AllocateRoom reserves a media room for the call and returns its name.
	AllocateRoom(ctx context.Context, call *store.VoiceCall) (string, error)

	// ReleaseRoom tears down the media room of a finished call.
	ReleaseRoom(ctx context.Context, call *store.VoiceCall) error

	// JoinInfo creates join credentials for a participant.
	JoinInfo(ctx context.Context, call *store.VoiceCall, userID, displayName string) (*JoinInfo, error)
}
