package calls

import (
	"context"
	"errors"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go"
	"github.com/mossy-p/telecare-signaling/config"
	"github.com/mossy-p/telecare-signaling/internal/models"
)

var ErrMediaDisabled = errors.New("media backend is not configured")

// Media is the external real-time media SDK. The relay only exchanges
// signaling; rooms and join tokens on the media side are managed here.
type Media interface {
	OpenRoom(ctx context.Context, room models.CallRoom) error
	CloseRoom(ctx context.Context, roomID string) error
	JoinToken(room models.CallRoom, identity string) (string, error)
	Endpoint() string
}

type noopMedia struct{}

func (noopMedia) OpenRoom(context.Context, models.CallRoom) error { return nil }
func (noopMedia) CloseRoom(context.Context, string) error         { return nil }
func (noopMedia) Endpoint() string                                { return "" }

func (noopMedia) JoinToken(models.CallRoom, string) (string, error) {
	return "", ErrMediaDisabled
}

// LiveKit manages rooms on a LiveKit server.
type LiveKit struct {
	rooms     *lksdk.RoomServiceClient
	endpoint  string
	apiKey    string
	apiSecret string
	tokenTTL  time.Duration
}

// NewMedia returns a LiveKit backend, or a no-op one when no server is configured.
func NewMedia(cfg config.CallingConfig) Media {
	if cfg.LiveKitURL == "" {
		return noopMedia{}
	}
	return &LiveKit{
		rooms:     lksdk.NewRoomServiceClient(cfg.LiveKitURL, cfg.APIKey, cfg.APISecret),
		endpoint:  cfg.LiveKitURL,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		tokenTTL:  cfg.TokenTTL,
	}
}

func (l *LiveKit) Endpoint() string {
	return l.endpoint
}

func (l *LiveKit) OpenRoom(ctx context.Context, room models.CallRoom) error {
	_, err := l.rooms.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:            room.ID,
		EmptyTimeout:    uint32((5 * time.Minute).Seconds()),
		MaxParticipants: 2,
	})
	return err
}

func (l *LiveKit) CloseRoom(ctx context.Context, roomID string) error {
	_, err := l.rooms.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: roomID})
	return err
}

func (l *LiveKit) JoinToken(room models.CallRoom, identity string) (string, error) {
	return issueToken(l.apiKey, l.apiSecret, l.tokenTTL, room, identity)
}

func issueToken(key, secret string, ttl time.Duration, room models.CallRoom, identity string) (string, error) {
	grant := &auth.VideoGrant{
		Room:     room.ID,
		RoomJoin: true,
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	tk := auth.NewAccessToken(key, secret)
	tk.AddGrant(grant).
		SetIdentity(identity).
		SetValidFor(ttl)
	return tk.ToJWT()
}
