package ports

import (
	"context"

	"feedstream/internal/domain"
)

// Player is one media element. Implementations must tolerate a new Load or
// Unload while a previous call is still pending; the last call wins.
type Player interface {
	Load(ctx context.Context, uri string, initial domain.PlaybackStatus) error
	Unload(ctx context.Context) error
	SetStatus(ctx context.Context, status domain.PlaybackStatus) error
	GetStatus(ctx context.Context) (domain.PlayerStatus, error)
}
