package port

import "github.com/Wyydra/yacall/internal/core/domain"

// Client is one connected signaling socket on the server side.
type Client interface {
	ID() string
	UserID() domain.UserID
	Send(e domain.Event) error
	Close() error
}
