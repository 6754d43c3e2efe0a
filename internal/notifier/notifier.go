package notifier

import (
	"context"
	"time"

	"auction-core/internal/models"
	"auction-core/utils"
)

// Notifier is the fire-and-forget capability used by the bidding core.
// Implementations must not block the caller on delivery.
type Notifier interface {
	Notify(n models.Notification)
}

// Publisher delivers a single notification to one backend
type Publisher interface {
	Publish(ctx context.Context, n models.Notification) error
}

// New builds a notification record with a fresh id
func New(userID, auctionID string, typ models.NotificationType, message string, at time.Time) models.Notification {
	return models.Notification{
		NotificationID: utils.GenerateID(),
		UserID:         userID,
		AuctionID:      auctionID,
		Type:           typ,
		Message:        message,
		CreatedAt:      at,
	}
}

// Discard drops every notification
type Discard struct{}

func (Discard) Notify(models.Notification) {}
