package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/care-waitlist-api/internal/models"
)

// Notifier delivers lifecycle notifications to parents and providers.
// Delivery is best-effort: a failed notification never blocks or rolls
// back the state transition that triggered it.
type Notifier interface {
	NotifyOfferCreated(ctx context.Context, offer *models.Offer) error
	NotifyOfferResolved(ctx context.Context, offer *models.Offer, response models.OfferResponse) error
	NotifyEnrollmentCreated(ctx context.Context, offer *models.Offer, bookingID string) error
	NotifyPositionChanged(ctx context.Context, entry *models.WaitlistEntry, oldPosition int) error
	NotifyExpirationReminder(ctx context.Context, offer *models.Offer) error
}

// LogNotifier writes notifications to the structured log. Stands in for a
// mail or push integration.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyOfferCreated(_ context.Context, offer *models.Offer) error {
	n.logger.Info("notification: offer created",
		zap.String("offer_id", offer.ID),
		zap.String("entry_id", offer.WaitlistEntryID),
		zap.Time("expires_at", offer.OfferExpiresAt))
	return nil
}

func (n *LogNotifier) NotifyOfferResolved(_ context.Context, offer *models.Offer, response models.OfferResponse) error {
	n.logger.Info("notification: offer resolved",
		zap.String("offer_id", offer.ID),
		zap.String("entry_id", offer.WaitlistEntryID),
		zap.String("response", string(response)))
	return nil
}

func (n *LogNotifier) NotifyEnrollmentCreated(_ context.Context, offer *models.Offer, bookingID string) error {
	n.logger.Info("notification: enrollment created",
		zap.String("offer_id", offer.ID),
		zap.String("booking_id", bookingID))
	return nil
}

func (n *LogNotifier) NotifyExpirationReminder(_ context.Context, offer *models.Offer) error {
	n.logger.Info("notification: offer expiring soon",
		zap.String("offer_id", offer.ID),
		zap.String("entry_id", offer.WaitlistEntryID),
		zap.Time("expires_at", offer.OfferExpiresAt))
	return nil
}

func (n *LogNotifier) NotifyPositionChanged(_ context.Context, entry *models.WaitlistEntry, oldPosition int) error {
	n.logger.Info("notification: waitlist position changed",
		zap.String("entry_id", entry.ID),
		zap.Int("old_position", oldPosition),
		zap.Int("new_position", entry.Position))
	return nil
}
