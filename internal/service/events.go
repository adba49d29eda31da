package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/care-waitlist-api/internal/models"
	"github.com/noah-isme/care-waitlist-api/pkg/jobs"
)

// Job types processed by the lifecycle queue.
const (
	jobOfferCreated      = "offer.created"
	jobOfferResolved     = "offer.resolved"
	jobOfferExpiring     = "offer.expiring"
	jobEnrollmentCreated = "enrollment.created"
	jobPositionChanged   = "waitlist.position_changed"
)

type offerResolvedPayload struct {
	Offer    *models.Offer
	Response models.OfferResponse
}

type enrollmentPayload struct {
	Offer     *models.Offer
	BookingID string
}

type positionPayload struct {
	Entry       *models.WaitlistEntry
	OldPosition int
}

type vacancyAdvancer interface {
	AdvanceFromVacancy(ctx context.Context, offer *models.Offer) error
}

// LifecycleEvents decouples state transitions from their side effects.
// Transitions enqueue; workers notify and, on vacancies, trigger the
// advancer. A full queue or failed handler never affects the transition
// that already committed.
type LifecycleEvents struct {
	queue    *jobs.Queue
	notifier Notifier
	advancer vacancyAdvancer
	logger   *zap.Logger
}

// NewLifecycleEvents wires the queue. SetAdvancer must be called before
// Start; the offer and advance services form a cycle broken by two-phase
// construction.
func NewLifecycleEvents(notifier Notifier, logger *zap.Logger, cfg jobs.QueueConfig) *LifecycleEvents {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &LifecycleEvents{notifier: notifier, logger: logger}
	cfg.Logger = logger
	e.queue = jobs.NewQueue("offer-lifecycle", e.handle, cfg)
	return e
}

// SetAdvancer installs the vacancy advancer.
func (e *LifecycleEvents) SetAdvancer(a vacancyAdvancer) {
	e.advancer = a
}

// Start launches queue workers.
func (e *LifecycleEvents) Start(ctx context.Context) {
	e.queue.Start(ctx)
}

// Stop drains the workers.
func (e *LifecycleEvents) Stop() {
	e.queue.Stop()
}

// OfferCreated enqueues the created-offer notification.
func (e *LifecycleEvents) OfferCreated(offer *models.Offer) {
	e.enqueue(jobOfferCreated, offer)
}

// OfferResolved enqueues the resolution notification and, for vacancies,
// the advance pass.
func (e *LifecycleEvents) OfferResolved(offer *models.Offer, response models.OfferResponse) {
	e.enqueue(jobOfferResolved, offerResolvedPayload{Offer: offer, Response: response})
}

// ExpiryReminder enqueues the expiring-soon reminder.
func (e *LifecycleEvents) ExpiryReminder(offer *models.Offer) {
	e.enqueue(jobOfferExpiring, offer)
}

// EnrollmentCreated enqueues the enrollment notification.
func (e *LifecycleEvents) EnrollmentCreated(offer *models.Offer, bookingID string) {
	e.enqueue(jobEnrollmentCreated, enrollmentPayload{Offer: offer, BookingID: bookingID})
}

// PositionChanged enqueues a position-update notification.
func (e *LifecycleEvents) PositionChanged(entry *models.WaitlistEntry, oldPosition int) {
	e.enqueue(jobPositionChanged, positionPayload{Entry: entry, OldPosition: oldPosition})
}

func (e *LifecycleEvents) enqueue(jobType string, payload interface{}) {
	err := e.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobType,
		Payload: payload,
	})
	if err != nil {
		e.logger.Warn("failed to enqueue lifecycle job", zap.String("type", jobType), zap.Error(err))
	}
}

func (e *LifecycleEvents) handle(ctx context.Context, job jobs.Job) error {
	switch job.Type {
	case jobOfferCreated:
		offer, ok := job.Payload.(*models.Offer)
		if !ok {
			return fmt.Errorf("unexpected payload for %s", job.Type)
		}
		return e.notifier.NotifyOfferCreated(ctx, offer)

	case jobOfferResolved:
		payload, ok := job.Payload.(offerResolvedPayload)
		if !ok {
			return fmt.Errorf("unexpected payload for %s", job.Type)
		}
		if err := e.notifier.NotifyOfferResolved(ctx, payload.Offer, payload.Response); err != nil {
			e.logger.Warn("offer resolution notification failed", zap.String("offer_id", payload.Offer.ID), zap.Error(err))
		}
		// A decline or expiry frees a slot; hand it to the next candidate.
		if payload.Response != models.OfferAccepted && e.advancer != nil {
			return e.advancer.AdvanceFromVacancy(ctx, payload.Offer)
		}
		return nil

	case jobOfferExpiring:
		offer, ok := job.Payload.(*models.Offer)
		if !ok {
			return fmt.Errorf("unexpected payload for %s", job.Type)
		}
		return e.notifier.NotifyExpirationReminder(ctx, offer)

	case jobEnrollmentCreated:
		payload, ok := job.Payload.(enrollmentPayload)
		if !ok {
			return fmt.Errorf("unexpected payload for %s", job.Type)
		}
		return e.notifier.NotifyEnrollmentCreated(ctx, payload.Offer, payload.BookingID)

	case jobPositionChanged:
		payload, ok := job.Payload.(positionPayload)
		if !ok {
			return fmt.Errorf("unexpected payload for %s", job.Type)
		}
		return e.notifier.NotifyPositionChanged(ctx, payload.Entry, payload.OldPosition)

	default:
		e.logger.Warn("unknown lifecycle job type", zap.String("type", job.Type))
		return nil
	}
}
