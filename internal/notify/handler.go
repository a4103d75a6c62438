// Package notify consumes booking and event notices from the broker, writes
// them to the audit log and emails the attendees concerned.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/event-booking/internal/adapters/email"
	"github.com/robertarktes/event-booking/internal/domain"
	"github.com/robertarktes/event-booking/internal/observability"
)

// RoutingKeys are the bindings the notifier queue needs.
var RoutingKeys = []string{"booking.*", "event.*"}

// ErrMalformed marks messages that can never be processed and must not be
// requeued.
var ErrMalformed = errors.New("malformed message")

type Auditor interface {
	Record(ctx context.Context, id, action string, aggregateID, userID uuid.UUID, data map[string]any) error
}

type UserDirectory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

type Handler struct {
	audit  Auditor
	users  UserDirectory
	mailer email.Mailer
	logger observability.Logger
}

func NewHandler(audit Auditor, users UserDirectory, mailer email.Mailer, logger observability.Logger) *Handler {
	return &Handler{audit: audit, users: users, mailer: mailer, logger: logger}
}

// Run handles deliveries until ctx is done or the channel closes.
func (h *Handler) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			h.dispatch(ctx, d)
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, d amqp.Delivery) {
	log := h.logger.WithField("routing_key", d.RoutingKey).WithField("message_id", d.MessageId)
	err := h.Handle(ctx, d.RoutingKey, d.MessageId, d.Body)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			log.WithError(ackErr).Warn("ack failed")
		}
	case errors.Is(err, ErrMalformed):
		log.WithError(err).Warn("dropping malformed message")
		_ = d.Nack(false, false)
	default:
		log.WithError(err).Error("notification failed, requeueing")
		_ = d.Nack(false, !d.Redelivered)
	}
}

// Handle processes one message. Errors wrapping ErrMalformed are permanent.
func (h *Handler) Handle(ctx context.Context, routingKey, messageID string, body []byte) error {
	if messageID == "" {
		messageID = uuid.NewString()
	}
	switch routingKey {
	case domain.TopicBookingCreated, domain.TopicBookingCancelled:
		var n domain.BookingNotice
		if err := json.Unmarshal(body, &n); err != nil || n.BookingID == uuid.Nil {
			return malformed(routingKey, err)
		}
		return h.onBooking(ctx, routingKey, messageID, n)
	case domain.TopicEventCancelled:
		var n domain.EventCancelledNotice
		if err := json.Unmarshal(body, &n); err != nil || n.EventID == uuid.Nil {
			return malformed(routingKey, err)
		}
		return h.onEventCancelled(ctx, messageID, n)
	default:
		return errors.Mark(errors.Newf("unknown routing key %q", routingKey), ErrMalformed)
	}
}

func malformed(key string, cause error) error {
	if cause == nil {
		cause = errors.New("missing aggregate id")
	}
	return errors.Mark(errors.Wrapf(cause, "decode %s", key), ErrMalformed)
}

func (h *Handler) onBooking(ctx context.Context, key, messageID string, n domain.BookingNotice) error {
	err := h.audit.Record(ctx, messageID, key, n.BookingID, n.UserID, map[string]any{
		"event_id":        n.EventID.String(),
		"event_title":     n.EventTitle,
		"number_of_seats": n.NumberOfSeats,
		"status":          string(n.Status),
	})
	if err != nil {
		return err
	}

	subject := "Booking confirmed: " + n.EventTitle
	text := fmt.Sprintf("Your booking of %d seat(s) for %s on %s is confirmed.",
		n.NumberOfSeats, n.EventTitle, n.StartsAt.Format("Mon 2 Jan 2006 15:04 MST"))
	if key == domain.TopicBookingCancelled {
		subject = "Booking cancelled: " + n.EventTitle
		text = fmt.Sprintf("Your booking of %d seat(s) for %s has been cancelled.", n.NumberOfSeats, n.EventTitle)
	}
	return h.mail(ctx, n.UserID, subject, text)
}

func (h *Handler) onEventCancelled(ctx context.Context, messageID string, n domain.EventCancelledNotice) error {
	ids := make([]string, 0, len(n.Bookings))
	for _, b := range n.Bookings {
		ids = append(ids, b.BookingID.String())
	}
	err := h.audit.Record(ctx, messageID, domain.TopicEventCancelled, n.EventID, n.OrganizerID, map[string]any{
		"event_title": n.EventTitle,
		"bookings":    ids,
	})
	if err != nil {
		return err
	}

	var failed error
	for _, b := range n.Bookings {
		text := fmt.Sprintf("%s has been cancelled by the organizer. Your %d seat(s) were released.",
			n.EventTitle, b.NumberOfSeats)
		if err := h.mail(ctx, b.UserID, "Event cancelled: "+n.EventTitle, text); err != nil {
			failed = errors.CombineErrors(failed, err)
		}
	}
	return failed
}

func (h *Handler) mail(ctx context.Context, userID uuid.UUID, subject, text string) error {
	u, err := h.users.GetUser(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		h.logger.WithField("user_id", userID).Warn("notification for unknown user skipped")
		return nil
	}
	if err != nil {
		return err
	}
	return h.mailer.Send(ctx, email.Message{To: u.Email, Subject: subject, Text: text})
}
