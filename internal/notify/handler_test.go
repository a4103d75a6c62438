package notify_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/event-booking/internal/adapters/email"
	"github.com/robertarktes/event-booking/internal/adapters/memory"
	"github.com/robertarktes/event-booking/internal/domain"
	"github.com/robertarktes/event-booking/internal/notify"
	"github.com/robertarktes/event-booking/internal/observability"
	"github.com/stretchr/testify/require"
)

type auditEntry struct {
	id     string
	action string
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (f *fakeAudit) Record(_ context.Context, id, action string, _, _ uuid.UUID, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, auditEntry{id: id, action: action})
	return nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []email.Message
}

func (f *fakeMailer) Send(_ context.Context, msg email.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

type fakeAck struct {
	mu      sync.Mutex
	acked   int
	nacked  int
	requeue []bool
}

func (a *fakeAck) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked++
	return nil
}

func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked++
	a.requeue = append(a.requeue, requeue)
	return nil
}

func (a *fakeAck) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func setup(t *testing.T) (*notify.Handler, *fakeAudit, *fakeMailer, *domain.User) {
	t.Helper()
	store := memory.New()
	u := &domain.User{ID: uuid.New(), Email: "fan@example.com", Role: domain.RoleAttendee, IsActive: true}
	require.NoError(t, store.CreateUser(context.Background(), u))
	audit := &fakeAudit{}
	mailer := &fakeMailer{}
	return notify.NewHandler(audit, store, mailer, observability.NewNopLogger()), audit, mailer, u
}

func TestHandleBookingCreated(t *testing.T) {
	h, audit, mailer, u := setup(t)
	body, err := json.Marshal(domain.BookingNotice{
		BookingID: uuid.New(), EventID: uuid.New(), UserID: u.ID,
		EventTitle: "Opera", StartsAt: time.Now(), NumberOfSeats: 2, Status: domain.BookingConfirmed,
	})
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), domain.TopicBookingCreated, "m-1", body))
	require.Equal(t, []auditEntry{{id: "m-1", action: domain.TopicBookingCreated}}, audit.entries)
	require.Len(t, mailer.sent, 1)
	require.Equal(t, "fan@example.com", mailer.sent[0].To)
	require.Contains(t, mailer.sent[0].Subject, "Opera")
}

func TestHandleEventCancelled(t *testing.T) {
	h, _, mailer, u := setup(t)
	notice := domain.EventCancelledNotice{EventID: uuid.New(), OrganizerID: uuid.New(), EventTitle: "Gala"}
	for i := 0; i < 3; i++ {
		notice.Bookings = append(notice.Bookings, domain.BookingNotice{BookingID: uuid.New(), UserID: u.ID, NumberOfSeats: 1})
	}
	notice.Bookings = append(notice.Bookings, domain.BookingNotice{BookingID: uuid.New(), UserID: uuid.New(), NumberOfSeats: 1})
	body, err := json.Marshal(notice)
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), domain.TopicEventCancelled, "m-2", body))
	require.Len(t, mailer.sent, 3)
}

func TestHandleMalformed(t *testing.T) {
	h, _, _, _ := setup(t)
	ctx := context.Background()
	tests := []struct {
		name string
		key  string
		body string
	}{
		{"truncated json", domain.TopicBookingCreated, "{"},
		{"missing ids", domain.TopicBookingCreated, "{}"},
		{"unknown routing key", "order.created", "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.Handle(ctx, tt.key, "m", []byte(tt.body))
			require.Error(t, err)
			require.True(t, errors.Is(err, notify.ErrMalformed), "got %v", err)
		})
	}
}

func TestRunAcks(t *testing.T) {
	h, _, _, u := setup(t)
	good, err := json.Marshal(domain.BookingNotice{BookingID: uuid.New(), UserID: u.ID, EventTitle: "Play"})
	require.NoError(t, err)

	ack := &fakeAck{}
	deliveries := make(chan amqp.Delivery, 2)
	deliveries <- amqp.Delivery{Acknowledger: ack, RoutingKey: domain.TopicBookingCancelled, MessageId: "a", Body: good}
	deliveries <- amqp.Delivery{Acknowledger: ack, RoutingKey: domain.TopicBookingCancelled, MessageId: "b", Body: []byte("not json")}
	close(deliveries)

	require.Error(t, h.Run(context.Background(), deliveries))
	require.Equal(t, 1, ack.acked)
	require.Equal(t, 1, ack.nacked)
	require.Equal(t, []bool{false}, ack.requeue)
}
