package crdb_test

import (
	"context"
	"flag"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/event-booking/internal/adapters/crdb"
	"github.com/robertarktes/event-booking/internal/booking"
	"github.com/robertarktes/event-booking/internal/domain"
	"github.com/robertarktes/event-booking/internal/lifecycle"
	"github.com/robertarktes/event-booking/internal/observability"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"
)

var (
	setupOnce sync.Once
	repo      *crdb.Repository
	setupErr  error
	teardown  = func() {}
)

func TestMain(m *testing.M) {
	flag.Parse()
	code := m.Run()
	teardown()
	os.Exit(code)
}

func startCRDB(ctx context.Context) (*crdb.Repository, func(), error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		return nil, nil, err
	}
	stop := func() { _ = container.Terminate(context.Background()) }

	host, err := container.Host(ctx)
	if err != nil {
		stop()
		return nil, nil, err
	}
	port, err := container.MappedPort(ctx, "26257")
	if err != nil {
		stop()
		return nil, nil, err
	}
	pool, err := pgxpool.New(ctx, "postgresql://root@"+host+":"+port.Port()+"/defaultdb?sslmode=disable")
	if err != nil {
		stop()
		return nil, nil, err
	}
	if _, err := pool.Exec(ctx, "SET CLUSTER SETTING sql.txn.read_committed_isolation.enabled = true"); err != nil {
		pool.Close()
		stop()
		return nil, nil, err
	}
	r := crdb.NewRepository(pool, 10*time.Second)
	if err := r.Migrate(ctx); err != nil {
		pool.Close()
		stop()
		return nil, nil, err
	}
	return r, func() { pool.Close(); stop() }, nil
}

func testRepo(t *testing.T) *crdb.Repository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	setupOnce.Do(func() {
		var stop func()
		repo, stop, setupErr = startCRDB(context.Background())
		if setupErr == nil {
			teardown = stop
		}
	})
	if setupErr != nil {
		t.Fatal(setupErr)
	}
	return repo
}

func newUser(t *testing.T, r *crdb.Repository, role domain.Role, interests ...string) *domain.User {
	t.Helper()
	u := &domain.User{
		ID:           uuid.New(),
		Email:        uuid.NewString() + "@Example.com",
		FullName:     "Test User",
		PasswordHash: "hash",
		Role:         role,
		Interests:    interests,
		IsActive:     true,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, r.CreateUser(context.Background(), u))
	return u
}

func newEvent(t *testing.T, r *crdb.Repository, organizer uuid.UUID, seats int, startsAt time.Time, status domain.EventStatus) *domain.Event {
	t.Helper()
	e, err := domain.NewEvent(organizer, domain.EventInput{
		Title:      "Event " + uuid.NewString()[:8],
		StartsAt:   startsAt,
		TotalSeats: seats,
		PriceCents: 1000,
		Category:   domain.CategoryConcert,
		Status:     status,
	}, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, r.WithTx(context.Background(), func(tx domain.Tx) error {
		return tx.InsertEvent(context.Background(), e)
	}))
	return e
}

func TestMigrateIsIdempotent(t *testing.T) {
	r := testRepo(t)
	require.NoError(t, r.Migrate(context.Background()))
	require.NoError(t, r.Ping(context.Background()))
}

func TestUsers(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	u := newUser(t, r, domain.RoleAttendee)

	got, err := r.GetUserByEmail(ctx, u.Email)
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.Empty(t, got.Interests)

	dup := *u
	dup.ID = uuid.New()
	err = r.CreateUser(ctx, &dup)
	require.Equal(t, "conflict", domain.Kind(err))

	require.NoError(t, r.UpdateUserInterests(ctx, u.ID, []string{"jazz", "go"}))
	got, err = r.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"jazz", "go"}, got.Interests)

	_, err = r.GetUser(ctx, uuid.New())
	require.Equal(t, "not_found", domain.Kind(err))
}

func TestBookingLifecycle(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	log := observability.NewNopLogger()
	bookings := booking.NewService(r, log)

	org := newUser(t, r, domain.RoleOrganizer)
	user := newUser(t, r, domain.RoleAttendee)
	event := newEvent(t, r, org.ID, 10, time.Now().Add(24*time.Hour), domain.EventPublished)

	b, err := bookings.CreateBooking(ctx, event.ID, user.ID, 3)
	require.NoError(t, err)
	got, err := r.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	require.Equal(t, 7, got.AvailableSeats)

	_, err = bookings.CreateBooking(ctx, event.ID, user.ID, 8)
	require.Equal(t, "capacity_exceeded", domain.Kind(err))

	_, err = bookings.CancelBookingByUser(ctx, b.ID, user.ID)
	require.NoError(t, err)
	got, err = r.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	require.Equal(t, 10, got.AvailableSeats)

	_, err = bookings.CancelBookingByUser(ctx, b.ID, user.ID)
	require.Equal(t, "invalid_state", domain.Kind(err))

	list, err := r.ListBookingsByUser(ctx, user.ID, domain.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, domain.BookingCancelledByUser, list[0].Status)
}

func TestConcurrentBookingsNeverOversell(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	bookings := booking.NewService(r, observability.NewNopLogger())

	org := newUser(t, r, domain.RoleOrganizer)
	event := newEvent(t, r, org.ID, 25, time.Now().Add(24*time.Hour), domain.EventPublished)
	users := make([]*domain.User, 20)
	for i := range users {
		users[i] = newUser(t, r, domain.RoleAttendee)
	}

	var ok, full atomic.Int64
	var g errgroup.Group
	for _, u := range users {
		g.Go(func() error {
			_, err := bookings.CreateBooking(ctx, event.ID, u.ID, 2)
			switch {
			case err == nil:
				ok.Add(1)
			case domain.Kind(err) == "capacity_exceeded":
				full.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, int64(25/2), ok.Load())
	require.Equal(t, int64(len(users)-25/2), full.Load())

	got, err := r.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.AvailableSeats)

	stats, err := r.OrganizerStats(ctx, org.ID)
	require.NoError(t, err)
	require.Equal(t, 24, stats.TicketsSold)
}

func TestCancelEventCascades(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	log := observability.NewNopLogger()
	bookings := booking.NewService(r, log)
	events := lifecycle.NewService(r, nil, log)

	org := newUser(t, r, domain.RoleOrganizer)
	event := newEvent(t, r, org.ID, 10, time.Now().Add(24*time.Hour), domain.EventPublished)
	for i := 0; i < 3; i++ {
		_, err := bookings.CreateBooking(ctx, event.ID, newUser(t, r, domain.RoleAttendee).ID, 2)
		require.NoError(t, err)
	}

	cancelled, err := events.CancelEvent(ctx, org.ID, event.ID)
	require.NoError(t, err)
	require.Equal(t, domain.EventCancelled, cancelled.Status)
	require.Equal(t, 10, cancelled.AvailableSeats)

	_, err = events.CancelEvent(ctx, org.ID, event.ID)
	require.Equal(t, "invalid_state", domain.Kind(err))

	var relayed []domain.OutboxMessage
	for {
		n, err := r.PublishPending(ctx, 100, func(m domain.OutboxMessage) error {
			relayed = append(relayed, m)
			return nil
		})
		require.NoError(t, err)
		if n == 0 {
			break
		}
	}
	var cancelNotices int
	for _, m := range relayed {
		if m.EventType == domain.TopicEventCancelled && m.AggregateID == event.ID {
			cancelNotices++
		}
	}
	require.Equal(t, 1, cancelNotices)
}

func TestSweepEndedEvents(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	org := newUser(t, r, domain.RoleOrganizer)

	past := newEvent(t, r, org.ID, 5, time.Now().Add(-time.Hour), domain.EventPublished)
	draft := newEvent(t, r, org.ID, 5, time.Now().Add(-time.Hour), domain.EventDraft)
	future := newEvent(t, r, org.ID, 5, time.Now().Add(time.Hour), domain.EventPublished)

	n, err := r.SweepEndedEvents(ctx, time.Now())
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, int64(1))

	for id, want := range map[uuid.UUID]domain.EventStatus{
		past.ID:   domain.EventEnded,
		draft.ID:  domain.EventDraft,
		future.ID: domain.EventPublished,
	} {
		got, err := r.GetEvent(ctx, id)
		require.NoError(t, err)
		require.Equal(t, want, got.Status)
	}

	n, err = r.SweepEndedEvents(ctx, time.Now())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestListEventsFilters(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	org := newUser(t, r, domain.RoleOrganizer)
	base := time.Now().Add(48 * time.Hour).UTC()

	first := newEvent(t, r, org.ID, 5, base, domain.EventPublished)
	second := newEvent(t, r, org.ID, 5, base.Add(time.Hour), domain.EventPublished)
	newEvent(t, r, org.ID, 5, base.Add(2*time.Hour), domain.EventDraft)

	events, total, err := r.ListEvents(ctx, domain.EventFilter{
		OrganizerID: org.ID,
		Statuses:    []domain.EventStatus{domain.EventPublished},
		SortBy:      domain.SortByDate,
		SortDesc:    true,
	})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Equal(t, second.ID, events[0].ID)
	require.Equal(t, first.ID, events[1].ID)

	events, total, err = r.ListEvents(ctx, domain.EventFilter{
		OrganizerID: org.ID,
		Query:       first.Title,
		ExcludeIDs:  []uuid.UUID{second.ID},
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, first.ID, events[0].ID)

	events, total, err = r.ListEvents(ctx, domain.EventFilter{OrganizerID: org.ID, Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, events, 1)

	// Titles are "Event <hex>"; wildcards in the query must match literally.
	for _, q := range []string{"Event_", "%", "Ev%nt"} {
		_, total, err = r.ListEvents(ctx, domain.EventFilter{OrganizerID: org.ID, Query: q})
		require.NoError(t, err)
		require.Zero(t, total, q)
	}
}

func TestPublishPendingKeepsFailures(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	// Drain what earlier tests left behind.
	for {
		n, err := r.PublishPending(ctx, 100, func(domain.OutboxMessage) error { return nil })
		require.NoError(t, err)
		if n == 0 {
			break
		}
	}

	var msgs []domain.OutboxMessage
	for i := 0; i < 3; i++ {
		m, err := domain.NewOutboxMessage(domain.TopicBookingCreated, "booking", uuid.New(), map[string]int{"n": i}, time.Now().UTC())
		require.NoError(t, err)
		msgs = append(msgs, m)
	}
	require.NoError(t, r.WithTx(ctx, func(tx domain.Tx) error {
		for _, m := range msgs {
			if err := tx.EnqueueOutbox(ctx, m); err != nil {
				return err
			}
		}
		return nil
	}))

	failing := msgs[1].ID
	n, err := r.PublishPending(ctx, 10, func(m domain.OutboxMessage) error {
		if m.ID == failing {
			return context.DeadlineExceeded
		}
		return nil
	})
	require.Error(t, err)
	require.Equal(t, 2, n)

	var retried []uuid.UUID
	n, err = r.PublishPending(ctx, 10, func(m domain.OutboxMessage) error {
		retried = append(retried, m.ID)
		require.JSONEq(t, `{"n":1}`, string(m.Payload))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []uuid.UUID{failing}, retried)
}
