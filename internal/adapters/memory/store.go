// Package memory is a transactional in-process implementation of
// domain.Store. Row locks block like SELECT ... FOR UPDATE and writes are
// staged until commit, so it honours the same isolation contract as the
// CockroachDB repository.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-booking/internal/domain"
)

type outboxRow struct {
	msg     domain.OutboxMessage
	claimed bool
}

type Store struct {
	mu        sync.Mutex
	events    map[uuid.UUID]domain.Event
	bookings  map[uuid.UUID]domain.Booking
	users     map[uuid.UUID]domain.User
	outbox    []*outboxRow
	locks     map[uuid.UUID]chan struct{}
	commitErr error
}

var (
	_ domain.Store       = (*Store)(nil)
	_ domain.OutboxStore = (*Store)(nil)
)

func New() *Store {
	return &Store{
		events:   make(map[uuid.UUID]domain.Event),
		bookings: make(map[uuid.UUID]domain.Booking),
		users:    make(map[uuid.UUID]domain.User),
		locks:    make(map[uuid.UUID]chan struct{}),
	}
}

// FailNextCommit makes the next commit fail with err after fn has run, as a
// lost connection would.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	s.commitErr = err
	s.mu.Unlock()
}

func (s *Store) rowLock(id uuid.UUID) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	return ch
}

func (s *Store) acquire(ctx context.Context, id uuid.UUID) error {
	select {
	case s.rowLock(id) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return domain.TransactionFailure(ctx.Err(), "wait for row lock")
	}
}

func (s *Store) release(id uuid.UUID) {
	<-s.rowLock(id)
}

type tx struct {
	s        *Store
	held     map[uuid.UUID]bool
	events   map[uuid.UUID]*domain.Event
	deleted  map[uuid.UUID]bool
	bookings map[uuid.UUID]*domain.Booking
	outbox   []domain.OutboxMessage
}

func (s *Store) WithTx(ctx context.Context, fn func(domain.Tx) error) error {
	t := &tx{
		s:        s,
		held:     make(map[uuid.UUID]bool),
		events:   make(map[uuid.UUID]*domain.Event),
		deleted:  make(map[uuid.UUID]bool),
		bookings: make(map[uuid.UUID]*domain.Booking),
	}
	defer t.unlockAll()

	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return domain.TransactionFailure(err, "commit transaction")
	}
	return t.commit()
}

func (t *tx) lock(ctx context.Context, id uuid.UUID) error {
	if t.held[id] {
		return nil
	}
	if err := t.s.acquire(ctx, id); err != nil {
		return err
	}
	t.held[id] = true
	return nil
}

func (t *tx) unlockAll() {
	for id := range t.held {
		t.s.release(id)
	}
	t.held = nil
}

func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.commitErr != nil {
		err := s.commitErr
		s.commitErr = nil
		return domain.TransactionFailure(err, "commit transaction")
	}
	for id := range t.deleted {
		delete(s.events, id)
	}
	for id, e := range t.events {
		s.events[id] = *e
	}
	for id, b := range t.bookings {
		s.bookings[id] = *b
	}
	for _, msg := range t.outbox {
		s.outbox = append(s.outbox, &outboxRow{msg: msg})
	}
	return nil
}

func (t *tx) readEvent(id uuid.UUID) (domain.Event, bool) {
	if t.deleted[id] {
		return domain.Event{}, false
	}
	if e, ok := t.events[id]; ok {
		return *e, true
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	e, ok := t.s.events[id]
	return e, ok
}

func (t *tx) readBooking(id uuid.UUID) (domain.Booking, bool) {
	if b, ok := t.bookings[id]; ok {
		return *b, true
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	b, ok := t.s.bookings[id]
	return b, ok
}

func (t *tx) LockEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	if err := t.lock(ctx, id); err != nil {
		return nil, err
	}
	e, ok := t.readEvent(id)
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "event %s", id)
	}
	return &e, nil
}

func (t *tx) InsertEvent(ctx context.Context, e *domain.Event) error {
	if _, ok := t.readEvent(e.ID); ok {
		return errors.Wrapf(domain.ErrConflict, "event %s exists", e.ID)
	}
	if err := t.lock(ctx, e.ID); err != nil {
		return err
	}
	cp := *e
	t.events[e.ID] = &cp
	delete(t.deleted, e.ID)
	return nil
}

func (t *tx) UpdateEvent(ctx context.Context, e *domain.Event) error {
	if err := t.lock(ctx, e.ID); err != nil {
		return err
	}
	if _, ok := t.readEvent(e.ID); !ok {
		return errors.Wrapf(domain.ErrNotFound, "event %s", e.ID)
	}
	if e.AvailableSeats < 0 || e.AvailableSeats > e.TotalSeats {
		return errors.Wrapf(domain.ErrInvalidState, "event %s seat counts out of range", e.ID)
	}
	cp := *e
	t.events[e.ID] = &cp
	return nil
}

func (t *tx) DeleteEvent(ctx context.Context, id uuid.UUID) error {
	if err := t.lock(ctx, id); err != nil {
		return err
	}
	if _, ok := t.readEvent(id); !ok {
		return errors.Wrapf(domain.ErrNotFound, "event %s", id)
	}
	delete(t.events, id)
	t.deleted[id] = true
	return nil
}

func (t *tx) LockBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	if err := t.lock(ctx, id); err != nil {
		return nil, err
	}
	b, ok := t.readBooking(id)
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "booking %s", id)
	}
	return &b, nil
}

func (t *tx) InsertBooking(ctx context.Context, b *domain.Booking) error {
	if _, ok := t.readEvent(b.EventID); !ok {
		return errors.Wrapf(domain.ErrNotFound, "event %s", b.EventID)
	}
	if err := t.lock(ctx, b.ID); err != nil {
		return err
	}
	cp := *b
	t.bookings[b.ID] = &cp
	return nil
}

func (t *tx) UpdateBookingStatus(ctx context.Context, b *domain.Booking) error {
	if err := t.lock(ctx, b.ID); err != nil {
		return err
	}
	cur, ok := t.readBooking(b.ID)
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "booking %s", b.ID)
	}
	cur.Status = b.Status
	cur.UpdatedAt = b.UpdatedAt
	t.bookings[b.ID] = &cur
	return nil
}

func (t *tx) CancelEventBookings(ctx context.Context, eventID uuid.UUID, now time.Time) ([]domain.Booking, error) {
	ids := make(map[uuid.UUID]bool)
	t.s.mu.Lock()
	for id, b := range t.s.bookings {
		if b.EventID == eventID {
			ids[id] = true
		}
	}
	t.s.mu.Unlock()
	for id, b := range t.bookings {
		if b.EventID == eventID {
			ids[id] = true
		}
	}

	var flipped []domain.Booking
	for _, id := range sortedIDs(ids) {
		if err := t.lock(ctx, id); err != nil {
			return nil, err
		}
		b, _ := t.readBooking(id)
		if b.Status != domain.BookingConfirmed {
			continue
		}
		b.Status = domain.BookingCancelledByOrganizer
		b.UpdatedAt = now
		cp := b
		t.bookings[id] = &cp
		flipped = append(flipped, b)
	}
	return flipped, nil
}

func (t *tx) EnqueueOutbox(_ context.Context, msg domain.OutboxMessage) error {
	msg.Payload = slices.Clone(msg.Payload)
	t.outbox = append(t.outbox, msg)
	return nil
}

func sortedIDs(set map[uuid.UUID]bool) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func (s *Store) GetEvent(_ context.Context, id uuid.UUID) (*domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "event %s", id)
	}
	return &e, nil
}

func matchEvent(e domain.Event, f domain.EventFilter) bool {
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		if !strings.Contains(strings.ToLower(e.Title), q) &&
			!strings.Contains(strings.ToLower(e.Description), q) &&
			!strings.Contains(strings.ToLower(e.Location), q) {
			return false
		}
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, e.Status) {
		return false
	}
	if f.OrganizerID != uuid.Nil && e.OrganizerID != f.OrganizerID {
		return false
	}
	if !f.StartsAfter.IsZero() && !e.StartsAt.After(f.StartsAfter) {
		return false
	}
	if !f.StartsBefore.IsZero() && !e.StartsAt.Before(f.StartsBefore) {
		return false
	}
	return !slices.Contains(f.ExcludeIDs, e.ID)
}

func lessEvent(a, b domain.Event, field domain.SortField) int {
	switch field {
	case domain.SortByPrice:
		return cmpInt64(a.PriceCents, b.PriceCents)
	case domain.SortBySold:
		return cmpInt64(int64(a.SoldSeats()), int64(b.SoldSeats()))
	case domain.SortByStatus:
		return strings.Compare(string(a.Status), string(b.Status))
	default:
		return a.StartsAt.Compare(b.StartsAt)
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (s *Store) ListEvents(_ context.Context, f domain.EventFilter) ([]domain.Event, int, error) {
	s.mu.Lock()
	var out []domain.Event
	for _, e := range s.events {
		if matchEvent(e, f) {
			out = append(out, e)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		c := lessEvent(out[i], out[j], f.SortBy)
		if f.SortDesc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return paginate(out, f.Offset, f.Limit), len(out), nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// SweepEndedEvents takes each candidate's row lock in turn and re-checks the
// predicate under it, so a sweep never overwrites a concurrent transition.
func (s *Store) SweepEndedEvents(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	var candidates []uuid.UUID
	for id, e := range s.events {
		if e.Status == domain.EventPublished && e.HasStarted(now) {
			candidates = append(candidates, id)
		}
	}
	s.mu.Unlock()

	var n int64
	for _, id := range candidates {
		if err := s.acquire(ctx, id); err != nil {
			return n, err
		}
		s.mu.Lock()
		e, ok := s.events[id]
		if ok && e.Status == domain.EventPublished && e.HasStarted(now) {
			e.Status = domain.EventEnded
			e.UpdatedAt = now
			s.events[id] = e
			n++
		}
		s.mu.Unlock()
		s.release(id)
	}
	return n, nil
}

func (s *Store) OrganizerStats(_ context.Context, organizerID uuid.UUID) (domain.OrganizerStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st domain.OrganizerStats
	for _, e := range s.events {
		if e.OrganizerID != organizerID {
			continue
		}
		st.TotalEvents++
		st.TicketsSold += e.SoldSeats()
		st.RevenueCents += int64(e.SoldSeats()) * e.PriceCents
		if e.Status == domain.EventPublished {
			st.ActiveEvents++
		}
	}
	return st, nil
}

func (s *Store) GetBooking(_ context.Context, id uuid.UUID) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "booking %s", id)
	}
	return &b, nil
}

func (s *Store) ListBookingsByUser(_ context.Context, userID uuid.UUID, p domain.Page) ([]domain.Booking, error) {
	s.mu.Lock()
	var out []domain.Booking
	for _, b := range s.bookings {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return paginate(out, p.Offset, p.Limit), nil
}

func (s *Store) BookedEvents(_ context.Context, userID uuid.UUID) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	var out []domain.Event
	for _, b := range s.bookings {
		if b.UserID != userID || seen[b.EventID] {
			continue
		}
		seen[b.EventID] = true
		if e, ok := s.events[b.EventID]; ok {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (s *Store) UserStats(_ context.Context, userID uuid.UUID, now time.Time) (domain.UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st domain.UserStats
	for _, b := range s.bookings {
		if b.UserID != userID {
			continue
		}
		st.TotalBookings++
		if e, ok := s.events[b.EventID]; ok && b.Status == domain.BookingConfirmed && e.StartsAt.After(now) {
			st.UpcomingBookings++
		}
	}
	return st, nil
}

func (s *Store) CreateUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(u.Email)
	for _, existing := range s.users {
		if existing.Email == email {
			return errors.Wrapf(domain.ErrConflict, "email %s already registered", email)
		}
	}
	cp := *u
	cp.Email = email
	cp.Interests = slices.Clone(u.Interests)
	s.users[u.ID] = cp
	return nil
}

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "user %s", id)
	}
	u.Interests = slices.Clone(u.Interests)
	return &u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(email)
	for _, u := range s.users {
		if u.Email == email {
			u.Interests = slices.Clone(u.Interests)
			return &u, nil
		}
	}
	return nil, errors.Wrap(domain.ErrNotFound, "user by email")
}

func (s *Store) UpdateUserInterests(_ context.Context, id uuid.UUID, interests []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "user %s", id)
	}
	u.Interests = slices.Clone(interests)
	s.users[id] = u
	return nil
}

// PublishPending claims unclaimed messages in insertion order. Messages whose
// publish fails are released for the next call.
func (s *Store) PublishPending(_ context.Context, limit int, publish func(domain.OutboxMessage) error) (int, error) {
	s.mu.Lock()
	var batch []*outboxRow
	for _, row := range s.outbox {
		if limit > 0 && len(batch) >= limit {
			break
		}
		if row.claimed || row.msg.PublishedAt != nil {
			continue
		}
		row.claimed = true
		batch = append(batch, row)
	}
	s.mu.Unlock()

	var (
		published int
		failed    error
	)
	for _, row := range batch {
		err := publish(row.msg)
		s.mu.Lock()
		row.claimed = false
		if err == nil {
			at := time.Now().UTC()
			row.msg.PublishedAt = &at
			published++
		}
		s.mu.Unlock()
		if err != nil {
			failed = errors.CombineErrors(failed, errors.Wrapf(err, "publish %s", row.msg.DedupeKey))
		}
	}
	return published, failed
}

// Outbox returns a snapshot of every committed outbox message.
func (s *Store) Outbox() []domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.OutboxMessage, len(s.outbox))
	for i, row := range s.outbox {
		out[i] = row.msg
	}
	return out
}
