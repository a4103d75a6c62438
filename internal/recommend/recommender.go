// Package recommend ranks upcoming events by keyword overlap with a user's
// interests and booking history.
package recommend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/event-booking/internal/domain"
	"github.com/robertarktes/event-booking/internal/observability"
)

const DefaultLimit = 5

// Cache stores ranked results for a short time.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

type Recommendation struct {
	Event domain.Event `json:"event"`
	Score float64      `json:"score"`
}

type Recommender struct {
	store domain.Store
	cache Cache
	ttl   time.Duration
	log   observability.Logger
	now   func() time.Time
}

// New returns a Recommender. cache may be nil.
func New(store domain.Store, cache Cache, ttl time.Duration, log observability.Logger) *Recommender {
	return &Recommender{store: store, cache: cache, ttl: ttl, log: log, now: time.Now}
}

func (r *Recommender) WithClock(now func() time.Time) *Recommender {
	r.now = now
	return r
}

// Tokenize lowercases text and keeps whitespace-separated words longer than
// three characters.
func Tokenize(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(text) {
		if len([]rune(w)) > 3 {
			set[strings.ToLower(w)] = struct{}{}
		}
	}
	return set
}

func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

func eventKeywords(e domain.Event) map[string]struct{} {
	set := Tokenize(e.Title)
	for k := range Tokenize(e.Description) {
		set[k] = struct{}{}
	}
	set[strings.ToLower(string(e.Category))] = struct{}{}
	return set
}

// Recommend returns up to limit upcoming PUBLISHED events the user has not
// booked, best match first. Unknown users get an empty list.
func (r *Recommender) Recommend(ctx context.Context, userID uuid.UUID, limit int) ([]Recommendation, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	key := fmt.Sprintf("reco:%s:%d", userID, limit)
	if r.cache != nil {
		var cached []Recommendation
		hit, err := r.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			r.log.WithError(err).Warn("recommendation cache read failed")
		} else if hit {
			return cached, nil
		}
	}

	recs, err := r.rank(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.SetJSON(ctx, key, recs, r.ttl); err != nil {
			r.log.WithError(err).Warn("recommendation cache write failed")
		}
	}
	return recs, nil
}

func (r *Recommender) rank(ctx context.Context, userID uuid.UUID, limit int) ([]Recommendation, error) {
	user, err := r.store.GetUser(ctx, userID)
	if domain.Kind(err) == "not_found" {
		return []Recommendation{}, nil
	}
	if err != nil {
		return nil, err
	}

	profile := make(map[string]struct{})
	for _, interest := range user.Interests {
		if interest = strings.ToLower(strings.TrimSpace(interest)); interest != "" {
			profile[interest] = struct{}{}
		}
	}

	booked, err := r.store.BookedEvents(ctx, userID)
	if err != nil {
		return nil, err
	}
	exclude := make([]uuid.UUID, 0, len(booked))
	for _, e := range booked {
		exclude = append(exclude, e.ID)
		for k := range eventKeywords(e) {
			profile[k] = struct{}{}
		}
	}

	candidates, _, err := r.store.ListEvents(ctx, domain.EventFilter{
		Statuses:    []domain.EventStatus{domain.EventPublished},
		StartsAfter: r.now().UTC(),
		ExcludeIDs:  exclude,
		SortBy:      domain.SortByDate,
	})
	if err != nil {
		return nil, err
	}

	recs := make([]Recommendation, 0, len(candidates))
	for _, e := range candidates {
		recs = append(recs, Recommendation{Event: e, Score: Jaccard(profile, eventKeywords(e))})
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}
