package http

import (
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/event-booking/internal/domain"
	"github.com/robertarktes/event-booking/internal/lifecycle"
)

const maxMultipartMemory = 8 << 20

// eventFilterFrom reads the browse query: q, category, status (comma
// separated), from, to (RFC 3339), sort (date|price|sold|status), order
// (asc|desc), offset and limit.
func eventFilterFrom(r *http.Request) (domain.EventFilter, error) {
	q := r.URL.Query()
	page, err := pageFrom(r)
	if err != nil {
		return domain.EventFilter{}, err
	}
	f := domain.EventFilter{
		Query:  strings.TrimSpace(q.Get("q")),
		Offset: page.Offset,
		Limit:  page.Limit,
	}
	if raw := q.Get("category"); raw != "" {
		if f.Category, err = domain.ParseCategory(raw); err != nil {
			return f, err
		}
	}
	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := domain.ParseEventStatus(part)
			if err != nil {
				return f, err
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	for name, dst := range map[string]*time.Time{"from": &f.StartsAfter, "to": &f.StartsBefore} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, errors.Wrapf(domain.ErrInvalidInput, "%s must be an RFC 3339 timestamp", name)
		}
		*dst = t
	}
	switch sort := domain.SortField(strings.ToLower(q.Get("sort"))); sort {
	case "":
		f.SortBy = domain.SortByDate
	case domain.SortByDate, domain.SortByPrice, domain.SortBySold, domain.SortByStatus:
		f.SortBy = sort
	default:
		return f, errors.Wrapf(domain.ErrInvalidInput, "unknown sort field %q", sort)
	}
	switch strings.ToLower(q.Get("order")) {
	case "", "asc":
	case "desc":
		f.SortDesc = true
	default:
		return f, errors.Wrap(domain.ErrInvalidInput, "order must be asc or desc")
	}
	return f, nil
}

func viewerID(r *http.Request) uuid.UUID {
	if id, ok := IdentityFrom(r.Context()); ok {
		return id.UserID
	}
	return uuid.Nil
}

func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	f, err := eventFilterFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	events, total, err := h.events.ListEvents(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listBody[domain.Event]{Items: events, Total: total, Offset: f.Offset, Limit: f.Limit})
}

func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	event, err := h.events.GetEvent(r.Context(), viewerID(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

type createEventRequest struct {
	domain.EventInput
	ImageURL string `json:"image_url"`
}

// CreateEvent accepts either a JSON body or a multipart form whose fields
// mirror the JSON ones plus an optional "image" file part.
func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	var (
		in  domain.EventInput
		img *lifecycle.Image
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxImageBytes+maxBodyBytes)
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			badRequest(w, r, "invalid multipart form: %v", err)
			return
		}
		var err error
		if in, err = eventInputFromForm(r); err != nil {
			writeError(w, r, err)
			return
		}
		if file, header, err := r.FormFile("image"); err == nil {
			defer file.Close()
			img = &lifecycle.Image{Upload: file, Filename: header.Filename}
		} else if u := r.FormValue("image_url"); u != "" {
			img = &lifecycle.Image{URL: u}
		}
	} else {
		var req createEventRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		in = req.EventInput
		if req.ImageURL != "" {
			img = &lifecycle.Image{URL: req.ImageURL}
		}
	}

	event, err := h.events.CreateEvent(r.Context(), id.UserID, in, img)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/events/"+event.ID.String())
	writeJSON(w, http.StatusCreated, event)
}

func eventInputFromForm(r *http.Request) (domain.EventInput, error) {
	in := domain.EventInput{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Location:    r.FormValue("location"),
		Category:    domain.Category(r.FormValue("category")),
		Status:      domain.EventStatus(strings.ToUpper(r.FormValue("status"))),
	}
	if raw := r.FormValue("starts_at"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return in, errors.Wrap(domain.ErrInvalidInput, "starts_at must be an RFC 3339 timestamp")
		}
		in.StartsAt = t
	}
	if raw := r.FormValue("total_seats"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return in, errors.Wrap(domain.ErrInvalidInput, "total_seats must be an integer")
		}
		in.TotalSeats = n
	}
	if raw := r.FormValue("price_cents"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return in, errors.Wrap(domain.ErrInvalidInput, "price_cents must be an integer")
		}
		in.PriceCents = n
	}
	return in, nil
}

func (h *Handlers) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	eventID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var patch domain.EventPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	event, err := h.events.UpdateEvent(r.Context(), id.UserID, eventID, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (h *Handlers) CancelEvent(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	eventID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	event, err := h.events.CancelEvent(r.Context(), id.UserID, eventID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (h *Handlers) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	eventID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.events.DeleteDraftEvent(r.Context(), id.UserID, eventID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ListOrganizerEvents(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	f, err := eventFilterFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	events, total, err := h.events.ListOrganizerEvents(r.Context(), id.UserID, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listBody[domain.Event]{Items: events, Total: total, Offset: f.Offset, Limit: f.Limit})
}

func (h *Handlers) OrganizerStats(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	stats, err := h.events.OrganizerStats(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
