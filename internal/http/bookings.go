package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/event-booking/internal/domain"
)

type createBookingRequest struct {
	EventID uuid.UUID `json:"event_id"`
	Seats   int       `json:"number_of_seats"`
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	var req createBookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.EventID == uuid.Nil {
		badRequest(w, r, "event_id is required")
		return
	}
	b, err := h.bookings.CreateBooking(r.Context(), req.EventID, id.UserID, req.Seats)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	bookingID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.bookings.CancelBookingByUser(r.Context(), bookingID, id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handlers) ListMyBookings(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	page, err := pageFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	bookings, err := h.bookings.ListUserBookings(r.Context(), id.UserID, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listBody[domain.Booking]{Items: bookings, Total: len(bookings), Offset: page.Offset, Limit: page.Limit})
}

func (h *Handlers) MyBookingStats(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	stats, err := h.bookings.GetUserStats(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
