package booking

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/counseling-booking/internal/auth"
	"github.com/frahmantamala/counseling-booking/internal/core/datamodel/appointment"
	"github.com/frahmantamala/counseling-booking/internal/transport"
	"github.com/frahmantamala/counseling-booking/internal/widget"
	"github.com/frahmantamala/counseling-booking/pkg/logger"
)

type ServiceAPI interface {
	StartCheckout(ctx context.Context, clientID int64, draft *appointment.Draft) (*CheckoutSession, error)
	StartRetryCheckout(ctx context.Context, clientID, appointmentID int64) (*CheckoutSession, error)
	HandleWidgetEvent(ctx context.Context, clientID int64, intentID string, raw widget.RawEvent) error
	PaymentStatus(ctx context.Context, clientID int64, intentID string) (*StatusView, error)
	RecheckSettlement(ctx context.Context, clientID int64, intentID string) (*StatusView, error)
	CancelCheckout(ctx context.Context, clientID int64, intentID string) error
	GetAppointment(ctx context.Context, clientID, appointmentID int64) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, clientID int64, limit, offset int) ([]*appointment.Appointment, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
	}
}

func (h *Handler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok || user == nil {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var dto CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.Logger.Error("StartCheckout: invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := dto.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	session, err := h.Service.StartCheckout(r.Context(), user.ID, dto.ToDraft())
	if err != nil {
		h.Logger.Error("StartCheckout: service error", "error", err, "user_id", user.ID)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("StartCheckout: checkout opened",
		"intent_id", session.IntentID,
		"user_id", user.ID,
		"therapist_id", dto.TherapistID)

	h.WriteJSON(w, http.StatusCreated, NewCheckoutResponse(session))
}

func (h *Handler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok || user == nil {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	appointmentID, err := h.pathID(r, "id")
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid appointment ID")
		return
	}

	session, err := h.Service.StartRetryCheckout(r.Context(), user.ID, appointmentID)
	if err != nil {
		h.Logger.Error("RetryPayment: service error", "error", err, "appointment_id", appointmentID, "user_id", user.ID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, NewCheckoutResponse(session))
}

func (h *Handler) WidgetEvent(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok || user == nil {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	intentID := chi.URLParam(r, "intentID")

	var dto WidgetEventDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.Logger.Error("WidgetEvent: invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := dto.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	raw := widget.RawEvent{Type: dto.Type, Payload: dto.Payload}
	if err := h.Service.HandleWidgetEvent(r.Context(), user.ID, intentID, raw); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok || user == nil {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	intentID := chi.URLParam(r, "intentID")

	view, err := h.Service.PaymentStatus(r.Context(), user.ID, intentID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, NewPaymentStatusResponse(view))
}

func (h *Handler) RecheckSettlement(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok || user == nil {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	intentID := chi.URLParam(r, "intentID")

	view, err := h.Service.RecheckSettlement(r.Context(), user.ID, intentID)
	if err != nil {
		// A stuck reconciliation still carries the current view; surface
		// the error body so the client shows the support message.
		h.Logger.Error("RecheckSettlement: service error", "error", err, "intent_id", intentID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, NewPaymentStatusResponse(view))
}

func (h *Handler) CancelCheckout(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok || user == nil {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	intentID := chi.URLParam(r, "intentID")

	if err := h.Service.CancelCheckout(r.Context(), user.ID, intentID); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok || user == nil {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	appointmentID, err := h.pathID(r, "id")
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid appointment ID")
		return
	}

	appt, err := h.Service.GetAppointment(r.Context(), user.ID, appointmentID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, NewAppointmentResponse(appt))
}

func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok || user == nil {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	appts, err := h.Service.ListAppointments(r.Context(), user.ID, limit, offset)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, NewAppointmentListResponse(appts))
}

func (h *Handler) pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}
