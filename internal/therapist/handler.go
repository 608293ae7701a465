package therapist

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	therapistmodel "github.com/frahmantamala/counseling-booking/internal/core/datamodel/therapist"
	"github.com/frahmantamala/counseling-booking/internal/transport"
	"github.com/frahmantamala/counseling-booking/pkg/logger"
)

type ServiceAPI interface {
	GetByID(id int64) (*therapistmodel.Therapist, error)
	ListActive(limit, offset int) ([]*therapistmodel.Therapist, error)
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

func (h *Handler) ListTherapists(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	therapists, err := h.Service.ListActive(limit, offset)
	if err != nil {
		h.Logger.Error("ListTherapists: service error", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, NewTherapistListResponse(therapists))
}

func (h *Handler) GetTherapist(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid therapist ID")
		return
	}

	t, err := h.Service.GetByID(id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, NewTherapistResponse(t))
}
