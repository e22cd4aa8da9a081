package httptransport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"field-route-service/internal/entity"
	"field-route-service/internal/service"
)

type Handler struct {
	jobSvc     *service.JobService
	bookingSvc *service.BookingService
	routeSvc   *service.RouteService
}

func NewHandler(jobSvc *service.JobService, bookingSvc *service.BookingService, routeSvc *service.RouteService) *Handler {
	return &Handler{jobSvc: jobSvc, bookingSvc: bookingSvc, routeSvc: routeSvc}
}

type createJobDTO struct {
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    *int            `json:"priority,omitempty"`
	MaxAttempts int             `json:"maxAttempts,omitempty"`
	RunAt       *time.Time      `json:"runAt,omitempty"`
}

type idResp struct {
	ID string `json:"id"`
}

type jobIDResp struct {
	JobID string `json:"jobId"`
}

type jobResp struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Status      entity.JobStatus `json:"status"`
	Priority    int              `json:"priority"`
	Attempts    int              `json:"attempts"`
	MaxAttempts int              `json:"max_attempts"`
	Payload     json.RawMessage  `json:"payload"`
	RunAt       string           `json:"run_at"`
	LastError   *string          `json:"last_error,omitempty"`
	CompletedAt *string          `json:"completed_at,omitempty"`
	Cron        string           `json:"cron,omitempty"`
	CreatedAt   string           `json:"created_at"`
	UpdatedAt   string           `json:"updated_at"`
}

func toJobResp(j *entity.Job) jobResp {
	resp := jobResp{
		ID:          j.ID.String(),
		Name:        j.Name,
		Status:      j.Status,
		Priority:    j.Priority,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		Payload:     j.Payload,
		RunAt:       j.RunAt.Format(time.RFC3339),
		LastError:   j.LastError,
		Cron:        j.Cron,
		CreatedAt:   j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   j.UpdatedAt.Format(time.RFC3339),
	}
	if j.CompletedAt != nil {
		s := j.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &s
	}
	if len(resp.Payload) == 0 {
		resp.Payload = json.RawMessage(`{}`)
	}
	return resp
}

// CreateJob godoc
// @Summary Schedule a job
// @Description Inserts a pending job; the worker picks it up once runAt has passed.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body createJobDTO true "job"
// @Success 201 {object} idResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /jobs [post]
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var dto createJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, codeInvalidJSON, "invalid json")
		return
	}

	job, err := h.jobSvc.CreateJob(r.Context(), service.CreateJobRequest{
		Name:        dto.Name,
		Payload:     dto.Payload,
		Priority:    dto.Priority,
		MaxAttempts: dto.MaxAttempts,
		RunAt:       dto.RunAt,
	})
	if err != nil {
		writeServiceErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, idResp{ID: job.ID.String()})
}

// GetJob godoc
// @Summary Get job by id
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} jobResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	j, err := h.jobSvc.GetJob(r.Context(), id)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResp(j))
}

// ListJobs godoc
// @Summary List jobs by status
// @Tags jobs
// @Produce json
// @Param status query string false "pending|processing|completed|failed (default failed)"
// @Param limit query int false "max rows (default 50, max 500)"
// @Success 200 {array} jobResp
// @Failure 400 {object} apiError
// @Router /jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := entity.JobStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = entity.StatusFailed
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeErr(w, http.StatusBadRequest, codeInvalidParam, "invalid limit")
			return
		}
		limit = n
	}

	jobs, err := h.jobSvc.ListJobs(r.Context(), status, limit)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	out := make([]jobResp, 0, len(jobs))
	for i := range jobs {
		out = append(out, toJobResp(&jobs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

type createBookingDTO struct {
	CustomerName string `json:"customerName"`
	Email        string `json:"email"`
	Address      string `json:"address"`
	ServiceDate  string `json:"serviceDate"`
	TimeSlot     string `json:"timeSlot"`
}

type createBookingResp struct {
	ID    string `json:"id"`
	JobID string `json:"jobId"`
}

// CreateBooking godoc
// @Summary Create a booking and queue it for geocoding
// @Tags bookings
// @Accept json
// @Produce json
// @Param request body createBookingDTO true "booking"
// @Success 201 {object} createBookingResp
// @Failure 400 {object} apiError
// @Router /bookings [post]
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var dto createBookingDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, codeInvalidJSON, "invalid json")
		return
	}

	b, job, err := h.bookingSvc.CreateBooking(r.Context(), service.CreateBookingRequest{
		CustomerName: dto.CustomerName,
		Email:        dto.Email,
		Address:      dto.Address,
		ServiceDate:  dto.ServiceDate,
		TimeSlot:     dto.TimeSlot,
	})
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createBookingResp{ID: b.ID.String(), JobID: job.ID.String()})
}

type createZoneDTO struct {
	Name     string  `json:"name"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	RadiusMi float64 `json:"radiusMi"`
}

// CreateZone godoc
// @Summary Create a service zone
// @Tags zones
// @Accept json
// @Produce json
// @Param request body createZoneDTO true "zone"
// @Success 201 {object} idResp
// @Failure 400 {object} apiError
// @Router /zones [post]
func (h *Handler) CreateZone(w http.ResponseWriter, r *http.Request) {
	var dto createZoneDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, codeInvalidJSON, "invalid json")
		return
	}

	z, err := h.bookingSvc.CreateZone(r.Context(), service.CreateZoneRequest{
		Name:     dto.Name,
		Lat:      dto.Lat,
		Lng:      dto.Lng,
		RadiusMi: dto.RadiusMi,
	})
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResp{ID: z.ID.String()})
}

type routeGroupResp struct {
	Group *entity.RouteGroup `json:"group"`
	Stops []entity.Booking   `json:"stops"`
}

// GetRouteGroup godoc
// @Summary Get a route group with its stops in route order
// @Tags routes
// @Produce json
// @Param id path string true "route group id (uuid)"
// @Success 200 {object} routeGroupResp
// @Failure 404 {object} apiError
// @Router /route-groups/{id} [get]
func (h *Handler) GetRouteGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	view, err := h.routeSvc.GetRouteGroup(r.Context(), id)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	stops := view.Stops
	if stops == nil {
		stops = []entity.Booking{}
	}
	writeJSON(w, http.StatusOK, routeGroupResp{Group: view.Group, Stops: stops})
}

// OptimizeRouteGroup godoc
// @Summary Queue an immediate optimization of one route group
// @Tags routes
// @Produce json
// @Param id path string true "route group id (uuid)"
// @Success 202 {object} jobIDResp
// @Failure 404 {object} apiError
// @Router /route-groups/{id}/optimize [post]
func (h *Handler) OptimizeRouteGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	job, err := h.routeSvc.RequestOptimization(r.Context(), id)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobIDResp{JobID: job.ID.String()})
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, codeInvalidParam, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
