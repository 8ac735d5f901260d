package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"tweet-digest/internal/domain"
	httpinfra "tweet-digest/internal/infra/http"
	"tweet-digest/internal/usecase/accounts"
	"tweet-digest/internal/usecase/schedule"
)

// Scheduler ставит дайджесты в очередь.
type Scheduler interface {
	Sweep(ctx context.Context, now time.Time) (schedule.SweepReport, error)
	RunNow(ctx context.Context, digestID string) error
}

// DigestUpdater меняет настройки дайджеста.
type DigestUpdater interface {
	UpdateDigest(ctx context.Context, digestID string, patch accounts.DigestPatch) (domain.DigestConfig, error)
}

// RunLister возвращает историю запусков.
type RunLister interface {
	ListRuns(ctx context.Context, digestID string, limit int) ([]domain.RunLog, error)
}

// Handler обслуживает HTTP API дайджестов.
type Handler struct {
	scheduler  Scheduler
	digests    DigestUpdater
	runs       RunLister
	cronSecret string
	apiToken   string
	log        zerolog.Logger
	now        func() time.Time
}

// NewHandler создаёт обработчик.
func NewHandler(scheduler Scheduler, digests DigestUpdater, runs RunLister, cronSecret, apiToken string, logger zerolog.Logger) *Handler {
	return &Handler{
		scheduler:  scheduler,
		digests:    digests,
		runs:       runs,
		cronSecret: cronSecret,
		apiToken:   apiToken,
		log:        logger,
		now:        time.Now,
	}
}

// Register подключает маршруты к роутеру.
func (h *Handler) Register(r chi.Router) {
	r.With(httpinfra.BearerAuthMiddleware(h.cronSecret)).Post("/api/cron/digest", h.sweep)

	r.Group(func(protected chi.Router) {
		protected.Use(httpinfra.BearerAuthMiddleware(h.apiToken))
		protected.Post("/api/digests/{id}/run", h.runNow)
		protected.Put("/api/digests/{id}", h.updateDigest)
		protected.Get("/api/digests/{id}/runs", h.listRuns)
	})
}

type sweepResponse struct {
	Success bool `json:"success"`
	schedule.SweepReport
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.scheduler.Sweep(r.Context(), h.now())
	if err != nil {
		h.log.Error().Err(err).Msg("api: ошибка планового обхода")
		httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("Internal server error"))
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, sweepResponse{Success: true, SweepReport: report})
}

func (h *Handler) runNow(w http.ResponseWriter, r *http.Request) {
	digestID := chi.URLParam(r, "id")
	err := h.scheduler.RunNow(r.Context(), digestID)
	switch {
	case err == nil:
		httpinfra.WriteJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Digest is being processed",
		})
	case errors.Is(err, domain.ErrDigestNotFound):
		httpinfra.WriteError(w, http.StatusNotFound, errors.New("Digest not found"))
	case errors.Is(err, schedule.ErrNoHandles), errors.Is(err, schedule.ErrNotConnected):
		httpinfra.WriteError(w, http.StatusBadRequest, err)
	default:
		h.log.Error().Err(err).Str("digest_id", digestID).Msg("api: не удалось запустить дайджест")
		httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("Internal server error"))
	}
}

type digestResponse struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	TwitterUsernames []string `json:"twitterUsernames"`
	ScheduleHour     int      `json:"scheduleHour"`
	TimeWindowHours  int      `json:"timeWindowHours"`
	RecipientEmail   string   `json:"recipientEmail"`
	IsActive         bool     `json:"isActive"`
}

func (h *Handler) updateDigest(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	digestID := chi.URLParam(r, "id")
	var patch accounts.DigestPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	d, err := h.digests.UpdateDigest(r.Context(), digestID, patch)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrDigestNotFound):
		httpinfra.WriteError(w, http.StatusNotFound, errors.New("Digest not found"))
		return
	case errors.Is(err, accounts.ErrInvalidDigest), errors.Is(err, accounts.ErrHandleInvalid):
		httpinfra.WriteError(w, http.StatusBadRequest, err)
		return
	default:
		h.log.Error().Err(err).Str("digest_id", digestID).Msg("api: не удалось обновить дайджест")
		httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("Internal server error"))
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, digestResponse{
		ID:               d.ID,
		Name:             d.Name,
		TwitterUsernames: d.AccountHandles,
		ScheduleHour:     d.ScheduleHour,
		TimeWindowHours:  d.WindowHours,
		RecipientEmail:   d.RecipientEmail,
		IsActive:         d.IsActive,
	})
}

type runResponse struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	TotalScanned  int             `json:"tweetsScanned"`
	TotalSelected int             `json:"tweetsSelected"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	DigestContent json.RawMessage `json:"digestContent,omitempty"`
	ExecutedAt    time.Time       `json:"executedAt"`
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	digestID := chi.URLParam(r, "id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.runs.ListRuns(r.Context(), digestID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("digest_id", digestID).Msg("api: не удалось получить историю запусков")
		httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("Internal server error"))
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, runResponse{
			ID:            run.ID,
			Status:        string(run.Status),
			TotalScanned:  run.TotalScanned,
			TotalSelected: run.TotalSelected,
			ErrorMessage:  run.ErrorMessage,
			DigestContent: run.DigestContent,
			ExecutedAt:    run.ExecutedAt,
		})
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"runs": out})
}
