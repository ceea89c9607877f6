package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/localnewslab/newsminer/internal/botsense"
	"github.com/localnewslab/newsminer/internal/pipeline"
	"github.com/localnewslab/newsminer/internal/store"
)

const statusTimeout = 3 * time.Second

// StatusHandler exposes read-only pipeline status endpoints.
type StatusHandler struct {
	queue   store.QueueRepository
	sources store.SourceRepository
	sense   *botsense.Manager
	timeout time.Duration
	logger  *zap.Logger
}

// NewStatusHandler wires the repositories and logger.
func NewStatusHandler(
	queue store.QueueRepository,
	sources store.SourceRepository,
	sense *botsense.Manager,
	logger *zap.Logger,
) *StatusHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusHandler{
		queue:   queue,
		sources: sources,
		sense:   sense,
		timeout: statusTimeout,
		logger:  logger,
	}
}

// ListStages handles GET /api/v1/stages?dataset=. It returns a JSON object
// {"stages": [...]} with pending depths in polling order, 400 for a malformed
// dataset filter, 503 when the queue store is unavailable, or 500 if the
// repository call fails.
func (h *StatusHandler) ListStages(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		writeError(h.logger, w, http.StatusServiceUnavailable, "queue store unavailable")
		return
	}
	datasetID, err := parseDataset(r)
	if err != nil {
		writeError(h.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	counts, err := h.queue.PendingCounts(ctx, datasetID)
	if err != nil {
		h.logger.Error("pending counts failed", zap.Error(err))
		writeError(h.logger, w, http.StatusInternalServerError, "failed to count pending work")
		return
	}
	stages := make([]stageDTO, 0, len(pipeline.StageOrder))
	for _, stage := range pipeline.StageOrder {
		stages = append(stages, stageDTO{Stage: string(stage), Pending: counts[stage]})
	}
	writeJSON(h.logger, w, http.StatusOK, map[string]any{"stages": stages})
}

// ListHosts handles GET /api/v1/hosts. It returns {"hosts": [...]} with every
// registered source and its current sensitivity.
func (h *StatusHandler) ListHosts(w http.ResponseWriter, r *http.Request) {
	if h.sources == nil {
		writeError(h.logger, w, http.StatusServiceUnavailable, "source store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	srcs, err := h.sources.ListSources(ctx)
	if err != nil {
		h.logger.Error("list sources failed", zap.Error(err))
		writeError(h.logger, w, http.StatusInternalServerError, "failed to list sources")
		return
	}
	hosts := make([]hostDTO, 0, len(srcs))
	for _, src := range srcs {
		hosts = append(hosts, toHostDTO(src))
	}
	writeJSON(h.logger, w, http.StatusOK, map[string]any{"hosts": hosts})
}

// GetHost handles GET /api/v1/hosts/{host}. It returns {"host": {...}} with
// the source row plus the pacing currently derived from its sensitivity,
// 404 when the repository reports store.ErrNotFound, or 500 otherwise.
func (h *StatusHandler) GetHost(w http.ResponseWriter, r *http.Request) {
	if h.sources == nil {
		writeError(h.logger, w, http.StatusServiceUnavailable, "source store unavailable")
		return
	}
	host := strings.TrimSpace(chi.URLParam(r, "host"))
	if host == "" {
		writeError(h.logger, w, http.StatusBadRequest, "host is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	src, err := h.sources.GetSourceByHost(ctx, host)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(h.logger, w, http.StatusNotFound, "host not found")
			return
		}
		h.logger.Error("get source failed", zap.Error(err), zap.String("host", host))
		writeError(h.logger, w, http.StatusInternalServerError, "failed to load source")
		return
	}
	dto := toHostDTO(src)
	if h.sense != nil {
		if cfg, cfgErr := h.sense.ConfigFor(ctx, host); cfgErr == nil {
			dto.Pacing = &pacingDTO{
				DelayMinMS:       cfg.InterRequestDelayMin.Milliseconds(),
				DelayMaxMS:       cfg.InterRequestDelayMax.Milliseconds(),
				BatchSleepMS:     cfg.BatchSleep.Milliseconds(),
				RequestTimeoutMS: cfg.RequestTimeout.Milliseconds(),
			}
		}
	}
	writeJSON(h.logger, w, http.StatusOK, map[string]any{"host": dto})
}

func parseDataset(r *http.Request) (*int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("dataset"))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val <= 0 {
		return nil, errors.New("invalid dataset")
	}
	return &val, nil
}

func toHostDTO(src pipeline.Source) hostDTO {
	dto := hostDTO{
		Host:          src.Host,
		CanonicalName: src.CanonicalName,
		Sensitivity:   src.BotSensitivity,
		SensitivityAt: src.BotSensitivityAt,
		BotEncounters: src.BotEncounters,
	}
	if src.LastBotDetectionAt != nil {
		dto.LastDetectionAt = src.LastBotDetectionAt
	}
	if src.LastDiscoveryAt != nil {
		dto.LastDiscoveryAt = src.LastDiscoveryAt
	}
	return dto
}

type stageDTO struct {
	Stage   string `json:"stage"`
	Pending int64  `json:"pending"`
}

type hostDTO struct {
	Host            string     `json:"host"`
	CanonicalName   string     `json:"canonical_name"`
	Sensitivity     int        `json:"sensitivity"`
	SensitivityAt   time.Time  `json:"sensitivity_at"`
	BotEncounters   int64      `json:"bot_encounters"`
	LastDetectionAt *time.Time `json:"last_detection_at,omitempty"`
	LastDiscoveryAt *time.Time `json:"last_discovery_at,omitempty"`
	Pacing          *pacingDTO `json:"pacing,omitempty"`
}

type pacingDTO struct {
	DelayMinMS       int64 `json:"delay_min_ms"`
	DelayMaxMS       int64 `json:"delay_max_ms"`
	BatchSleepMS     int64 `json:"batch_sleep_ms"`
	RequestTimeoutMS int64 `json:"request_timeout_ms"`
}
