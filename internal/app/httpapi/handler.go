// Package httpapi exposes the application over HTTP: the public advice
// endpoints, the websocket activity stream, and the token-guarded admin
// surface.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/yiwugan/sort-smart/internal/app"
	"github.com/yiwugan/sort-smart/internal/app/domain/advice"
	"github.com/yiwugan/sort-smart/internal/app/domain/guide"
	"github.com/yiwugan/sort-smart/internal/app/metrics"
	"github.com/yiwugan/sort-smart/internal/app/services/advisor"
	"github.com/yiwugan/sort-smart/internal/app/services/guides"
	"github.com/yiwugan/sort-smart/internal/app/storage"
	"github.com/yiwugan/sort-smart/internal/httputil"
	"github.com/yiwugan/sort-smart/internal/middleware"
	"github.com/yiwugan/sort-smart/pkg/logger"
)

const serviceName = "ecosort"

const (
	// uploadFormSlack covers multipart boundaries and the metadata field on
	// top of the image size limit.
	uploadFormSlack = 1 << 20

	defaultAdviceLimit = 50
	maxAdviceLimit     = 500
)

// Config carries the HTTP surface settings the router needs.
type Config struct {
	Version        string
	AllowedOrigins []string
	AdminJWTSecret string
	AuditLogPath   string
	RateLimitRPS   int
	RateLimitBurst int
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app     *app.Application
	version string
	audit   *auditLog
	log     *logger.Logger
}

// NewHandler builds the routed and middleware-wrapped HTTP surface. Admin
// routes are only registered when an admin JWT secret is configured; without
// one the admin paths do not exist.
func NewHandler(application *app.Application, cfg Config, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = "dev"
	}

	var sink auditSink
	if cfg.AuditLogPath != "" {
		fileSink, err := newFileAuditSink(cfg.AuditLogPath)
		if err != nil {
			log.WithError(err).WithField("path", cfg.AuditLogPath).Warn("audit log file unavailable")
		} else {
			sink = fileSink
		}
	}

	h := &handler{
		app:     application,
		version: version,
		audit:   newAuditLog(0, sink),
		log:     log,
	}

	r := mux.NewRouter()
	r.HandleFunc("/", h.handleIndex).Methods(http.MethodGet)
	r.PathPrefix("/static/").Handler(http.FileServer(http.FS(staticFiles))).Methods(http.MethodGet)
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/info", h.handleInfo).Methods(http.MethodGet)
	r.HandleFunc("/guides", h.handleListGuides).Methods(http.MethodGet)
	r.HandleFunc("/upload-image", h.handleUploadImage).Methods(http.MethodPost)
	r.HandleFunc("/dispose-instruction", h.handleDisposeInstruction).Methods(http.MethodPost)
	r.HandleFunc("/ws/activity", application.Hub.Handle).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	if strings.TrimSpace(cfg.AdminJWTSecret) != "" {
		admin := r.PathPrefix("/admin").Subrouter()
		admin.Use(middleware.NewAuthMiddleware(cfg.AdminJWTSecret, log).Handler)
		admin.HandleFunc("/guides/reload", h.handleReloadGuides).Methods(http.MethodPost)
		admin.HandleFunc("/guides/{key}", h.handleUpsertGuide).Methods(http.MethodPut)
		admin.HandleFunc("/guides/{key}", h.handleDeleteGuide).Methods(http.MethodDelete)
		admin.HandleFunc("/advice", h.handleListAdvice).Methods(http.MethodGet)
		admin.HandleFunc("/advice/{id}", h.handleGetAdvice).Methods(http.MethodGet)
		admin.HandleFunc("/audit", h.handleListAudit).Methods(http.MethodGet)
	}

	var chain http.Handler = r
	chain = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, log).Handler(chain)
	chain = middleware.NewCORSMiddleware(cfg.AllowedOrigins).Handler(chain)
	chain = metrics.InstrumentHandler(chain)
	chain = middleware.NewTracingMiddleware(log).Handler(chain)
	chain = middleware.NewRecoveryMiddleware(log).Handler(chain)
	return chain
}

func (h *handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/static/index.html", http.StatusTemporaryRedirect)
}

type healthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Service:   serviceName,
		Version:   h.version,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

type infoResponse struct {
	Status        string         `json:"status"`
	Service       string         `json:"service"`
	Version       string         `json:"version"`
	Timestamp     string         `json:"timestamp"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Statistics    map[string]any `json:"statistics,omitempty"`
	System        map[string]any `json:"system,omitempty"`
}

func (h *handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats := map[string]any{
		"activity_clients": h.app.Hub.ClientCount(),
	}
	if counts, err := h.app.Advisor.Counts(ctx); err == nil {
		stats["advice"] = counts
	} else {
		h.log.WithError(err).Warn("collecting advice counts failed")
	}
	if list, err := h.app.Guides.List(ctx); err == nil {
		stats["guides"] = len(list)
	} else {
		h.log.WithError(err).Warn("counting guides failed")
	}

	httputil.WriteJSON(w, http.StatusOK, infoResponse{
		Status:        "active",
		Service:       serviceName,
		Version:       h.version,
		Timestamp:     time.Now().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(h.app.StartedAt()).Seconds()),
		Statistics:    stats,
		System:        systemStats(ctx),
	})
}

type guideResponse struct {
	Key       string    `json:"key"`
	Region    string    `json:"region"`
	Summary   string    `json:"summary,omitempty"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (h *handler) handleListGuides(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Guides.List(r.Context())
	if err != nil {
		h.log.WithError(err).Error("listing guides failed")
		httputil.WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	out := make([]guideResponse, 0, len(list))
	for _, g := range list {
		out = append(out, guideResponse{
			Key:       g.Key,
			Region:    g.Region,
			Source:    g.Source,
			UpdatedAt: g.UpdatedAt,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"guides": out, "count": len(out)})
}

type uploadResponse struct {
	Filename    string         `json:"filename"`
	ContentType string         `json:"content_type"`
	Metadata    map[string]any `json:"metadata"`
	Response    string         `json:"response"`
	AdviceID    string         `json:"advice_id,omitempty"`
	Cached      bool           `json:"cached"`
}

func (h *handler) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	limit := h.app.Advisor.MaxImageSize()
	r.Body = http.MaxBytesReader(w, r.Body, limit+uploadFormSlack)
	if err := r.ParseMultipartForm(limit + uploadFormSlack); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("Image too large, must be smaller than %d bytes", limit))
			return
		}
		httputil.WriteError(w, http.StatusBadRequest, "malformed multipart form")
		return
	}

	raw := r.FormValue("metadata")
	if strings.TrimSpace(raw) == "" {
		httputil.WriteError(w, http.StatusBadRequest, "metadata form field is required")
		return
	}
	// The echoed metadata keeps every field the client sent, known or not;
	// only city and region participate in guide resolution.
	var echo map[string]any
	if err := json.Unmarshal([]byte(raw), &echo); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid JSON metadata")
		return
	}
	var meta guide.Metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid JSON metadata")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()
	image, err := io.ReadAll(file)
	if err != nil {
		h.log.WithError(err).Warn("reading uploaded image failed")
		httputil.WriteError(w, http.StatusBadRequest, "image upload could not be read")
		return
	}

	result, err := h.app.Advisor.AdviseFromImage(r.Context(), advisor.Submission{
		Image:       image,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Metadata:    meta,
	})
	if err != nil {
		h.writeAdviceError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, uploadResponse{
		Filename:    result.Filename,
		ContentType: result.ContentType,
		Metadata:    echo,
		Response:    result.Response,
		AdviceID:    result.ID,
		Cached:      result.Cached,
	})
}

type disposeResponse struct {
	Metadata guide.Metadata `json:"metadata"`
	Response string         `json:"response"`
	AdviceID string         `json:"advice_id,omitempty"`
}

func (h *handler) handleDisposeInstruction(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Description string `json:"description"`
		City        string `json:"city"`
		Region      string `json:"region"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(payload.Description) == "" {
		httputil.WriteError(w, http.StatusBadRequest, "description is required")
		return
	}

	meta := guide.Metadata{City: payload.City, Region: payload.Region}
	result, err := h.app.Advisor.AdviseFromDescription(r.Context(), payload.Description, meta)
	if err != nil {
		h.writeAdviceError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, disposeResponse{
		Metadata: meta,
		Response: result.Response,
		AdviceID: result.ID,
	})
}

func (h *handler) handleUpsertGuide(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	var payload struct {
		Region  string `json:"region"`
		Summary string `json:"summary"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	stored, err := h.app.Guides.Upsert(r.Context(), guide.Guide{
		Key:     key,
		Region:  payload.Region,
		Summary: payload.Summary,
	})
	if err != nil {
		h.recordAudit(r, "guide.upsert", key, http.StatusBadRequest)
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.recordAudit(r, "guide.upsert", stored.Key, http.StatusOK)
	httputil.WriteJSON(w, http.StatusOK, guideResponse{
		Key:       stored.Key,
		Region:    stored.Region,
		Summary:   stored.Summary,
		Source:    stored.Source,
		UpdatedAt: stored.UpdatedAt,
	})
}

func (h *handler) handleDeleteGuide(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if err := h.app.Guides.Delete(r.Context(), key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "guide not found")
			return
		}
		h.log.WithError(err).WithField("key", key).Error("deleting guide failed")
		httputil.WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.recordAudit(r, "guide.delete", key, http.StatusNoContent)
	httputil.WriteJSON(w, http.StatusNoContent, nil)
}

func (h *handler) handleReloadGuides(w http.ResponseWriter, r *http.Request) {
	loaded, err := h.app.ReloadGuides(r.Context())
	if err != nil {
		h.recordAudit(r, "guides.reload", "", http.StatusInternalServerError)
		h.log.WithError(err).Error("guide reload failed")
		httputil.WriteError(w, http.StatusInternalServerError, "guide reload failed")
		return
	}
	h.recordAudit(r, "guides.reload", "", http.StatusOK)
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"loaded": loaded})
}

func (h *handler) handleListAdvice(w http.ResponseWriter, r *http.Request) {
	limit := defaultAdviceLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httputil.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxAdviceLimit {
		limit = maxAdviceLimit
	}

	records, err := h.app.Advisor.Recent(r.Context(), limit)
	if err != nil {
		h.log.WithError(err).Error("listing advice failed")
		httputil.WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	out := make([]adviceResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toAdviceResponse(rec))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"advice": out, "count": len(out)})
}

func (h *handler) handleGetAdvice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	record, err := h.app.Advisor.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "advice record not found")
			return
		}
		h.log.WithError(err).WithField("id", id).Error("loading advice failed")
		httputil.WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAdviceResponse(record))
}

func (h *handler) handleListAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httputil.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	entries := h.audit.listLimit(limit)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// writeAdviceError maps advice pipeline failures onto the public error
// contract. Unknown errors never leak provider detail to the client.
func (h *handler) writeAdviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, guides.ErrRegionRequired):
		httputil.WriteError(w, http.StatusBadRequest, "region is required in metadata")
	case errors.Is(err, guides.ErrNoGuide):
		httputil.WriteError(w, http.StatusBadRequest, "Instruction not found for specified city or region")
	case errors.Is(err, advisor.ErrEmptyImage):
		httputil.WriteError(w, http.StatusBadRequest, "image file is empty")
	case errors.Is(err, advisor.ErrImageTooLarge):
		httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("Image too large, must be smaller than %d bytes", h.app.Advisor.MaxImageSize()))
	case errors.Is(err, advisor.ErrVisionUnavailable), errors.Is(err, advisor.ErrTextUnavailable):
		httputil.WriteError(w, http.StatusServiceUnavailable, "model backend is not configured")
	default:
		h.log.WithError(err).Error("advice request failed")
		httputil.WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *handler) recordAudit(r *http.Request, action, target string, status int) {
	h.audit.add(auditEntry{
		Time:    time.Now().UTC(),
		Subject: middleware.GetSubject(r.Context()),
		Action:  action,
		Target:  target,
		Status:  status,
	})
}

type adviceResponse struct {
	ID          string    `json:"id"`
	GuideKey    string    `json:"guide_key"`
	Filename    string    `json:"filename,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	ImageSize   int64     `json:"image_size,omitempty"`
	ImageSHA256 string    `json:"image_sha256,omitempty"`
	Model       string    `json:"model,omitempty"`
	Status      string    `json:"status"`
	Response    string    `json:"response,omitempty"`
	Error       string    `json:"error,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

func toAdviceResponse(rec advice.Record) adviceResponse {
	return adviceResponse{
		ID:          rec.ID,
		GuideKey:    rec.GuideKey,
		Filename:    rec.Filename,
		ContentType: rec.ContentType,
		ImageSize:   rec.ImageSize,
		ImageSHA256: rec.ImageSHA256,
		Model:       rec.Model,
		Status:      rec.Status,
		Response:    rec.Response,
		Error:       rec.Error,
		DurationMS:  rec.DurationMS,
		CreatedAt:   rec.CreatedAt,
	}
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// systemStats reports process health so operators can inspect the service
// without shell access to the container.
func systemStats(ctx context.Context) map[string]any {
	stats := map[string]any{"goroutines": runtime.NumGoroutine()}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats["memory_used_percent"] = vm.UsedPercent
	}
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		stats["cpu_percent"] = percents[0]
	}
	if info, err := host.InfoWithContext(ctx); err == nil {
		stats["hostname"] = info.Hostname
		stats["platform"] = info.Platform
	}
	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if memInfo, err := proc.MemoryInfoWithContext(ctx); err == nil {
			stats["process_rss_bytes"] = memInfo.RSS
		}
	}
	return stats
}
