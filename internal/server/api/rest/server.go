package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cs-joeguo/MinerUVision/internal/server/core"
	"github.com/cs-joeguo/MinerUVision/internal/server/service"
	"github.com/cs-joeguo/MinerUVision/internal/shared/config"
	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
)

const (
	// Documents can be large scans; bigger uploads are rejected outright.
	maxUploadBytes = 512 << 20
	// Form fields above this spill to disk while parsing.
	formMemoryLimit = 32 << 20

	healthCheckTimeout = 5 * time.Second
)

// HealthCheck is one named collaborator probe for /api/health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type API struct {
	jobs        service.JobService
	registry    core.DeviceRegistry
	dataDir     string
	maxPollWait time.Duration
	checks      []HealthCheck
	logger      logging.Logger
}

func NewAPI(
	jobs service.JobService,
	registry core.DeviceRegistry,
	dataDir string,
	maxPollWait time.Duration,
	checks []HealthCheck,
	logger logging.Logger,
) *API {
	return &API{
		jobs:        jobs,
		registry:    registry,
		dataDir:     dataDir,
		maxPollWait: maxPollWait,
		checks:      checks,
		logger:      logger,
	}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/extract-text", a.submitExtractText)
	mux.HandleFunc("POST /api/describe-image", a.submitDescribeImage)
	mux.HandleFunc("POST /api/combined", a.submitCombined)
	mux.HandleFunc("GET /api/jobs/{id}", a.getJob)
	mux.HandleFunc("GET /api/devices", a.getDevices)
	mux.HandleFunc("GET /api/health", a.getHealth)
}

func (a *API) submitExtractText(w http.ResponseWriter, r *http.Request) {
	a.submitJob(w, r, core.KindTextExtraction)
}

func (a *API) submitDescribeImage(w http.ResponseWriter, r *http.Request) {
	a.submitJob(w, r, core.KindImageDescription)
}

func (a *API) submitCombined(w http.ResponseWriter, r *http.Request) {
	a.submitJob(w, r, core.KindCombined)
}

func (a *API) submitJob(w http.ResponseWriter, r *http.Request, kind core.JobKind) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(formMemoryLimit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.respondError(w, http.StatusRequestEntityTooLarge, "upload too large",
				fmt.Sprintf("uploads are limited to %d bytes", tooLarge.Limit))
			return
		}
		a.respondError(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "file is required", "")
		return
	}
	defer file.Close()

	params, err := paramsFromForm(r.FormValue)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	job := BuildJob(kind, header.Filename, params)
	if err := a.stageUpload(job, file); err != nil {
		a.logger.Error("Failed to stage upload", "job_id", job.ID, "error", err)
		a.respondError(w, http.StatusInternalServerError, "failed to store upload", "")
		return
	}

	if err := a.jobs.Submit(r.Context(), job); err != nil {
		a.discardUpload(job)
		switch {
		case errors.Is(err, core.ErrValidation):
			a.respondError(w, http.StatusBadRequest, "validation failed", err.Error())
		case errors.Is(err, core.ErrQueueFull):
			a.respondError(w, http.StatusServiceUnavailable, "queue full", "the job queue is full, retry later")
		default:
			a.logger.Error("Failed to submit job", "job_id", job.ID, "error", err)
			a.respondError(w, http.StatusInternalServerError, "failed to submit job", "")
		}
		return
	}

	a.respondJSON(w, http.StatusCreated, SubmitResponse{
		RequestID: job.ID.String(),
		Kind:      string(job.Kind),
		Status:    statusPending,
	})
}

// stageUpload copies the upload into the staging directory, named by the
// job id so concurrent submissions never collide. The dispatcher removes
// the file once the job is terminal.
func (a *API) stageUpload(job *core.Job, file multipart.File) error {
	dir := filepath.Join(a.dataDir, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	path := filepath.Join(dir, job.ID.String()+strings.ToLower(filepath.Ext(job.Input.Name)))
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	size, err := io.Copy(dst, file)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return err
	}

	job.Input.Path = path
	job.Input.Size = size
	return nil
}

func (a *API) discardUpload(job *core.Job) {
	if job.Input.Path == "" {
		return
	}
	if err := os.Remove(job.Input.Path); err != nil && !os.IsNotExist(err) {
		a.logger.Warn("Could not remove staged upload", "job_id", job.ID, "path", job.Input.Path, "error", err)
	}
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid job id", "job ids are UUIDs")
		return
	}

	wait, err := parseWait(r.URL.Query().Get("wait"), a.maxPollWait)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid wait", err.Error())
		return
	}

	job, err := a.jobs.Poll(r.Context(), id, wait)
	switch {
	case errors.Is(err, core.ErrJobNotFound):
		a.respondError(w, http.StatusNotFound, "job not found", "")
		return
	case errors.Is(err, context.Canceled):
		// The caller hung up mid-wait; nothing left to answer.
		return
	case err != nil:
		a.logger.Error("Failed to poll job", "job_id", id, "error", err)
		a.respondError(w, http.StatusInternalServerError, "failed to load job", "")
		return
	}

	a.respondJSON(w, http.StatusOK, toJobResponse(job))
}

// parseWait reads the poll wait in whole seconds, capped by the server's
// configured maximum so a caller cannot pin a connection indefinitely.
func parseWait(raw string, limit time.Duration) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("wait must be a non-negative number of seconds")
	}
	wait := time.Duration(seconds) * time.Second
	if wait > limit {
		wait = limit
	}
	return wait, nil
}

func (a *API) getDevices(w http.ResponseWriter, r *http.Request) {
	devices := a.registry.All()
	resp := DevicesResponse{Devices: make([]DeviceInfo, 0, len(devices))}
	for _, device := range devices {
		resp.Devices = append(resp.Devices, toDeviceInfo(device))
	}
	a.respondJSON(w, http.StatusOK, resp)
}

func (a *API) getHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:  "ok",
		Checks:  make(map[string]string, len(a.checks)),
		Devices: make(map[string]int),
	}
	for _, check := range a.checks {
		if err := check.Check(ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[check.Name] = err.Error()
			continue
		}
		resp.Checks[check.Name] = "ok"
	}
	for _, device := range a.registry.All() {
		resp.Devices[string(device.Status)]++
	}

	a.respondJSON(w, http.StatusOK, resp)
}

func (a *API) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Error("Failed to encode response", "error", err)
	}
}

func (a *API) respondError(w http.ResponseWriter, statusCode int, error string, message string) {
	resp := ErrorResponse{
		Error:   error,
		Message: message,
		Code:    statusCode,
	}
	a.respondJSON(w, statusCode, resp)
}

// NewServer wires the API behind the middleware chain. The write timeout
// must stay above the poll cap or long polls get cut off mid-wait.
func NewServer(cfg config.RESTConfig, api *API, logger logging.Logger) *http.Server {
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	handler := ChainMiddleware(
		mux,
		RecoveryMiddleware(logger),
		RequestIDMiddleware(),
		LoggingMiddleware(logger),
	)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
