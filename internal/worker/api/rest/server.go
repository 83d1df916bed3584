// Package rest exposes the worker side of the hub protocol: POST
// /process runs one job to completion, GET /health reports liveness
// and the busy flag. A completed run always answers HTTP 200 with a
// success or error envelope; non-200 replies mean the job never ran.
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
	"github.com/cs-joeguo/MinerUVision/internal/shared/config"
	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
	"github.com/cs-joeguo/MinerUVision/pkg/protocol"
)

const (
	maxUploadBytes  = 512 << 20
	formMemoryLimit = 32 << 20
)

// jobProcessor is the slice of the worker service the HTTP layer needs.
type jobProcessor interface {
	TryBegin() bool
	End()
	Busy() bool
	GPUOrdinal() int
	Capabilities() []core.JobKind
	Process(ctx context.Context, job *core.Job) (*core.Result, error)
}

type API struct {
	processor jobProcessor
	dataDir   string
	logger    logging.Logger
}

func NewAPI(processor jobProcessor, dataDir string, logger logging.Logger) *API {
	return &API{
		processor: processor,
		dataDir:   dataDir,
		logger:    logger,
	}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /process", a.process)
	mux.HandleFunc("GET /health", a.health)
}

func (a *API) process(w http.ResponseWriter, r *http.Request) {
	// One job at a time. The hub treats 409 as retryable and moves on
	// to another device.
	if !a.processor.TryBegin() {
		a.respondError(w, http.StatusConflict, "worker busy", "a job is already running")
		return
	}
	defer a.processor.End()

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(formMemoryLimit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.respondError(w, http.StatusRequestEntityTooLarge, "file too large", fmt.Sprintf("uploads are limited to %d bytes", tooLarge.Limit))
			return
		}
		a.respondError(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	requestID, err := uuid.Parse(r.FormValue(protocol.FieldRequestID))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request_id", "request ids are UUIDs")
		return
	}

	kind := core.JobKind(r.FormValue(protocol.FieldKind))
	if !kind.Valid() {
		a.respondError(w, http.StatusBadRequest, "invalid kind", fmt.Sprintf("unknown job kind %q", kind))
		return
	}

	params, err := paramsFromWire(r.FormValue(protocol.FieldParams))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid params", err.Error())
		return
	}

	file, header, err := r.FormFile(protocol.FieldFile)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "file is required", "")
		return
	}
	defer file.Close()

	job := &core.Job{
		ID:     requestID,
		Kind:   kind,
		Params: params,
		Input:  core.InputFile{Name: header.Filename},
	}

	if err := a.stageUpload(job, file); err != nil {
		a.logger.Error("Failed to stage upload", "request_id", requestID, "error", err)
		a.respondError(w, http.StatusInternalServerError, "failed to store upload", "")
		return
	}
	defer a.discardUpload(job)

	ctx := r.Context()
	if seconds, _ := strconv.Atoi(r.FormValue(protocol.FieldDeadline)); seconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(seconds)*time.Second)
		defer cancel()
	}

	result, err := a.processor.Process(ctx, job)
	if err != nil {
		a.respondJSON(w, http.StatusOK, failureToWire(job, err))
		return
	}
	a.respondJSON(w, http.StatusOK, resultToWire(job, result))
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	kinds := a.processor.Capabilities()
	capabilities := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		capabilities = append(capabilities, string(kind))
	}

	a.respondJSON(w, http.StatusOK, protocol.HealthResponse{
		Status:       "ok",
		Busy:         a.processor.Busy(),
		GPUOrdinal:   a.processor.GPUOrdinal(),
		Capabilities: capabilities,
	})
}

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
		a.logger.Warn("Could not remove staged upload", "request_id", job.ID, "path", job.Input.Path, "error", err)
	}
}

func (a *API) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Error("Failed to encode response", "error", err)
	}
}

func (a *API) respondError(w http.ResponseWriter, statusCode int, error string, message string) {
	a.respondJSON(w, statusCode, protocol.ErrorResponse{
		Error:   error,
		Message: message,
	})
}

// NewServer wires the API behind the middleware chain. The write timeout
// must cover a full extraction run; the hub holds the connection open
// until the job finishes.
func NewServer(cfg config.WorkerServerConfig, api *API, logger logging.Logger) *http.Server {
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	handler := ChainMiddleware(
		mux,
		RecoveryMiddleware(logger),
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
