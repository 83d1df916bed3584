package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cs-joeguo/MinerUVision/internal/server/core"
	"github.com/cs-joeguo/MinerUVision/internal/shared/config"
	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
	"github.com/cs-joeguo/MinerUVision/pkg/protocol"
)

// Client speaks the worker protocol. Transport failures and busy
// workers are retried with doubling backoff; an HTTP 200 body is a
// definitive outcome and is never retried, whatever it says.
type Client struct {
	http       *http.Client
	timeout    time.Duration
	maxRetries int
	retryBase  time.Duration
	log        logging.Logger
}

func NewClient(cfg config.RemoteConfig, log logging.Logger) *Client {
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = time.Second
	}
	return &Client{
		http:       &http.Client{},
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		retryBase:  retryBase,
		log:        log,
	}
}

// Process ships the job's staged input to the worker at addr and waits
// for the outcome. An exceeded deadline surfaces as ErrRemoteTimeout;
// exhausted transport retries surface as ErrRemoteUnreachable.
func (c *Client) Process(ctx context.Context, addr string, job *core.Job) (*core.Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	attempts := c.maxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.retryBase << (attempt - 1)):
			case <-ctx.Done():
				return nil, remoteCtxErr(ctx, addr)
			}
		}

		res, definitive, err := c.processOnce(ctx, addr, job)
		if err == nil {
			return res, nil
		}
		if definitive {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, remoteCtxErr(ctx, addr)
		}
		lastErr = err
		c.log.Warn("worker call failed, retrying",
			"addr", addr,
			"job_id", job.ID,
			"attempt", attempt+1,
			"error", err,
		)
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %v", core.ErrRemoteUnreachable, addr, attempts, lastErr)
}

// processOnce returns definitive=true when the outcome must not be
// retried: a 200 body either way, or a request this hub built wrong.
func (c *Client) processOnce(ctx context.Context, addr string, job *core.Job) (res *core.Result, definitive bool, err error) {
	file, err := os.Open(job.Input.Path)
	if err != nil {
		return nil, true, fmt.Errorf("open staged input: %w", err)
	}
	defer file.Close()

	deadlineSeconds := 0
	if dl, ok := ctx.Deadline(); ok {
		deadlineSeconds = int(time.Until(dl).Seconds())
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		werr := writeProcessForm(mw, job, file, deadlineSeconds)
		if cerr := mw.Close(); werr == nil {
			werr = cerr
		}
		pw.CloseWithError(werr)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, workerURL(addr)+"/process", pr)
	if err != nil {
		return nil, true, fmt.Errorf("build process request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, false, fmt.Errorf("read worker response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var out protocol.ProcessResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, true, fmt.Errorf("decode worker response: %w", err)
		}
		if out.Status == protocol.StatusSuccess {
			return resultFromWire(&out), true, nil
		}
		return nil, true, &core.StageError{
			Code: parseFailureCode(out.Code),
			Err:  fmt.Errorf("worker %s: %s", addr, out.Error),
		}
	case resp.StatusCode == http.StatusConflict, resp.StatusCode >= 500:
		return nil, false, fmt.Errorf("worker returned %d: %s", resp.StatusCode, bodySnippet(body))
	default:
		return nil, true, fmt.Errorf("worker rejected request with %d: %s", resp.StatusCode, bodySnippet(body))
	}
}

// Probe checks a worker's health endpoint. The prober applies its own
// timeout through ctx.
func (c *Client) Probe(ctx context.Context, addr string) (*protocol.HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, workerURL(addr)+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("build health request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("worker health returned %d", resp.StatusCode)
	}

	var health protocol.HealthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&health); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return &health, nil
}

func writeProcessForm(mw *multipart.Writer, job *core.Job, file io.Reader, deadlineSeconds int) error {
	fw, err := mw.CreateFormFile(protocol.FieldFile, job.Input.Name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, file); err != nil {
		return err
	}

	params, err := json.Marshal(paramsToWire(job.Params))
	if err != nil {
		return err
	}

	fields := map[string]string{
		protocol.FieldRequestID: job.ID.String(),
		protocol.FieldKind:      string(job.Kind),
		protocol.FieldParams:    string(params),
		protocol.FieldDeadline:  strconv.Itoa(deadlineSeconds),
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return err
		}
	}
	return nil
}

func remoteCtxErr(ctx context.Context, addr string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", core.ErrRemoteTimeout, addr)
	}
	return ctx.Err()
}

func workerURL(addr string) string {
	addr = strings.TrimSuffix(addr, "/")
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}

func bodySnippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 512 {
		return s[:512] + "...(truncated)"
	}
	return s
}
