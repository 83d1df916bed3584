package rest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
)

// mockLogger is a test logger that captures log messages
type mockLogger struct {
	mu       sync.Mutex
	messages []string
}

func newMockLogger() *mockLogger {
	return &mockLogger{
		messages: make([]string, 0),
	}
}

func (m *mockLogger) Debug(msg string, args ...any) {
	m.log("DEBUG", msg, args...)
}

func (m *mockLogger) Info(msg string, args ...any) {
	m.log("INFO", msg, args...)
}

func (m *mockLogger) Warn(msg string, args ...any) {
	m.log("WARN", msg, args...)
}

func (m *mockLogger) Error(msg string, args ...any) {
	m.log("ERROR", msg, args...)
}

func (m *mockLogger) Fatal(msg string, args ...any) {
	m.log("FATAL", msg, args...)
}

func (m *mockLogger) With(args ...any) logging.Logger {
	return m
}

func (m *mockLogger) log(level, msg string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	formatted := fmt.Sprintf("[%s] %s", level, msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			formatted += fmt.Sprintf(" %v=%v", args[i], args[i+1])
		}
	}
	m.messages = append(m.messages, formatted)
}

func (m *mockLogger) getOutput() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return strings.Join(m.messages, "\n")
}

func TestLoggingMiddleware(t *testing.T) {
	logger := newMockLogger()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("ok"))
	})

	wrapped := LoggingMiddleware(logger)(handler)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/123", nil)
	w := httptest.NewRecorder()

	wrapped.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", w.Code)
	}

	logOutput := logger.getOutput()
	if !strings.Contains(logOutput, "GET") {
		t.Error("Expected log to contain method GET")
	}
	if !strings.Contains(logOutput, "/api/jobs/123") {
		t.Error("Expected log to contain the request path")
	}
	if !strings.Contains(logOutput, "status=202") {
		t.Errorf("Expected log to contain the response status, got: %s", logOutput)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Run("generates an id", func(t *testing.T) {
		var seen string
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = RequestIDFrom(r.Context())
		})

		wrapped := RequestIDMiddleware()(handler)
		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		if seen == "" {
			t.Error("Expected a request id in the context")
		}
		if got := w.Header().Get("X-Request-ID"); got != seen {
			t.Errorf("Expected header %q to match context id %q", got, seen)
		}
	})

	t.Run("keeps a caller-provided id", func(t *testing.T) {
		var seen string
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = RequestIDFrom(r.Context())
		})

		wrapped := RequestIDMiddleware()(handler)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "caller-42")
		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, req)

		if seen != "caller-42" {
			t.Errorf("Expected caller id to be kept, got %q", seen)
		}
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := newMockLogger()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	wrapped := RecoveryMiddleware(logger)(handler)
	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
	if !strings.Contains(logger.getOutput(), "Panic recovered") {
		t.Error("Expected the panic to be logged")
	}
}

func TestChainMiddlewareOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	})

	chained := ChainMiddleware(handler, mw("outer"), mw("inner"))
	chained.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	want := []string{"outer", "inner", "handler"}
	if len(order) != len(want) {
		t.Fatalf("Expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, order)
		}
	}
}
