package httputil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
)

// syncBuffer guards the log sink; Fiber may handle requests on separate goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func loggerApp(sink *syncBuffer, skip ...string) *fiber.App {
	logger := zerolog.New(sink)
	app := fiber.New()
	app.Use(RequestLogger(logger, skip...))
	app.Get("/ok", func(c fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/missing", func(c fiber.Ctx) error { return c.SendStatus(fiber.StatusNotFound) })
	app.Get("/boom", func(c fiber.Ctx) error { return c.SendStatus(fiber.StatusInternalServerError) })
	app.Get("/", func(c fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	return app
}

func TestRequestLoggerLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path  string
		level string
	}{
		{"/ok", "info"},
		{"/missing", "warn"},
		{"/boom", "error"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			sink := &syncBuffer{}
			app := loggerApp(sink)

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			_ = resp.Body.Close()

			var entry map[string]any
			if err := json.Unmarshal([]byte(strings.TrimSpace(sink.String())), &entry); err != nil {
				t.Fatalf("unmarshal log entry: %v (raw %q)", err, sink.String())
			}
			if entry["level"] != tt.level {
				t.Errorf("level = %v, want %s", entry["level"], tt.level)
			}
			if entry["path"] != tt.path {
				t.Errorf("path = %v, want %s", entry["path"], tt.path)
			}
		})
	}
}

func TestRequestLoggerSkipsPaths(t *testing.T) {
	t.Parallel()

	sink := &syncBuffer{}
	app := loggerApp(sink, "/")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	_ = resp.Body.Close()

	if sink.String() != "" {
		t.Errorf("skipped path was logged: %q", sink.String())
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/ok", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	_ = resp.Body.Close()

	if sink.String() == "" {
		t.Error("non-skipped path was not logged")
	}
}
