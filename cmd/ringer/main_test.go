package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/Lif-Platforms/New-Ringer-Server/internal/apierrors"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/httputil"
)

// TestUnknownRouteReturns404 verifies that requests to undefined paths receive a 404 JSON response. Fiber v3 treats
// app.Use() middleware as route matches, so without the catch-all handler at the end of registerRoutes the router
// would return 200 with an empty body for unmatched paths.
func TestUnknownRouteReturns404(t *testing.T) {
	t.Parallel()

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "An internal error occurred"
			apiCode := apierrors.InternalError
			if e, ok := errors.AsType[*fiber.Error](err); ok {
				status = e.Code
				message = e.Message
				apiCode = fiberStatusToAPICode(e.Code)
			}
			return c.Status(status).JSON(httputil.ErrorResponse{
				Error: httputil.ErrorBody{
					Code:    apiCode,
					Message: message,
				},
			})
		},
	})

	app.Use(func(c fiber.Ctx) error {
		return c.Next()
	})
	app.Get("/known", func(c fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Use(func(_ fiber.Ctx) error {
		return fiber.ErrNotFound
	})

	tests := []struct {
		name string
		path string
		want int
	}{
		{"unknown path", "/no-such-route", fiber.StatusNotFound},
		{"favicon", "/favicon.ico", fiber.StatusNotFound},
		{"known path", "/known", fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}

			if tt.want == fiber.StatusNotFound {
				body, _ := io.ReadAll(resp.Body)
				var decoded httputil.ErrorResponse
				if err := json.Unmarshal(body, &decoded); err != nil {
					t.Fatalf("unmarshal error body: %v", err)
				}
				if decoded.Error.Code != apierrors.NotFound {
					t.Errorf("code = %q, want %q", decoded.Error.Code, apierrors.NotFound)
				}
			}
		})
	}
}

func TestFiberStatusToAPICode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   apierrors.Code
	}{
		{fiber.StatusNotFound, apierrors.NotFound},
		{fiber.StatusTooManyRequests, apierrors.RateLimited},
		{fiber.StatusServiceUnavailable, apierrors.ServiceUnavailable},
		{fiber.StatusMethodNotAllowed, apierrors.ValidationError},
		{fiber.StatusBadGateway, apierrors.InternalError},
	}

	for _, tt := range tests {
		if got := fiberStatusToAPICode(tt.status); got != tt.want {
			t.Errorf("fiberStatusToAPICode(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestRunWithBackoffStopsOnCancel(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		runWithBackoff(ctx, "test-service", func(ctx context.Context) error {
			calls.Add(1)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runWithBackoff did not stop after cancellation")
	}
	if calls.Load() != 1 {
		t.Errorf("service runs = %d, want 1", calls.Load())
	}
}

func TestRunWithBackoffExitsOnNil(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		runWithBackoff(context.Background(), "test-service", func(context.Context) error {
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runWithBackoff did not exit on nil error")
	}
}
