// Package authclient wraps the external Lif authentication service. The service is authoritative for credentials;
// nothing is cached here.
package authclient

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"
)

// Status is the outcome of a credential check.
type Status int

const (
	// StatusValid means the (identity, token) pair is current.
	StatusValid Status = iota
	// StatusInvalid means the identity is unknown or the token does not match.
	StatusInvalid
	// StatusSuspended means the credentials are correct but the account is suspended.
	StatusSuspended
)

// Verifier checks credentials against the external auth service.
type Verifier struct {
	baseURL string
	client  *http.Client
}

// NewVerifier creates a Verifier for the auth service at baseURL with the given request timeout.
func NewVerifier(baseURL string, timeout time.Duration) *Verifier {
	return &Verifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Verify posts the credentials to the auth service and maps its response status. A non-nil error means the service was
// unreachable or answered outside its contract; the caller should treat that as a transport failure, not a denial.
func (v *Verifier) Verify(ctx context.Context, username, token string) (Status, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("username", username); err != nil {
		return StatusInvalid, fmt.Errorf("encode username field: %w", err)
	}
	if err := form.WriteField("token", token); err != nil {
		return StatusInvalid, fmt.Errorf("encode token field: %w", err)
	}
	if err := form.Close(); err != nil {
		return StatusInvalid, fmt.Errorf("finalise form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/auth/verify_token", &body)
	if err != nil {
		return StatusInvalid, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := v.client.Do(req)
	if err != nil {
		return StatusInvalid, fmt.Errorf("verify request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return StatusValid, nil
	case http.StatusUnauthorized:
		return StatusInvalid, nil
	case http.StatusForbidden:
		return StatusSuspended, nil
	default:
		return StatusInvalid, fmt.Errorf("auth service returned status %d", resp.StatusCode)
	}
}
