// Package certificate talks to the external document renderer that turns a
// completion-certificate template into an artifact reference.
package certificate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tutorme/tutorchat/internal/apperr"
)

type Fields struct {
	StudentName string `json:"studentName"`
	TutorName   string `json:"tutorName"`
	Course      string `json:"course"`
	IssuedOn    string `json:"issuedOn"`
}

// NewFields builds the template fields for a certificate issued at now.
func NewFields(studentName, tutorName, course string, now time.Time) Fields {
	return Fields{
		StudentName: strings.TrimSpace(studentName),
		TutorName:   strings.TrimSpace(tutorName),
		Course:      strings.TrimSpace(course),
		IssuedOn:    now.Format("2006-01-02"),
	}
}

type Renderer interface {
	Render(ctx context.Context, fields Fields) (string, error)
}

type HTTPRenderer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPRenderer(baseURL string, timeout time.Duration) *HTTPRenderer {
	return &HTTPRenderer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type renderResponse struct {
	Artifact string `json:"artifact"`
	Error    string `json:"error"`
}

// Render posts fields to {baseURL}/render and returns the artifact reference.
func (r *HTTPRenderer) Render(ctx context.Context, fields Fields) (string, error) {
	const op = "certificate.render"
	payload, err := json.Marshal(fields)
	if err != nil {
		return "", apperr.E(apperr.Invalid, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/render", bytes.NewReader(payload))
	if err != nil {
		return "", apperr.E(apperr.TransportFailure, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", apperr.Transport(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", apperr.Transport(op, err)
	}
	var decoded renderResponse
	decodeErr := json.Unmarshal(body, &decoded)
	if resp.StatusCode != http.StatusOK {
		// Error bodies are optional, fall back to the status text.
		msg := decoded.Error
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", apperr.Errorf(apperr.TransportFailure, op, "renderer returned %d: %s", resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return "", apperr.Transport(op, fmt.Errorf("decode renderer response: %w", decodeErr))
	}
	if decoded.Artifact == "" {
		return "", apperr.Errorf(apperr.TransportFailure, op, "renderer returned no artifact")
	}
	return decoded.Artifact, nil
}

// Func adapts a function to Renderer.
type Func func(ctx context.Context, fields Fields) (string, error)

func (f Func) Render(ctx context.Context, fields Fields) (string, error) {
	return f(ctx, fields)
}

// Describe is a human-readable summary used in logs.
func (f Fields) Describe() string {
	return fmt.Sprintf("%s / %s / %s", f.StudentName, f.TutorName, f.Course)
}
