package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"quotepulse-backend/internal/models"
)

// Deliverer performs durable activity writes.
type Deliverer interface {
	// Deliver is a regular request bound to ctx.
	Deliver(ctx context.Context, documentID string, req models.IngestRequest) error
	// Beacon is the unload-safe variant. The tracker calls it on a context
	// detached from its own lifetime.
	Beacon(ctx context.Context, documentID string, req models.IngestRequest) error
}

// HTTPDeliverer posts to POST {BaseURL}/activities/{documentId}.
type HTTPDeliverer struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPDeliverer(baseURL string, httpClient *http.Client) *HTTPDeliverer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPDeliverer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (d *HTTPDeliverer) Deliver(ctx context.Context, documentID string, req models.IngestRequest) error {
	return d.post(ctx, documentID, req, "application/json")
}

// Beacon sends the body as text/plain, the way browser beacons do, so the
// server must accept both content types.
func (d *HTTPDeliverer) Beacon(ctx context.Context, documentID string, req models.IngestRequest) error {
	return d.post(ctx, documentID, req, "text/plain;charset=UTF-8")
}

func (d *HTTPDeliverer) post(ctx context.Context, documentID string, req models.IngestRequest, contentType string) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode activity: %w", err)
	}

	endpoint := d.baseURL + "/activities/" + url.PathEscape(documentID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post activity: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("post activity: unexpected status %d", resp.StatusCode)
	}
	return nil
}
