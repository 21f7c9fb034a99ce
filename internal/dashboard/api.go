package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"quotepulse-backend/internal/models"
)

// fetchActivities calls GET /activities/{documentId}?limit=N.
func (c *Consumer) fetchActivities(ctx context.Context, documentID string) (*models.ActivityListResponse, error) {
	endpoint := c.baseURL + "/activities/" + url.PathEscape(documentID) + "?limit=" + strconv.Itoa(c.cfg.BackfillLimit)
	var out models.ActivityListResponse
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// fetchViewers calls the hub's polling fallback.
func (c *Consumer) fetchViewers(ctx context.Context, documentID string) ([]models.Session, error) {
	endpoint := c.baseURL + "/ws/quote/" + url.PathEscape(documentID) + "/viewers"
	var out models.ViewersResponse
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	return out.Viewers, nil
}

func (c *Consumer) getJSON(ctx context.Context, endpoint string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr models.ErrorResponse
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("get %s: %d %s", endpoint, resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("get %s: unexpected status %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
