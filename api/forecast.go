/*
forecast.go - Client for the external forecasting collaborator.

The AI forecasting service consumes a product snapshot plus two tuning
numbers and returns its answer in whatever shape it likes; this client
forwards the snapshot and relays the body verbatim, content type included.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ForecastClient posts snapshots to the forecasting service.
type ForecastClient struct {
	URL  string
	HTTP *http.Client
}

// NewForecastClient creates a client for the given endpoint URL.
func NewForecastClient(url string) *ForecastClient {
	return &ForecastClient{
		URL:  url,
		HTTP: &http.Client{Timeout: 120 * time.Second},
	}
}

// forecastRequest is the payload the collaborator accepts.
type forecastRequest struct {
	LeadTime int             `json:"lead_time"`
	Reserve  int             `json:"reserve"`
	Product  json.RawMessage `json:"product"`
}

// Predict forwards one snapshot and returns the raw response body and its
// content type. Non-2xx answers and transport failures are errors.
func (c *ForecastClient) Predict(ctx context.Context, snapshot []byte, leadTime, reserve int) ([]byte, string, error) {
	if c.URL == "" {
		return nil, "", fmt.Errorf("forecast: no service URL configured")
	}

	body, err := json.Marshal(forecastRequest{
		LeadTime: leadTime,
		Reserve:  reserve,
		Product:  snapshot,
	})
	if err != nil {
		return nil, "", fmt.Errorf("forecast: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("forecast: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("forecast: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("forecast: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("forecast: unexpected status %s", resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	return data, contentType, nil
}
