package seedcatalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/mireles/canonry/internal/domain/model"
)

// HTTPClient wraps http.Client with timeout
type HTTPClient struct {
	client  *http.Client
	timeout time.Duration
}

// newHTTPClient creates a new HTTP client with timeout
func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
		},
		timeout: timeout,
	}
}

// Get performs a GET request
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// Post performs a POST request with an optional JSON body
func (c *HTTPClient) Post(ctx context.Context, url string, body interface{}) (*http.Response, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		jsonData, err := marshalJSON(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

// marshalJSON marshals a struct to JSON
func marshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// unmarshalJSON unmarshals JSON to a struct
func unmarshalJSON(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// readResponseBody reads and closes the response body
func readResponseBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Wire mirrors for the service API responses. Only the fields the tool
// reads are declared.

type configurationResponse struct {
	ID       int64 `json:"id"`
	Version  int64 `json:"version"`
	IsActive bool  `json:"is_active"`
}

type runResponse struct {
	RunID       string `json:"run_id"`
	UnitsQueued int    `json:"units_queued"`
}

type statusResponse struct {
	Partitions map[string]string `json:"partitions"`
	Counts     map[string]int    `json:"counts"`
	Aggregated bool              `json:"aggregated"`
}

type readResponse struct {
	Status  string          `json:"status"`
	Source  string          `json:"source"`
	Payload json.RawMessage `json:"payload"`
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, config *Config) error {
	log.Println("🔍 Checking service health...")

	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + "/healthz"

	resp, err := client.Get(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer resp.Body.Close()

	// Accept any 200 response as healthy (the service returns Prometheus metrics)
	if resp.StatusCode != StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}

	log.Println("✅ Service is healthy")
	return nil
}

// createConfiguration stores and activates a five-category configuration
// for the verification sweep, returning its id.
func createConfiguration(ctx context.Context, client *HTTPClient, config *Config) (int64, error) {
	log.Printf("📝 Creating scoring configuration for family %q...", config.Family)

	body := map[string]interface{}{
		"name":   "seed verification " + time.Now().Format("20060102_150405"),
		"family": config.Family,
		"category_weights": map[string]float64{
			"ratings":    0.3,
			"popularity": 0.2,
			"awards":     0.2,
			"cultural":   0.15,
			"longevity":  0.15,
		},
		"normalization_method": "bayesian",
		"normalization_settings": map[string]interface{}{
			"prior_mean":  5.0,
			"min_samples": 250,
		},
	}

	resp, err := client.Post(ctx, config.BaseURL+"/configurations", body)
	if err != nil {
		return 0, fmt.Errorf("failed to create configuration: %w", err)
	}
	data, err := readResponseBody(resp)
	if err != nil {
		return 0, fmt.Errorf("failed to read configuration response: %w", err)
	}
	if resp.StatusCode != StatusCreated {
		return 0, fmt.Errorf("configuration create failed with status %d: %s", resp.StatusCode, string(data))
	}

	var created configurationResponse
	if err := unmarshalJSON(data, &created); err != nil {
		return 0, fmt.Errorf("failed to parse configuration response: %w", err)
	}

	activateURL := config.BaseURL + "/configurations/" + strconv.FormatInt(created.ID, 10) + "/activate"
	resp, err = client.Post(ctx, activateURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to activate configuration: %w", err)
	}
	data, err = readResponseBody(resp)
	if err != nil {
		return 0, fmt.Errorf("failed to read activation response: %w", err)
	}
	if resp.StatusCode != StatusOK {
		return 0, fmt.Errorf("configuration activation failed with status %d: %s", resp.StatusCode, string(data))
	}

	log.Printf("✅ Configuration %d active", created.ID)
	return created.ID, nil
}

// triggerRefresh starts a full refresh sweep and returns the unit count.
func triggerRefresh(ctx context.Context, client *HTTPClient, config *Config, configID int64, stats *Stats) error {
	log.Printf("🚀 Triggering refresh sweep for family %q...", config.Family)

	url := fmt.Sprintf("%s/refresh/%s?configuration=%d", config.BaseURL, config.Family, configID)
	resp, err := client.Post(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to trigger refresh: %w", err)
	}
	data, err := readResponseBody(resp)
	if err != nil {
		return fmt.Errorf("failed to read refresh response: %w", err)
	}
	if resp.StatusCode != StatusAccepted {
		return fmt.Errorf("refresh trigger failed with status %d: %s", resp.StatusCode, string(data))
	}

	var run runResponse
	if err := unmarshalJSON(data, &run); err != nil {
		return fmt.Errorf("failed to parse refresh response: %w", err)
	}

	stats.UnitsQueued = run.UnitsQueued
	log.Printf("✅ Sweep %s accepted with %d units", run.RunID, run.UnitsQueued)
	return nil
}

// waitForCompletion polls the refresh status until every unit reached a
// terminal state and the aggregation ran, or the context expires.
func waitForCompletion(ctx context.Context, client *HTTPClient, config *Config, configID int64) error {
	log.Println("⏳ Waiting for the sweep to complete...")

	url := fmt.Sprintf("%s/refresh/%s/status?configuration=%d", config.BaseURL, config.Family, configID)
	ticker := time.NewTicker(StatusPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("sweep did not complete in time: %w", ctx.Err())
		case <-ticker.C:
			resp, err := client.Get(ctx, url)
			if err != nil {
				return fmt.Errorf("failed to fetch refresh status: %w", err)
			}
			data, err := readResponseBody(resp)
			if err != nil {
				return fmt.Errorf("failed to read status response: %w", err)
			}
			if resp.StatusCode != StatusOK {
				return fmt.Errorf("status fetch failed with status %d: %s", resp.StatusCode, string(data))
			}

			var status statusResponse
			if err := unmarshalJSON(data, &status); err != nil {
				return fmt.Errorf("failed to parse status response: %w", err)
			}

			if config.Verbose {
				log.Printf("📊 Progress: completed=%d failed=%d queued=%d running=%d aggregated=%v",
					status.Counts["completed"], status.Counts["failed"],
					status.Counts["queued"], status.Counts["running"], status.Aggregated)
			}

			if status.Counts["queued"] == 0 && status.Counts["running"] == 0 && status.Aggregated {
				if failed := status.Counts["failed"]; failed > 0 {
					return fmt.Errorf("sweep finished with %d failed partitions", failed)
				}
				log.Println("✅ Sweep completed")
				return nil
			}
		}
	}
}

// fetchPartition reads one partition's cached ranking through the API.
func fetchPartition(ctx context.Context, client *HTTPClient, config *Config, partition string, configID int64) (model.RankedList, error) {
	url := fmt.Sprintf("%s/cache/%s/%s?configuration=%d", config.BaseURL, config.Family, partition, configID)

	resp, err := client.Get(ctx, url)
	if err != nil {
		return model.RankedList{}, fmt.Errorf("failed to fetch partition %s: %w", partition, err)
	}
	data, err := readResponseBody(resp)
	if err != nil {
		return model.RankedList{}, fmt.Errorf("failed to read partition %s: %w", partition, err)
	}
	if resp.StatusCode != StatusOK {
		return model.RankedList{}, fmt.Errorf("partition %s fetch failed with status %d: %s", partition, resp.StatusCode, string(data))
	}

	var envelope readResponse
	if err := unmarshalJSON(data, &envelope); err != nil {
		return model.RankedList{}, fmt.Errorf("failed to parse partition %s envelope: %w", partition, err)
	}
	if envelope.Status == "missing" {
		return model.RankedList{}, fmt.Errorf("partition %s has no cache entry after the sweep", partition)
	}

	var list model.RankedList
	if err := unmarshalJSON(envelope.Payload, &list); err != nil {
		return model.RankedList{}, fmt.Errorf("failed to parse partition %s ranking: %w", partition, err)
	}
	return list, nil
}

// fetchSummary reads the family's aggregation entry through the API.
func fetchSummary(ctx context.Context, client *HTTPClient, config *Config, configID int64) (model.FamilySummary, error) {
	url := fmt.Sprintf("%s/cache/%s/%s?configuration=%d", config.BaseURL, config.Family, model.SummaryPartition, configID)

	resp, err := client.Get(ctx, url)
	if err != nil {
		return model.FamilySummary{}, fmt.Errorf("failed to fetch summary: %w", err)
	}
	data, err := readResponseBody(resp)
	if err != nil {
		return model.FamilySummary{}, fmt.Errorf("failed to read summary: %w", err)
	}
	if resp.StatusCode != StatusOK {
		return model.FamilySummary{}, fmt.Errorf("summary fetch failed with status %d: %s", resp.StatusCode, string(data))
	}

	var envelope readResponse
	if err := unmarshalJSON(data, &envelope); err != nil {
		return model.FamilySummary{}, fmt.Errorf("failed to parse summary envelope: %w", err)
	}
	if envelope.Status == "missing" {
		return model.FamilySummary{}, fmt.Errorf("family summary has no cache entry after the sweep")
	}

	var summary model.FamilySummary
	if err := unmarshalJSON(envelope.Payload, &summary); err != nil {
		return model.FamilySummary{}, fmt.Errorf("failed to parse summary payload: %w", err)
	}
	return summary, nil
}
