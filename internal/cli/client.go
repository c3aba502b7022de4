package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/edvin/cutover/internal/api/request"
	"github.com/edvin/cutover/internal/model"
)

// Client is a thin HTTP client for the deploy API. Operator credentials come
// from the environment; every request carries the X-API-Key header.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// NewClient creates a client for the deploy API at baseURL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// NewClientFromEnv builds a client from CUTOVER_API_URL and CUTOVER_API_KEY.
func NewClientFromEnv() (*Client, error) {
	baseURL := os.Getenv("CUTOVER_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8090"
	}
	apiKey := os.Getenv("CUTOVER_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("CUTOVER_API_KEY is not set")
	}
	return NewClient(baseURL, apiKey), nil
}

// StartDeployment submits a deployment plan and returns the recorded run.
func (c *Client) StartDeployment(ctx context.Context, plan model.DeploymentPlan) (*model.Deployment, error) {
	var deployment model.Deployment
	if err := c.do(ctx, http.MethodPost, "/api/v1/deployments", planToRequest(plan), &deployment); err != nil {
		return nil, err
	}
	return &deployment, nil
}

// GetDeployment fetches a deployment run by ID.
func (c *Client) GetDeployment(ctx context.Context, id string) (*model.Deployment, error) {
	var deployment model.Deployment
	if err := c.do(ctx, http.MethodGet, "/api/v1/deployments/"+id, nil, &deployment); err != nil {
		return nil, err
	}
	return &deployment, nil
}

// ListDeployments fetches the most recent deployment runs.
func (c *Client) ListDeployments(ctx context.Context) ([]model.Deployment, error) {
	var page struct {
		Items []model.Deployment `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/deployments", nil, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

// ListEvents fetches a deployment's phase transitions, oldest first.
func (c *Client) ListEvents(ctx context.Context, id string) ([]model.DeploymentEvent, error) {
	var events []model.DeploymentEvent
	if err := c.do(ctx, http.MethodGet, "/api/v1/deployments/"+id+"/events", nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Rollback signals a running deployment to roll back immediately.
func (c *Client) Rollback(ctx context.Context, id, reason string) error {
	body := request.RollbackDeployment{Reason: reason}
	return c.do(ctx, http.MethodPost, "/api/v1/deployments/"+id+"/rollback", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (HTTP %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// planToRequest converts a validated plan into the API request body. The API
// takes durations as strings, so they are rendered back to Go syntax.
func planToRequest(plan model.DeploymentPlan) request.StartDeployment {
	req := request.StartDeployment{
		ActiveGroup:             plan.ActiveGroup,
		StandbyGroup:            plan.StandbyGroup,
		ImageID:                 plan.ImageID,
		DesiredCapacity:         plan.DesiredCapacity,
		MinSize:                 plan.MinSize,
		MaxSize:                 plan.MaxSize,
		MainTargetGroupARN:      plan.MainTargetGroupARN,
		SyntheticTargetGroupARN: plan.SyntheticTargetGroupARN,
		RollbackWindow:          plan.RollbackWindow.String(),
		SteadyStateTimeout:      plan.SteadyStateTimeout.String(),
		Refresh: &request.RefreshSpec{
			MinHealthyPercentage: &plan.Refresh.MinHealthyPercentage,
			MaxHealthyPercentage: &plan.Refresh.MaxHealthyPercentage,
			InstanceWarmupSec:    &plan.Refresh.InstanceWarmupSec,
			SkipMatching:         &plan.Refresh.SkipMatching,
		},
		Synthetic: request.SyntheticSpec{
			Endpoint:    plan.Synthetic.Endpoint,
			HeaderName:  plan.Synthetic.HeaderName,
			HeaderValue: plan.Synthetic.HeaderValue,
			Paths:       plan.Synthetic.Paths,
			Attempts:    plan.Synthetic.Attempts,
			Concurrency: plan.Synthetic.Concurrency,
			Timeout:     plan.Synthetic.Timeout.String(),
		},
		Validation: &request.ValidationSpec{
			AlarmNames:          plan.Validation.AlarmNames,
			MaxUnhealthyTargets: plan.Validation.MaxUnhealthyTargets,
		},
	}
	return req
}
