package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pawtrait/pawtrait-api/internal/pkg/errorhandler"
)

const (
	defaultTimeout = 30 * time.Second
	defaultModel   = "nano-banana-pro"
	maxBodyBytes   = 1 << 20
)

var (
	// ErrNotConfigured is returned when no API key is set.
	ErrNotConfigured = errors.New("kie: api key is not configured")
	// ErrRemote wraps every transport or provider-side failure.
	ErrRemote = errors.New("kie: remote error")
)

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client talks to the KIE.ai jobs API.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   model,
		http:    &http.Client{Timeout: timeout, Transport: transport},
	}
}

// Configured reports whether jobs can be submitted.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

// CreateTask submits a job and returns the provider task id.
func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(createTaskBody{
		Model: c.model,
		Input: createTaskArgs{
			Prompt:       req.Prompt,
			ImageInput:   []string{req.ImageURL},
			AspectRatio:  "1:1",
			Resolution:   "1K",
			OutputFormat: "png",
		},
		CallBackURL: req.CallbackURL,
	})
	if err != nil {
		return "", fmt.Errorf("kie: marshal create task: %w", err)
	}

	var out envelope[createTaskData]
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs/createTask", nil, body, &out); err != nil {
		return "", err
	}
	if out.Code != http.StatusOK {
		return "", fmt.Errorf("%w: create task code=%d msg=%s", ErrRemote, out.Code, out.Msg)
	}
	if out.Data.TaskID == "" {
		return "", fmt.Errorf("%w: empty taskId in response", ErrRemote)
	}

	log.Info().Str("kie_task_id", out.Data.TaskID).Str("model", c.model).Msg("KIE task created")
	return out.Data.TaskID, nil
}

// GetTaskStatus queries a job's current state.
func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (*Status, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	var out envelope[recordInfo]
	query := url.Values{"taskId": {taskID}}
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/recordInfo", query, nil, &out); err != nil {
		return nil, err
	}
	if out.Code != http.StatusOK {
		return nil, fmt.Errorf("%w: record info code=%d msg=%s", ErrRemote, out.Code, out.Msg)
	}

	status := parseRecord(out.Data)
	if status.TaskID == "" {
		status.TaskID = taskID
	}
	return &status, nil
}

// ParseCallback decodes a completion notification posted by the provider.
func ParseCallback(body []byte) (*Callback, error) {
	var in envelope[recordInfo]
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("kie: decode callback: %w", err)
	}
	return &Callback{Code: in.Code, Msg: in.Msg, Status: parseRecord(in.Data)}, nil
}

// parseRecord maps provider states onto waiting/success/fail. A success
// without a usable result URL is treated as still waiting.
func parseRecord(rec recordInfo) Status {
	status := Status{TaskID: rec.TaskID, State: StateWaiting}

	switch strings.ToLower(rec.State) {
	case "success":
		if u := firstResultURL(rec.ResultJSON); u != "" {
			status.State = StateSuccess
			status.ResultURL = u
		}
	case "fail", "failed":
		status.State = StateFail
		status.ErrorMessage = rec.FailMsg
		if status.ErrorMessage == "" {
			status.ErrorMessage = "Generation failed"
		}
	}
	return status
}

func firstResultURL(resultJSON string) string {
	if strings.TrimSpace(resultJSON) == "" {
		return ""
	}
	var res resultPayload
	if err := json.Unmarshal([]byte(resultJSON), &res); err != nil {
		return ""
	}
	for _, u := range res.ResultURLs {
		if u != "" {
			return u
		}
	}
	return ""
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("kie: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyRequestError(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrRemote, err)
	}

	if resp.StatusCode >= 300 {
		errorhandler.LogExternalServiceError(ctx, "kie", path, resp.StatusCode, nil, string(raw))
		return fmt.Errorf("%w: status=%d", ErrRemote, resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v (body=%s)", ErrRemote, err, truncateBody(raw))
	}
	return nil
}

func classifyRequestError(ctx context.Context, err error) error {
	if isTimeoutError(ctx, err) {
		return fmt.Errorf("%w: timeout: %v", ErrRemote, err)
	}
	return fmt.Errorf("%w: network: %v", ErrRemote, err)
}

func isTimeoutError(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
