// Package bpm implements the Workflow Bridge (spec.md §4.5): a thin REST
// client over an external BPM engine. No BPM/Camunda client library exists
// anywhere in the retrieval pack, so this is hand-written net/http +
// encoding/json, grounded on the teacher's own REST-wrapper idiom
// (internal/keycloak/uma_client.go: client-credentials token fetch,
// fmt.Errorf("...: %w", err) wrapping, idempotent delete that logs and
// swallows "not found").
package bpm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"instanceresolver/internal/logger"
	"instanceresolver/internal/resolvererr"
)

// Task is one entry of a BPM engine's task list.
type Task struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	TaskDefinitionKey string `json:"taskDefinitionKey"`
	ProcessInstanceID string `json:"processInstanceId"`
}

// StartInstruction is a BPM process-start directive, e.g. restart's
// {type: "startAfterActivity", activityId} (spec.md §4.7).
type StartInstruction struct {
	Type       string `json:"type"`
	ActivityID string `json:"activityId,omitempty"`
}

// Client is the Workflow Bridge contract (spec.md §4.5).
type Client interface {
	StartProcess(ctx context.Context, processKey, businessKey string, startInstructions []StartInstruction, variables map[string]any) error
	ListTasks(ctx context.Context, businessKey string) ([]Task, error)
	DeleteProcessInstance(ctx context.Context, businessKey string) error
	CompleteTask(ctx context.Context, taskID string, variables map[string]any) error
}

// HTTPClient is the reference Client implementation, a REST wrapper around
// a BPM engine exposing the conventional process-instance/task resources.
type HTTPClient struct {
	BaseURL    string
	HTTP       *http.Client
	authHeader func(ctx context.Context) (string, error)
}

// NewHTTPClient constructs a Client. authHeader supplies the bearer token
// for each call (client-credentials flow, mirroring the teacher's
// getClientToken); a nil authHeader sends unauthenticated requests.
func NewHTTPClient(baseURL string, httpClient *http.Client, authHeader func(ctx context.Context) (string, error)) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: httpClient, authHeader: authHeader}
}

type startProcessRequest struct {
	BusinessKey       string             `json:"businessKey"`
	Variables         map[string]any     `json:"variables,omitempty"`
	StartInstructions []StartInstruction `json:"startInstructions,omitempty"`
}

// StartProcess begins a BPM process keyed by entity id (spec.md §4.5).
func (c *HTTPClient) StartProcess(ctx context.Context, processKey, businessKey string, startInstructions []StartInstruction, variables map[string]any) error {
	body := startProcessRequest{
		BusinessKey:       businessKey,
		Variables:         marshalVariables(variables),
		StartInstructions: startInstructions,
	}

	url := fmt.Sprintf("%s/process-definition/key/%s/start", c.BaseURL, processKey)
	if err := c.do(ctx, http.MethodPost, url, body, nil); err != nil {
		return resolvererr.NewEngineError("bpm", "startProcess", err)
	}
	return nil
}

// ListTasks returns the task list for a business key, in engine order
// (spec.md §4.5).
func (c *HTTPClient) ListTasks(ctx context.Context, businessKey string) ([]Task, error) {
	url := fmt.Sprintf("%s/task?processInstanceBusinessKey=%s", c.BaseURL, businessKey)
	var tasks []Task
	if err := c.do(ctx, http.MethodGet, url, nil, &tasks); err != nil {
		return nil, resolvererr.NewEngineError("bpm", "listTasks", err)
	}
	return tasks, nil
}

// DeleteProcessInstance cancels the process instance matching businessKey.
// It is idempotent: an already-deleted or never-existing instance is
// logged and swallowed rather than surfaced as an error, matching the
// teacher's DeleteResource convention.
func (c *HTTPClient) DeleteProcessInstance(ctx context.Context, businessKey string) error {
	instances, err := c.findInstancesByBusinessKey(ctx, businessKey)
	if err != nil {
		return resolvererr.NewEngineError("bpm", "deleteProcessInstance", err)
	}
	if len(instances) == 0 {
		logger.GetLogger(ctx).Info("bpm: no process instance for business key, treating delete as no-op",
			zap.String("business_key", businessKey))
		return nil
	}

	for _, inst := range instances {
		url := fmt.Sprintf("%s/process-instance/%s", c.BaseURL, inst)
		if err := c.do(ctx, http.MethodDelete, url, nil, nil); err != nil {
			logger.GetLogger(ctx).Warn("bpm: delete process instance failed, continuing",
				zap.String("process_instance_id", inst), zap.Error(err))
		}
	}
	return nil
}

type processInstance struct {
	ID          string `json:"id"`
	BusinessKey string `json:"businessKey"`
}

// findInstancesByBusinessKey compares case-insensitively, per spec.md §6
// ("businessKey matching is case-insensitive").
func (c *HTTPClient) findInstancesByBusinessKey(ctx context.Context, businessKey string) ([]string, error) {
	url := fmt.Sprintf("%s/process-instance", c.BaseURL)
	var all []processInstance
	if err := c.do(ctx, http.MethodGet, url, nil, &all); err != nil {
		return nil, err
	}

	var matched []string
	for _, inst := range all {
		if strings.EqualFold(inst.BusinessKey, businessKey) {
			matched = append(matched, inst.ID)
		}
	}
	return matched, nil
}

type completeTaskRequest struct {
	Variables map[string]any `json:"variables,omitempty"`
}

// CompleteTask submits a task with variables marshaled per spec.md §4.5's
// string/number/null-only rule.
func (c *HTTPClient) CompleteTask(ctx context.Context, taskID string, variables map[string]any) error {
	body := completeTaskRequest{Variables: marshalVariables(variables)}
	url := fmt.Sprintf("%s/task/%s/complete", c.BaseURL, taskID)
	if err := c.do(ctx, http.MethodPost, url, body, nil); err != nil {
		return resolvererr.NewEngineError("bpm", "completeTask", err)
	}
	return nil
}

// marshalVariables drops any value that is not a string, a number, or nil
// (spec.md §4.5 "Variable marshaling rule").
func marshalVariables(vars map[string]any) map[string]any {
	if vars == nil {
		return nil
	}
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		switch v.(type) {
		case nil, string, int, int32, int64, float32, float64:
			out[k] = map[string]any{"value": v}
		}
	}
	return out
}

func (c *HTTPClient) do(ctx context.Context, method, url string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.authHeader != nil {
		token, err := c.authHeader(ctx)
		if err != nil {
			return fmt.Errorf("fetching auth token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from %s %s", resp.StatusCode, method, url)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
