// Package deployapi is a client for the JSON REST API of the deployment provider.
package deployapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/framer-cd/framer/domain"
)

const maxResponseSize = 1 << 20

// APIError is a non-2xx response of the deployment API
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("deployment api: %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("deployment api: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Config points the client at an API
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("deployment api url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid deployment api url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type deployment struct {
	ID    string `json:"id"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

func (d deployment) toDomain() domain.DeploymentState {
	return domain.DeploymentState{ID: d.ID, State: d.State, Error: d.Error}
}

type createProjectRequest struct {
	Name       string            `json:"name"`
	Repository repositoryPayload `json:"repository"`
}

type repositoryPayload struct {
	Name     string `json:"name"`
	CloneURL string `json:"clone_url"`
	Branch   string `json:"branch"`
}

func (c *Client) CreateProject(ctx context.Context, name string, repo domain.RepositoryHandle) (string, error) {
	var response struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/projects", createProjectRequest{
		Name:       name,
		Repository: repositoryPayload{Name: repo.Name, CloneURL: repo.CloneURL, Branch: repo.DefaultBranch},
	}, &response)
	if err != nil {
		return "", err
	}
	if response.ID == "" {
		return "", fmt.Errorf("deployment api returned no project id")
	}
	return response.ID, nil
}

func (c *Client) GetDeployment(ctx context.Context, deploymentID string) (domain.DeploymentState, error) {
	var response deployment
	if err := c.do(ctx, http.MethodGet, "/v1/deployments/"+url.PathEscape(deploymentID), nil, &response); err != nil {
		return domain.DeploymentState{}, err
	}
	return response.toDomain(), nil
}

// FindDeploymentByCommit returns the newest deployment of commitHash, or a zero
// state when the provider has not picked the commit up yet.
func (c *Client) FindDeploymentByCommit(ctx context.Context, projectID, commitHash string) (domain.DeploymentState, error) {
	var response struct {
		Deployments []deployment `json:"deployments"`
	}
	path := "/v1/projects/" + url.PathEscape(projectID) + "/deployments?" + url.Values{"sha": {commitHash}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &response); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return domain.DeploymentState{}, nil
		}
		return domain.DeploymentState{}, err
	}
	if len(response.Deployments) == 0 {
		return domain.DeploymentState{}, nil
	}
	return response.Deployments[0].toDomain(), nil
}

func (c *Client) TriggerDeployment(ctx context.Context, projectID, ref string) (domain.DeploymentState, error) {
	var response deployment
	body := map[string]string{"ref": ref}
	if err := c.do(ctx, http.MethodPost, "/v1/projects/"+url.PathEscape(projectID)+"/deployments", body, &response); err != nil {
		return domain.DeploymentState{}, err
	}
	return response.toDomain(), nil
}

func (c *Client) AssignDomain(ctx context.Context, projectID, name string) (string, error) {
	var response struct {
		URL string `json:"url"`
	}
	body := map[string]string{"name": name}
	if err := c.do(ctx, http.MethodPost, "/v1/projects/"+url.PathEscape(projectID)+"/domains", body, &response); err != nil {
		return "", err
	}
	if response.URL == "" {
		return "", fmt.Errorf("deployment api returned no domain url")
	}
	return response.URL, nil
}

// do sends a JSON request and decodes a JSON response into out. Network
// failures, 429 and 5xx responses are transient.
func (c *Client) do(ctx context.Context, method, path string, requestBody, out any) error {
	op := strings.ToLower(method) + " " + strings.SplitN(path, "?", 2)[0]

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.Transient(op, fmt.Errorf("request to %s %s failed: %w", method, path, err))
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return domain.Transient(op, fmt.Errorf("failed to read response body: %w", err))
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: response.StatusCode}
		if jsonErr := json.Unmarshal(responseBody, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(responseBody))
		}
		switch {
		case response.StatusCode == http.StatusTooManyRequests || response.StatusCode >= 500:
			return domain.Transient(op, apiErr)
		case response.StatusCode == http.StatusBadRequest || response.StatusCode == http.StatusUnprocessableEntity:
			return domain.NewError(domain.KindValidation, op, apiErr)
		default:
			return apiErr
		}
	}

	if out == nil || len(bytes.TrimSpace(responseBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("failed to decode response from %s %s: %w", method, path, err)
	}
	return nil
}
