// Package client talks to the pulse API server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/run-ci/pulse/pipeline"
	"github.com/run-ci/pulse/store"
	"github.com/sirupsen/logrus"
)

var logger *logrus.Entry

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

func init() {
	logger = logrus.WithField("package", "client")
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %v", e.Status)
	}
	return fmt.Sprintf("server returned %v: %v", e.Status, e.Message)
}

// Client is an API client. The zero value isn't usable, use New.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New returns a Client for the server at baseURL. token is sent as a
// bearer token when it isn't empty.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	logger := logger.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
	})

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)

	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	logger.Debug("sending request")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	buf, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	logger.WithField("status", resp.StatusCode).Debug("got response")

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}

		var msg map[string]string
		if json.Unmarshal(buf, &msg) == nil {
			apiErr.Message = msg["error"]
		}

		return apiErr
	}

	if out == nil || len(buf) == 0 {
		return nil
	}

	if s, ok := out.(*string); ok {
		*s = string(buf)
		return nil
	}

	return json.Unmarshal(buf, out)
}

// Health returns the server's health check answer.
func (c *Client) Health(ctx context.Context) (string, error) {
	var status string
	err := c.do(ctx, http.MethodGet, "/health", nil, &status)
	return status, err
}

// Login trades an email address and password for an API token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var resp map[string]string
	err := c.do(ctx, http.MethodPost, "/api/v1/auth", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return "", err
	}

	return resp["token"], nil
}

// ListExecutions returns every execution the server knows of.
func (c *Client) ListExecutions(ctx context.Context) ([]pipeline.Execution, error) {
	var execs []pipeline.Execution
	err := c.do(ctx, http.MethodGet, "/api/v1/executions", nil, &execs)
	return execs, err
}

// GetExecution returns the execution with the given ID.
func (c *Client) GetExecution(ctx context.Context, id uuid.UUID) (pipeline.Execution, error) {
	var e pipeline.Execution
	err := c.do(ctx, http.MethodGet, "/api/v1/executions/"+id.String(), nil, &e)
	return e, err
}

// RegisterRepo uploads a Pulsefile for a repository and returns the
// identifier the server filed it under.
func (c *Client) RegisterRepo(ctx context.Context, repo store.RegisteredRepo) (string, error) {
	var resp map[string]string
	err := c.do(ctx, http.MethodPost, "/api/v1/repos", repo, &resp)
	if err != nil {
		return "", err
	}

	return resp["repo_identifier"], nil
}

// UnregisterRepo removes the repository with the given "owner/name"
// identifier.
func (c *Client) UnregisterRepo(ctx context.Context, identifier string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/repos/"+escapeRepo(identifier), nil, nil)
}

// PipelineStatus returns up to limit of the repository's most recent
// executions.
func (c *Client) PipelineStatus(ctx context.Context, identifier string, limit int) ([]pipeline.Execution, error) {
	path := "/api/v1/pipelines/" + escapeRepo(identifier) + "/status"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var execs []pipeline.Execution
	err := c.do(ctx, http.MethodGet, path, nil, &execs)
	return execs, err
}

func escapeRepo(identifier string) string {
	parts := strings.SplitN(identifier, "/", 2)
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
