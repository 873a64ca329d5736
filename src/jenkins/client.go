// Package jenkins provides a client for the parts of the Jenkins REST and
// workflow APIs needed to trigger and follow pipeline builds.
package jenkins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"pipeline-relay/src/sanitize"
)

const (
	// DefaultURL is used when no Jenkins URL is configured.
	DefaultURL = "http://localhost:8080"

	defaultTimeout = 30 * time.Second

	// maxErrorBody bounds the part of an error page kept on HTTPError.
	maxErrorBody = 512
)

// HTTPError is a non-success response from Jenkins.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Body)
}

// QueueItem is a queued build request.
type QueueItem struct {
	ID         int64       `json:"id"`
	Cancelled  bool        `json:"cancelled"`
	Why        string      `json:"why"`
	Executable *Executable `json:"executable"`
}

// Executable is the build a queue item turned into.
type Executable struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// BuildInfo is the subset of /job/{job}/{n}/api/json the relay uses.
type BuildInfo struct {
	Number   int    `json:"number"`
	Building bool   `json:"building"`
	Result   string `json:"result"`
	Duration int64  `json:"duration"`
	URL      string `json:"url"`
}

// Client is a Jenkins API client.
type Client struct {
	baseURL    string
	user       string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the Jenkins instance at baseURL. user and
// token are sent as basic auth when user is non-empty.
func NewClient(baseURL, user, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		user:    user,
		token:   token,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// BaseURL returns the Jenkins root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// JobPath converts a job name into its URL path. Folder jobs are written
// "folder/job" and become /job/folder/job/job.
func JobPath(name string) string {
	var b strings.Builder
	for _, part := range strings.Split(strings.Trim(name, "/"), "/") {
		b.WriteString("/job/")
		b.WriteString(url.PathEscape(part))
	}
	return b.String()
}

var queueLocationPattern = regexp.MustCompile(`/queue/item/(\d+)/?$`)

// ParseQueueLocation extracts the queue item id from the Location header
// Jenkins returns when a build is triggered.
func ParseQueueLocation(location string) (int64, error) {
	matches := queueLocationPattern.FindStringSubmatch(location)
	if matches == nil {
		return 0, fmt.Errorf("unexpected queue location: %q", location)
	}
	return strconv.ParseInt(matches[1], 10, 64)
}

// TriggerBuild queues a build of job and returns the queue item id. A
// non-empty params map triggers buildWithParameters.
func (c *Client) TriggerBuild(ctx context.Context, job string, params map[string]string) (int64, error) {
	endpoint := c.baseURL + JobPath(job) + "/build"
	if len(params) > 0 {
		endpoint = c.baseURL + JobPath(job) + "/buildWithParameters?" + encodeParams(params)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if err := c.applyCrumb(ctx, req); err != nil {
		return 0, err
	}

	resp, err := c.do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	// Jenkins answers 201, proxies sometimes 200; either carries Location.
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, newHTTPError(req, resp)
	}
	return ParseQueueLocation(resp.Header.Get("Location"))
}

// QueueItem fetches the state of a queued build request.
func (c *Client) QueueItem(ctx context.Context, id int64) (*QueueItem, error) {
	var item QueueItem
	if err := c.getJSON(ctx, fmt.Sprintf("%s/queue/item/%d/api/json", c.baseURL, id), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Describe fetches the raw workflow description of a build.
func (c *Client) Describe(ctx context.Context, job string, number int) ([]byte, error) {
	endpoint := fmt.Sprintf("%s%s/%d/wfapi/describe", c.baseURL, JobPath(job), number)
	resp, req, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newHTTPError(req, resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// BuildInfo fetches a build's summary.
func (c *Client) BuildInfo(ctx context.Context, job string, number int) (*BuildInfo, error) {
	var info BuildInfo
	endpoint := fmt.Sprintf("%s%s/%d/api/json", c.baseURL, JobPath(job), number)
	if err := c.getJSON(ctx, endpoint, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

type crumbResponse struct {
	Crumb             string `json:"crumb"`
	CrumbRequestField string `json:"crumbRequestField"`
}

// applyCrumb adds a CSRF crumb to req when the instance issues one.
// Instances with CSRF protection disabled answer 404.
func (c *Client) applyCrumb(ctx context.Context, req *http.Request) error {
	var crumb crumbResponse
	err := c.getJSON(ctx, c.baseURL+"/crumbIssuer/api/json", &crumb)
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to fetch crumb: %w", err)
	}
	if crumb.CrumbRequestField != "" {
		req.Header.Set(crumb.CrumbRequestField, crumb.Crumb)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, v any) error {
	resp, req, err := c.get(ctx, endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newHTTPError(req, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string) (*http.Response, *http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return nil, nil, err
	}
	return resp, req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.user != "" {
		req.SetBasicAuth(c.user, c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	return resp, nil
}

func newHTTPError(req *http.Request, resp *http.Response) *HTTPError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &HTTPError{
		Method:     req.Method,
		URL:        req.URL.Redacted(),
		StatusCode: resp.StatusCode,
		Body:       sanitize.Excerpt(string(body), maxErrorBody),
	}
}

func encodeParams(params map[string]string) string {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return values.Encode()
}
