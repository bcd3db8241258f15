package harvia

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sync"
	"time"

	"sauna2hap/internal/core/domain"

	"go.uber.org/zap"
)

var wssEndpointRegexp = regexp.MustCompile(`^https://(.+)\.appsync-api\.(.+)/graphql$`)

// Client is the low-level cloud transport: endpoint discovery and
// authenticated GraphQL requests. Token lifecycle lives in Session; the
// retry-on-unauthorized policy lives in Control.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *zap.Logger

	mu        sync.Mutex
	endpoints map[string]endpointInfo
}

func NewClient(baseURL string, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		logger:     logger.With(zap.String("component", "cloud")),
	}
}

// Endpoint returns the discovered endpoint record for name, fetching the
// whole discovery set on first use.
func (c *Client) Endpoint(ctx context.Context, name string) (endpointInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.endpoints == nil {
		eps := make(map[string]endpointInfo, len(endpointNames))
		for _, n := range endpointNames {
			u := fmt.Sprintf("%s/%s/endpoint", c.baseURL, n)
			c.logger.Debug("fetching endpoint", zap.String("url", u))
			var info endpointInfo
			if err := c.getJSON(ctx, u, &info); err != nil {
				return endpointInfo{}, err
			}
			eps[n] = info
		}
		c.endpoints = eps
		c.logger.Info("cloud endpoints discovered")
	}
	info, ok := c.endpoints[name]
	if !ok {
		return endpointInfo{}, fmt.Errorf("%w: unknown endpoint %q", domain.ErrMalformed, name)
	}
	return info, nil
}

// Query posts a GraphQL document to the named endpoint and unmarshals the
// response's data object into out.
func (c *Client) Query(ctx context.Context, endpoint, token, query string, vars map[string]any, out any) error {
	info, err := c.Endpoint(ctx, endpoint)
	if err != nil {
		return err
	}

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, info.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("authorization", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformed, err)
	}
	if len(envelope.Errors) > 0 {
		return classifyGraphQLError(envelope.Errors[0])
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrMalformed, err)
		}
	}
	return nil
}

// WebsocketURL derives the realtime URL for the named endpoint: the
// appsync-api host becomes appsync-realtime-api and the auth header rides
// base64-encoded in the query string.
func (c *Client) WebsocketURL(ctx context.Context, endpoint, token string) (string, error) {
	u, _, err := c.websocketTarget(ctx, endpoint, token)
	return u, err
}

// websocketTarget returns the dial URL plus the appsync-api host needed in
// per-subscription authorization extensions.
func (c *Client) websocketTarget(ctx context.Context, endpoint, token string) (string, string, error) {
	info, err := c.Endpoint(ctx, endpoint)
	if err != nil {
		return "", "", err
	}
	m := wssEndpointRegexp.FindStringSubmatch(info.Endpoint)
	if m == nil {
		return "", "", fmt.Errorf("%w: endpoint %q is not an appsync URL", domain.ErrMalformed, info.Endpoint)
	}
	wssURL := fmt.Sprintf("wss://%s.appsync-realtime-api.%s/graphql", m[1], m[2])
	host := fmt.Sprintf("%s.appsync-api.%s", m[1], m[2])

	header, err := json.Marshal(map[string]string{
		"Authorization": token,
		"host":          host,
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", domain.ErrMalformed, err)
	}
	encoded := base64.StdEncoding.EncodeToString(header)
	return wssURL + "?header=" + url.QueryEscape(encoded) + "&payload=e30=", host, nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp.StatusCode); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformed, err)
	}
	return nil
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: http %d", domain.ErrUnauthorized, status)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: http %d", domain.ErrNotFound, status)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: http %d", domain.ErrRateLimited, status)
	case status >= 500:
		return fmt.Errorf("%w: http %d", domain.ErrTransient, status)
	default:
		return fmt.Errorf("%w: http %d", domain.ErrMalformed, status)
	}
}

func classifyGraphQLError(gqlErr graphQLError) error {
	switch gqlErr.ErrorType {
	case "Unauthorized", "UnauthorizedException":
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, gqlErr.Message)
	case "Throttled", "TooManyRequestsException":
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, gqlErr.Message)
	default:
		return fmt.Errorf("%w: %s %s", domain.ErrMalformed, gqlErr.ErrorType, gqlErr.Message)
	}
}
