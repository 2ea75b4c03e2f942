package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	DefaultTokenURL      = "https://iam.cloud.ibm.com/identity/token"
	DefaultDeploymentURL = "https://us-south.ml.cloud.ibm.com/ml/v4/deployments/b5ef2044-9f2a-47f3-b45c-ffda62b4312d/predictions?version=2021-05-01"
	// GrantType is the IAM grant used to trade an API key for a bearer token.
	GrantType = "urn:ibm:params:oauth:grant-type:apikey"
)

// TokenSource obtains a bearer token for the deployment endpoint.
type TokenSource interface {
	FetchToken(ctx context.Context) (string, error)
}

// Predictor returns the hosted model's verdict for one order record.
type Predictor interface {
	Predict(ctx context.Context, req Request) (string, error)
}

// Config configures a Client. The API key is passed in explicitly; the client
// never reads the environment.
type Config struct {
	APIKey        string
	TokenURL      string
	DeploymentURL string
	HTTPTimeout   time.Duration
	// RateLimit caps predictions per second. Zero disables limiting.
	RateLimit float64
}

// Client talks to IBM IAM and a Watson Machine Learning deployment.
type Client struct {
	httpClient    *http.Client
	apiKey        string
	tokenURL      string
	deploymentURL string
	limiter       *rate.Limiter
	logger        zerolog.Logger
}

var (
	_ TokenSource = (*Client)(nil)
	_ Predictor   = (*Client)(nil)
)

// NewClient returns a client with defaults filled in for empty fields.
func NewClient(cfg Config) *Client {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 60 * time.Second
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.DeploymentURL == "" {
		cfg.DeploymentURL = DefaultDeploymentURL
	}
	c := &Client{
		httpClient:    &http.Client{Timeout: cfg.HTTPTimeout},
		apiKey:        cfg.APIKey,
		tokenURL:      cfg.TokenURL,
		deploymentURL: cfg.DeploymentURL,
		logger:        log.With().Str("component", "predictor").Logger(),
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// FetchToken exchanges the API key for an IAM access token. Tokens are not
// cached; every call contacts the identity endpoint.
func (c *Client) FetchToken(ctx context.Context) (string, error) {
	if c.apiKey == "" {
		return "", &AuthError{Err: ErrMissingAPIKey}
	}
	form := url.Values{}
	form.Set("apikey", c.apiKey)
	form.Set("grant_type", GrantType)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &AuthError{APIError: parseAPIError(resp)}
	}
	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", &ResponseError{Stage: "token", Msg: "decode body", Err: err}
	}
	if tok.AccessToken == "" {
		return "", &ResponseError{Stage: "token", Msg: "access_token missing"}
	}
	c.logger.Debug().Int("expires_in", tok.ExpiresIn).Msg("token issued")
	return tok.AccessToken, nil
}

type inputData struct {
	Fields []string `json:"fields"`
	Values [][]any  `json:"values"`
}

type scoringRequest struct {
	InputData []inputData `json:"input_data"`
}

type scoringResponse struct {
	Predictions []struct {
		Fields []string            `json:"fields"`
		Values [][]json.RawMessage `json:"values"`
	} `json:"predictions"`
}

// Predict validates req, fetches a fresh token and asks the deployment for a
// verdict. Nothing is retried.
func (c *Client) Predict(ctx context.Context, req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("invalid request: %w", err)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
	}
	token, err := c.FetchToken(ctx)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(scoringRequest{InputData: []inputData{{
		Fields: Fields,
		Values: [][]any{req.Values()},
	}}})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.deploymentURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build prediction request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", classifyAPIError(parseAPIError(resp), resp)
	}
	var out scoringResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &ResponseError{Stage: "prediction", Msg: "decode body", Err: err}
	}
	if len(out.Predictions) == 0 || len(out.Predictions[0].Values) == 0 || len(out.Predictions[0].Values[0]) == 0 {
		return "", &ResponseError{Stage: "prediction", Msg: "predictions[0].values[0][0] missing"}
	}
	verdict, err := scalarString(out.Predictions[0].Values[0][0])
	if err != nil {
		return "", &ResponseError{Stage: "prediction", Msg: "verdict is not a scalar", Err: err}
	}
	c.logger.Debug().
		Str("request_id", extractRequestID(resp)).
		Dur("elapsed", time.Since(start)).
		Str("verdict", verdict).
		Msg("prediction received")
	return verdict, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err == nil {
		return resp, nil
	}
	if ctxErr := req.Context().Err(); ctxErr != nil {
		return nil, fmt.Errorf("http request: %w", ctxErr)
	}
	return nil, &UnreachableError{Host: req.URL.Host, Err: err}
}

// scalarString renders a JSON scalar: strings verbatim, numbers and booleans
// in their JSON form.
func scalarString(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case float64, bool:
		return strings.TrimSpace(string(raw)), nil
	case nil:
		return "", errors.New("null verdict")
	default:
		return "", fmt.Errorf("got %T", v)
	}
}

// parseAPIError reads an error body in any of the shapes IBM services use:
// IAM's errorCode/errorMessage, Watson ML's errors[] list with a trace id,
// or a generic error/message object.
func parseAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	var raw map[string]any
	_ = json.Unmarshal(body, &raw)
	apiErr := &APIError{StatusCode: resp.StatusCode, Raw: raw, RequestID: extractRequestID(resp)}
	str := func(m map[string]any, k string) string {
		s, _ := m[k].(string)
		return s
	}
	switch {
	case str(raw, "errorMessage") != "":
		apiErr.Code = str(raw, "errorCode")
		apiErr.Message = str(raw, "errorMessage")
	case raw["errors"] != nil:
		if list, ok := raw["errors"].([]any); ok && len(list) > 0 {
			if first, ok := list[0].(map[string]any); ok {
				apiErr.Code = str(first, "code")
				apiErr.Message = str(first, "message")
			}
		}
		if apiErr.RequestID == "" {
			apiErr.RequestID = str(raw, "trace")
		}
	default:
		if v, ok := raw["error"].(map[string]any); ok {
			apiErr.Code = str(v, "code")
			apiErr.Message = str(v, "message")
		} else {
			apiErr.Code = str(raw, "code")
			apiErr.Message = str(raw, "message")
			if apiErr.Message == "" {
				apiErr.Message = str(raw, "error")
			}
		}
	}
	if apiErr.Message == "" && len(raw) == 0 {
		apiErr.Message = strings.TrimSpace(string(body))
		if len(apiErr.Message) > 200 {
			apiErr.Message = apiErr.Message[:200] + "..."
		}
	}
	return apiErr
}

// classifyAPIError maps a deployment APIError to a typed error.
func classifyAPIError(apiErr *APIError, resp *http.Response) error {
	sc := apiErr.StatusCode
	switch {
	case sc == http.StatusUnauthorized || sc == http.StatusForbidden:
		return &AuthError{APIError: apiErr}
	case sc == http.StatusTooManyRequests:
		var ra time.Duration
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := parseRetryAfterSeconds(v); err == nil && secs > 0 {
				ra = time.Duration(secs) * time.Second
			}
		}
		return &RateLimitError{APIError: apiErr, RetryAfter: ra}
	case sc == http.StatusNotFound:
		return &DeploymentNotFoundError{APIError: apiErr}
	case sc == http.StatusBadRequest || sc == http.StatusUnprocessableEntity:
		return &BadRequestError{APIError: apiErr}
	case sc >= 500 && sc <= 599:
		return &ServerError{APIError: apiErr}
	}
	return apiErr
}

// parseRetryAfterSeconds interprets a Retry-After header as seconds or an HTTP date.
func parseRetryAfterSeconds(v string) (int, error) {
	if s, err := strconv.Atoi(v); err == nil {
		return s, nil
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return int(d.Seconds()), nil
	}
	return 0, fmt.Errorf("invalid Retry-After: %q", v)
}

// extractRequestID pulls a best-effort request ID from the headers IBM services set.
func extractRequestID(resp *http.Response) string {
	if resp == nil {
		return ""
	}
	for _, k := range []string{"Transaction-Id", "X-Global-Transaction-Id", "X-Request-Id", "X-Correlation-Id"} {
		if v := resp.Header.Get(k); v != "" {
			return v
		}
	}
	return ""
}
