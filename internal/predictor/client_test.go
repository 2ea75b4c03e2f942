package predictor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

type ipv4Server struct {
	URL string
	srv *http.Server
	ln  net.Listener
}

func newIPv4Server(t *testing.T, handler http.Handler) *ipv4Server {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
			t.Skipf("skipping test: cannot open local listener (%v)", err)
		}
		t.Fatalf("listen tcp4: %v", err)
	}
	srv := &http.Server{Handler: handler}
	s := &ipv4Server{
		URL: "http://" + ln.Addr().String(),
		srv: srv,
		ln:  ln,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(fmt.Sprintf("test server serve: %v", err))
		}
	}()
	return s
}

func (s *ipv4Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}

const (
	tokenPath   = "/identity/token"
	predictPath = "/ml/v4/deployments/test/predictions"
)

// fakeIBM serves the identity and deployment endpoints. tokenStatus and
// predictStatus/predictBody control the answers; counters record calls.
type fakeIBM struct {
	tokenStatus   int
	tokenBody     string
	predictStatus int
	predictBody   string
	predictHeader http.Header

	tokenCalls   atomic.Int32
	predictCalls atomic.Int32

	mu          sync.Mutex
	lastForm    url.Values
	lastAuth    string
	lastPayload map[string]any
}

func (f *fakeIBM) seen() (url.Values, string, map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastForm, f.lastAuth, f.lastPayload
}

func (f *fakeIBM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method", http.StatusMethodNotAllowed)
		return
	}
	switch r.URL.Path {
	case tokenPath:
		n := f.tokenCalls.Add(1)
		_ = r.ParseForm()
		f.mu.Lock()
		f.lastForm = r.PostForm
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if f.tokenStatus != 0 && f.tokenStatus != http.StatusOK {
			w.WriteHeader(f.tokenStatus)
			_, _ = io.WriteString(w, `{"errorCode":"BXNIM0415E","errorMessage":"Provided API key could not be found."}`)
			return
		}
		body := f.tokenBody
		if body == "" {
			body = fmt.Sprintf(`{"access_token":"tok-%d","token_type":"Bearer","expires_in":3600}`, n)
		}
		_, _ = io.WriteString(w, body)
	case predictPath:
		f.predictCalls.Add(1)
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		f.mu.Lock()
		f.lastAuth = r.Header.Get("Authorization")
		f.lastPayload = payload
		f.mu.Unlock()
		for k, vals := range f.predictHeader {
			for _, v := range vals {
				w.Header().Add(k, v)
			}
		}
		st := f.predictStatus
		if st == 0 {
			st = http.StatusOK
		}
		w.WriteHeader(st)
		_, _ = io.WriteString(w, f.predictBody)
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, f *fakeIBM, key string) (*Client, func()) {
	t.Helper()
	srv := newIPv4Server(t, f)
	c := NewClient(Config{
		APIKey:        key,
		TokenURL:      srv.URL + tokenPath,
		DeploymentURL: srv.URL + predictPath + "?version=2021-05-01",
		HTTPTimeout:   2 * time.Second,
	})
	return c, srv.Close
}

func validRequest() Request {
	return Request{
		OrderID:         10001,
		CustomerID:      1234,
		Currency:        "USD",
		OrderDate:       time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC),
		Status:          "Completed",
		CountryCode:     "US",
		PaymentMethod:   "PayPal",
		FraudFlag:       "No",
		DeliveryDays:    3,
		CustomerAge:     42,
		ProductCategory: "Toys",
	}
}

func TestPredictReturnsVerdict(t *testing.T) {
	f := &fakeIBM{tokenBody: `{"access_token":"tok"}`, predictBody: `{"predictions":[{"fields":["prediction"],"values":[["low_risk"]]}]}`}
	c, done := newTestClient(t, f, "key-123")
	defer done()

	got, err := c.Predict(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if got != "low_risk" {
		t.Fatalf("verdict = %q, want low_risk", got)
	}
	form, auth, payload := f.seen()
	if form.Get("apikey") != "key-123" || form.Get("grant_type") != GrantType {
		t.Fatalf("unexpected token form: %v", form)
	}
	if auth != "Bearer tok" {
		t.Fatalf("Authorization = %q", auth)
	}

	input, ok := payload["input_data"].([]any)
	if !ok || len(input) != 1 {
		t.Fatalf("input_data = %#v", payload["input_data"])
	}
	block := input[0].(map[string]any)
	fields := block["fields"].([]any)
	if len(fields) != len(Fields) || fields[3] != "order_date" {
		t.Fatalf("fields = %v", fields)
	}
	row := block["values"].([]any)[0].([]any)
	if len(row) != 11 || row[3] != "2024-03-09" || row[0] != float64(10001) || row[6] != "PayPal" {
		t.Fatalf("values = %v", row)
	}
}

func TestPredictSendsDefaultFormRecord(t *testing.T) {
	f := &fakeIBM{predictBody: `{"predictions":[{"values":[["ok"]]}]}`}
	c, done := newTestClient(t, f, "k")
	defer done()

	if _, err := c.Predict(context.Background(), DefaultRequest(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))); err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if n := f.predictCalls.Load(); n != 1 {
		t.Fatalf("predict calls = %d, want 1", n)
	}
	_, _, payload := f.seen()
	row := payload["input_data"].([]any)[0].(map[string]any)["values"].([]any)[0].([]any)
	if row[5] != "" || row[3] != "2024-01-02" {
		t.Fatalf("values = %v", row)
	}
}

func TestPredictNumericVerdict(t *testing.T) {
	f := &fakeIBM{predictBody: `{"predictions":[{"values":[[1, [0.2, 0.8]]]}]}`}
	c, done := newTestClient(t, f, "k")
	defer done()
	got, err := c.Predict(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if got != "1" {
		t.Fatalf("verdict = %q, want 1", got)
	}
}

func TestTokenRejectedStopsPrediction(t *testing.T) {
	f := &fakeIBM{tokenStatus: http.StatusUnauthorized}
	c, done := newTestClient(t, f, "bad-key")
	defer done()

	got, err := c.Predict(context.Background(), validRequest())
	if err == nil {
		t.Fatalf("expected error, got verdict %q", got)
	}
	if got != "" {
		t.Fatalf("verdict = %q, want empty", got)
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %T: %v", err, err)
	}
	if authErr.StatusCode != http.StatusUnauthorized || authErr.Code != "BXNIM0415E" {
		t.Fatalf("unexpected auth error fields: %+v", authErr.APIError)
	}
	if !strings.Contains(err.Error(), "could not be found") {
		t.Fatalf("message not surfaced: %v", err)
	}
	if n := f.predictCalls.Load(); n != 0 {
		t.Fatalf("prediction endpoint called %d times", n)
	}
}

func TestMissingAPIKeySkipsNetwork(t *testing.T) {
	f := &fakeIBM{}
	c, done := newTestClient(t, f, "")
	defer done()

	_, err := c.Predict(context.Background(), validRequest())
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %T", err)
	}
	if f.tokenCalls.Load() != 0 || f.predictCalls.Load() != 0 {
		t.Fatalf("network contacted: token=%d predict=%d", f.tokenCalls.Load(), f.predictCalls.Load())
	}
}

func TestFreshTokenPerPrediction(t *testing.T) {
	f := &fakeIBM{predictBody: `{"predictions":[{"values":[["ok"]]}]}`}
	c, done := newTestClient(t, f, "k")
	defer done()

	for i := 1; i <= 3; i++ {
		if _, err := c.Predict(context.Background(), validRequest()); err != nil {
			t.Fatalf("Predict #%d: %v", i, err)
		}
		_, auth, _ := f.seen()
		if want := fmt.Sprintf("Bearer tok-%d", i); auth != want {
			t.Fatalf("call %d used %q, want %q", i, auth, want)
		}
	}
	if f.tokenCalls.Load() != 3 {
		t.Fatalf("token calls = %d, want 3", f.tokenCalls.Load())
	}
}

func TestPredictErrorClassification(t *testing.T) {
	wmlErr := `{"trace":"trace-abc","errors":[{"code":"deployment_not_found","message":"Deployment with id 'x' does not exist"}]}`
	cases := []struct {
		name   string
		status int
		header http.Header
		check  func(error) bool
	}{
		{"server", http.StatusInternalServerError, nil, func(err error) bool { var e *ServerError; return errors.As(err, &e) }},
		{"bad request", http.StatusBadRequest, nil, func(err error) bool { var e *BadRequestError; return errors.As(err, &e) }},
		{"not found", http.StatusNotFound, nil, func(err error) bool { var e *DeploymentNotFoundError; return errors.As(err, &e) }},
		{"forbidden", http.StatusForbidden, nil, func(err error) bool { var e *AuthError; return errors.As(err, &e) }},
		{"rate limited", http.StatusTooManyRequests, http.Header{"Retry-After": {"7"}}, func(err error) bool {
			var e *RateLimitError
			return errors.As(err, &e) && e.RetryAfter == 7*time.Second
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeIBM{predictStatus: tc.status, predictBody: wmlErr, predictHeader: tc.header}
			c, done := newTestClient(t, f, "k")
			defer done()
			got, err := c.Predict(context.Background(), validRequest())
			if err == nil || got != "" {
				t.Fatalf("expected error, got %q, %v", got, err)
			}
			if !tc.check(err) {
				t.Fatalf("unexpected error type %T: %v", err, err)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.RequestID != "trace-abc" || apiErr.Code != "deployment_not_found" {
				t.Fatalf("APIError not populated: %+v", apiErr)
			}
			if f.predictCalls.Load() != 1 {
				t.Fatalf("prediction retried: %d calls", f.predictCalls.Load())
			}
		})
	}
}

func TestErrorIncludesTransactionID(t *testing.T) {
	f := &fakeIBM{
		predictStatus: http.StatusBadGateway,
		predictBody:   "upstream down",
		predictHeader: http.Header{"Transaction-Id": {"txn-42"}},
	}
	c, done := newTestClient(t, f, "k")
	defer done()
	_, err := c.Predict(context.Background(), validRequest())
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "txn-42") || !strings.Contains(err.Error(), "upstream down") {
		t.Fatalf("expected transaction id and body in error, got: %v", err)
	}
}

func TestMalformedPredictionBody(t *testing.T) {
	for name, body := range map[string]string{
		"not json":       "<html>oops</html>",
		"no predictions": `{"predictions":[]}`,
		"empty values":   `{"predictions":[{"values":[]}]}`,
		"empty row":      `{"predictions":[{"values":[[]]}]}`,
		"null verdict":   `{"predictions":[{"values":[[null]]}]}`,
		"object verdict": `{"predictions":[{"values":[[{"a":1}]]}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			f := &fakeIBM{predictBody: body}
			c, done := newTestClient(t, f, "k")
			defer done()
			_, err := c.Predict(context.Background(), validRequest())
			var respErr *ResponseError
			if !errors.As(err, &respErr) || respErr.Stage != "prediction" {
				t.Fatalf("expected prediction *ResponseError, got %T: %v", err, err)
			}
		})
	}
}

func TestTokenBodyWithoutAccessToken(t *testing.T) {
	f := &fakeIBM{tokenBody: `{"token_type":"Bearer"}`}
	c, done := newTestClient(t, f, "k")
	defer done()
	_, err := c.FetchToken(context.Background())
	var respErr *ResponseError
	if !errors.As(err, &respErr) || respErr.Stage != "token" {
		t.Fatalf("expected token *ResponseError, got %T: %v", err, err)
	}
}

func TestInvalidRequestNotSent(t *testing.T) {
	f := &fakeIBM{}
	c, done := newTestClient(t, f, "k")
	defer done()
	req := validRequest()
	req.CustomerAge = 12
	_, err := c.Predict(context.Background(), req)
	var fe *FieldError
	if !errors.As(err, &fe) || fe.Field != "customer_age" {
		t.Fatalf("expected customer_age FieldError, got %v", err)
	}
	if f.tokenCalls.Load() != 0 {
		t.Fatalf("token endpoint contacted for invalid request")
	}
}

func TestUnreachableEndpoint(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: cannot open local listener (%v)", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	c := NewClient(Config{APIKey: "k", TokenURL: "http://" + addr + tokenPath, HTTPTimeout: time.Second})
	_, err = c.FetchToken(context.Background())
	var ue *UnreachableError
	if !errors.As(err, &ue) || ue.Host != addr {
		t.Fatalf("expected *UnreachableError for %s, got %T: %v", addr, err, err)
	}
}

func TestRateLimiterHonorsContext(t *testing.T) {
	f := &fakeIBM{predictBody: `{"predictions":[{"values":[["ok"]]}]}`}
	srv := newIPv4Server(t, f)
	defer srv.Close()
	c := NewClient(Config{
		APIKey:        "k",
		TokenURL:      srv.URL + tokenPath,
		DeploymentURL: srv.URL + predictPath,
		HTTPTimeout:   2 * time.Second,
		RateLimit:     0.01,
	})
	if _, err := c.Predict(context.Background(), validRequest()); err != nil {
		t.Fatalf("first Predict: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Predict(ctx, validRequest())
	if err == nil || !strings.Contains(err.Error(), "rate limiter") {
		t.Fatalf("expected rate limiter error, got %v", err)
	}
	if f.tokenCalls.Load() != 1 {
		t.Fatalf("token calls = %d, want 1", f.tokenCalls.Load())
	}
}
