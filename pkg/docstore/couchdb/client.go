package couchdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/Sternrassler/doc-cache/pkg/docstore"
	"github.com/Sternrassler/doc-cache/pkg/logging"
)

// Prometheus metrics for CouchDB requests.
var (
	couchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doccache_couchdb_requests_total",
		Help: "Total CouchDB requests by method and status",
	}, []string{"method", "status"})

	couchRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "doccache_couchdb_request_duration_seconds",
		Help:    "CouchDB request duration in seconds by method",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method"})
)

// maxErrorBody caps how much of an error response is kept in HTTPError.
const maxErrorBody = 4 << 10

type request struct {
	method string
	path   string
	query  url.Values
	body   []byte

	// noAuth skips credentials, used by the session login itself.
	noAuth bool
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// Store is a docstore.Store backed by a CouchDB database.
type Store struct {
	httpClient *http.Client
	baseURL    *url.URL
	cfg        Config
	breaker    *gobreaker.CircuitBreaker
	logger     zerolog.Logger

	sessionMu sync.Mutex
	session   *http.Cookie
}

// Option configures a Store.
type Option func(*Store)

// WithHTTPClient sets a custom HTTP client (for testing).
func WithHTTPClient(client *http.Client) Option {
	return func(s *Store) {
		s.httpClient = client
	}
}

// WithLogger sets the store logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logging.Component(logger, "couchdb")
	}
}

// New creates a CouchDB store. It does not contact the server; call
// EnsureDatabase or Ping to verify connectivity.
func New(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	base, err := cfg.BaseURL()
	if err != nil {
		return nil, err
	}

	defaults := DefaultConfig()
	if cfg.AuthType == "" {
		cfg.AuthType = AuthBasic
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxConflictRetries <= 0 {
		cfg.MaxConflictRetries = defaults.MaxConflictRetries
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaults.PageSize
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = defaults.Retry
	}

	s := &Store{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    base,
		cfg:        cfg,
		logger:     logging.NewLogger("couchdb"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.breaker = newBreaker("couchdb:"+cfg.Database, cfg.Breaker, s.logger)

	return s, nil
}

// Close releases idle connections.
func (s *Store) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// do executes a request with retry and circuit breaking. Transport failures
// and exhausted retries wrap docstore.ErrUnavailable.
func (s *Store) do(ctx context.Context, req request) (*response, error) {
	var resp *response
	err := retryWithBackoff(ctx, s.cfg.Retry, s.logger, func() error {
		r, err := s.execute(ctx, req)
		resp = r
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", docstore.ErrUnavailable, req.method, req.path, err)
	}
	return resp, nil
}

func (s *Store) execute(ctx context.Context, req request) (*response, error) {
	if s.breaker == nil {
		return s.roundTripAuth(ctx, req)
	}

	out, err := s.breaker.Execute(func() (interface{}, error) {
		return s.roundTripAuth(ctx, req)
	})
	if isBreakerRejection(err) {
		return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	resp, _ := out.(*response)
	return resp, err
}

// roundTripAuth performs the request, opening a new session once if the
// cookie has expired.
func (s *Store) roundTripAuth(ctx context.Context, req request) (*response, error) {
	if s.useCookie() && !req.noAuth && s.currentSession() == nil {
		if err := s.login(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := s.roundTrip(ctx, req)
	if err != nil || resp.status != http.StatusUnauthorized || !s.useCookie() || req.noAuth {
		return resp, err
	}

	s.logger.Debug().Msg("Session expired, re-authenticating")
	if err := s.login(ctx); err != nil {
		return nil, err
	}
	return s.roundTrip(ctx, req)
}

func (s *Store) roundTrip(ctx context.Context, req request) (*response, error) {
	u := *s.baseURL
	u.RawPath = req.path
	if path, err := url.PathUnescape(req.path); err == nil {
		u.Path = path
	}
	if req.query != nil {
		u.RawQuery = req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if !req.noAuth {
		s.authorize(httpReq)
	}

	start := time.Now()
	httpResp, err := s.httpClient.Do(httpReq)
	couchRequestDuration.WithLabelValues(req.method).Observe(time.Since(start).Seconds())
	if err != nil {
		couchRequestsTotal.WithLabelValues(req.method, "network_error").Inc()
		s.logger.Debug().Err(err).Str("method", req.method).Str("path", req.path).Msg("HTTP request failed")
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		couchRequestsTotal.WithLabelValues(req.method, "network_error").Inc()
		return nil, fmt.Errorf("read response body: %w", err)
	}
	couchRequestsTotal.WithLabelValues(req.method, strconv.Itoa(httpResp.StatusCode)).Inc()

	resp := &response{status: httpResp.StatusCode, header: httpResp.Header, body: data}

	if class := classifyStatus(resp.status); shouldRetry(class) {
		s.logger.Warn().
			Str("method", req.method).
			Str("path", req.path).
			Int("status", resp.status).
			Str("error_class", string(class)).
			Msg("CouchDB request error")
		return resp, newHTTPError(resp)
	}
	return resp, nil
}

func (s *Store) useCookie() bool {
	return s.cfg.Username != "" && s.cfg.AuthType == AuthCookie
}

func (s *Store) currentSession() *http.Cookie {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return s.session
}

func (s *Store) authorize(req *http.Request) {
	if s.cfg.Username == "" {
		return
	}
	if s.cfg.AuthType != AuthCookie {
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
		return
	}
	if c := s.currentSession(); c != nil {
		req.AddCookie(c)
	}
}

// login opens a cookie session via POST /_session.
func (s *Store) login(ctx context.Context) error {
	creds, err := json.Marshal(map[string]string{
		"name":     s.cfg.Username,
		"password": s.cfg.Password,
	})
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	resp, err := s.roundTrip(ctx, request{method: http.MethodPost, path: "/_session", body: creds, noAuth: true})
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	if resp.status != http.StatusOK {
		return fmt.Errorf("open session: %w", newHTTPError(resp))
	}

	for _, c := range (&http.Response{Header: resp.header}).Cookies() {
		if c.Name == "AuthSession" {
			s.sessionMu.Lock()
			s.session = &http.Cookie{Name: c.Name, Value: c.Value}
			s.sessionMu.Unlock()
			s.logger.Debug().Str("user", s.cfg.Username).Msg("Opened CouchDB session")
			return nil
		}
	}
	return fmt.Errorf("open session: no AuthSession cookie in response")
}

func newHTTPError(resp *response) *HTTPError {
	body := resp.body
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &HTTPError{
		StatusCode: resp.status,
		Class:      classifyStatus(resp.status),
		Body:       string(bytes.TrimSpace(body)),
	}
}

// docPath returns the escaped path of a document in the configured database.
func (s *Store) docPath(id string) string {
	return "/" + url.PathEscape(s.cfg.Database) + "/" + url.PathEscape(id)
}

func (s *Store) dbPath(suffix string) string {
	return "/" + url.PathEscape(s.cfg.Database) + suffix
}
