// Package connections manages user-registered custom fine-tuning endpoints.
package connections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bhasha/internal/config"
	"bhasha/internal/logging"
	"bhasha/internal/services"
	"bhasha/internal/session"
	"bhasha/internal/store"
)

// Auth header styles.
const (
	AuthBearer = "bearer"
	AuthAPIKey = "api_key"
	AuthNone   = "none"
)

// Data formats accepted by custom endpoints.
const (
	FormatJSONL = "jsonl"
	FormatJSON  = "json"
	FormatCSV   = "csv"
)

// Test outcomes stored on the connection.
const (
	TestSuccess = "success"
	TestFailed  = "failed"
)

// APIKeyHeader carries the key for the api_key auth style.
const APIKeyHeader = "X-API-Key"

// Service manages connections.
type Service struct {
	store      *store.Store
	httpClient *http.Client
	logger     *slog.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithHTTPClient overrides the client used for connection tests.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// NewService constructs a Service.
func NewService(cfg *config.Config, st *store.Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := 30 * time.Second
	if cfg != nil && cfg.ProviderTimeout() > 0 {
		timeout = cfg.ProviderTimeout()
	}
	s := &Service{
		store:      st,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(logging.String(logging.FieldComponent, "connections")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest registers an endpoint.
type CreateRequest struct {
	Name            string
	APIEndpoint     string
	StatusEndpoint  string
	AuthType        string
	APIKey          string
	DataFormat      string
	ModelIdentifier string
}

// Create validates and stores an active connection.
func (s *Service) Create(ctx context.Context, sess session.Session, req CreateRequest) (*store.Connection, error) {
	if err := sess.Require(); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, services.Wrap(services.ErrValidation, "connections", "create", "name is required", nil)
	}
	if err := ValidateURL(req.APIEndpoint); err != nil {
		return nil, err
	}
	if req.StatusEndpoint != "" {
		if err := ValidateURL(req.StatusEndpoint); err != nil {
			return nil, err
		}
	}
	auth := strings.ToLower(strings.TrimSpace(req.AuthType))
	switch auth {
	case "":
		auth = AuthNone
	case AuthBearer, AuthAPIKey, AuthNone:
	default:
		return nil, services.Wrap(services.ErrValidation, "connections", "create", fmt.Sprintf("unsupported auth type %q (want bearer, api_key or none)", req.AuthType), nil)
	}
	if auth != AuthNone && strings.TrimSpace(req.APIKey) == "" {
		return nil, services.Wrap(services.ErrValidation, "connections", "create", fmt.Sprintf("auth type %s requires an API key", auth), nil)
	}
	format := strings.ToLower(strings.TrimSpace(req.DataFormat))
	switch format {
	case "":
		format = FormatJSONL
	case FormatJSONL, FormatJSON, FormatCSV:
	default:
		return nil, services.Wrap(services.ErrValidation, "connections", "create", fmt.Sprintf("unsupported data format %q (want jsonl, json or csv)", req.DataFormat), nil)
	}

	conn := &store.Connection{
		UserID:          sess.UserID,
		Name:            name,
		APIEndpoint:     strings.TrimSpace(req.APIEndpoint),
		StatusEndpoint:  strings.TrimSpace(req.StatusEndpoint),
		AuthType:        auth,
		APIKey:          strings.TrimSpace(req.APIKey),
		DataFormat:      format,
		ModelIdentifier: strings.TrimSpace(req.ModelIdentifier),
	}
	if err := s.store.InsertConnection(ctx, conn); err != nil {
		return nil, services.Wrap(services.ErrTransient, "connections", "create", "persist connection", err)
	}
	return conn, nil
}

// ValidateURL accepts absolute http and https URLs.
func ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return services.Wrap(services.ErrValidation, "connections", "validate", fmt.Sprintf("invalid URL format: %q", raw), nil)
	}
	return nil
}

// List returns the session user's connections.
func (s *Service) List(ctx context.Context, sess session.Session) ([]store.Connection, error) {
	if err := sess.Require(); err != nil {
		return nil, err
	}
	out, err := s.store.ListConnections(ctx, sess.UserID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "connections", "list", "query connections", err)
	}
	return out, nil
}

// Get returns a connection owned by the session user.
func (s *Service) Get(ctx context.Context, sess session.Session, id string) (*store.Connection, error) {
	conn, err := Load(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	if err := sess.RequireOwner("connections", "get", conn.UserID); err != nil {
		return nil, err
	}
	return conn, nil
}

// Load returns a connection without an ownership check.
func Load(ctx context.Context, st *store.Store, id string) (*store.Connection, error) {
	conn, err := st.GetConnection(ctx, id)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "connections", "get", "load connection", err)
	}
	if conn == nil {
		return nil, services.Wrap(services.ErrNotFound, "connections", "get", fmt.Sprintf("LLM connection %s not found", id), nil)
	}
	return conn, nil
}

// SetActive enables or disables an owned connection.
func (s *Service) SetActive(ctx context.Context, sess session.Session, id string, active bool) error {
	conn, err := s.Get(ctx, sess, id)
	if err != nil {
		return err
	}
	if err := s.store.SetConnectionActive(ctx, conn.ID, active); err != nil {
		return services.Wrap(services.ErrTransient, "connections", "set_active", "persist connection", err)
	}
	return nil
}

// Delete removes an owned connection.
func (s *Service) Delete(ctx context.Context, sess session.Session, id string) error {
	conn, err := s.Get(ctx, sess, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteConnection(ctx, conn.ID); err != nil {
		return services.Wrap(services.ErrTransient, "connections", "delete", "delete connection", err)
	}
	return nil
}

// TestResult is the outcome of a reachability test.
type TestResult struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status"`
	TestStatus string `json:"testStatus"`
}

// Test issues an authenticated GET against the API endpoint and records the
// outcome. Transport failures are recorded as failed and returned.
func (s *Service) Test(ctx context.Context, sess session.Session, id string) (*TestResult, error) {
	conn, err := s.Get(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, conn.APIEndpoint, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "connections", "test", "build request", err)
	}
	ApplyAuth(req, conn)

	resp, reqErr := s.httpClient.Do(req)
	result := &TestResult{TestStatus: TestFailed}
	if reqErr == nil {
		resp.Body.Close()
		result.StatusCode = resp.StatusCode
		result.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
		if result.Success {
			result.TestStatus = TestSuccess
		}
	}
	if err := s.store.RecordConnectionTest(ctx, conn.ID, result.TestStatus); err != nil && !errors.Is(err, store.ErrRecordNotFound) {
		return nil, services.Wrap(services.ErrTransient, "connections", "test", "record test", err)
	}
	s.logger.Info("connection tested",
		logging.String("connection_id", conn.ID),
		logging.String("test_status", result.TestStatus),
		logging.Int("http_status", result.StatusCode),
	)
	if reqErr != nil {
		return result, services.Wrap(services.ErrProvider, "connections", "test", "connection test failed", reqErr)
	}
	return result, nil
}

// ApplyAuth sets the connection's auth header on req.
func ApplyAuth(req *http.Request, conn *store.Connection) {
	if conn == nil || conn.APIKey == "" {
		return
	}
	switch conn.AuthType {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+conn.APIKey)
	case AuthAPIKey:
		req.Header.Set(APIKeyHeader, conn.APIKey)
	}
}
