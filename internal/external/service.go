package external

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"bhasha/internal/config"
	"bhasha/internal/importer"
	"bhasha/internal/logging"
	"bhasha/internal/services"
	"bhasha/internal/session"
	"bhasha/internal/store"
)

// MaxPayloadBytes bounds a single uploaded or fetched payload.
const MaxPayloadBytes = 32 << 20

// Service creates and tracks external datasets.
type Service struct {
	store      *store.Store
	httpClient *http.Client
	logger     *slog.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithHTTPClient overrides the client used for URL sources.
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
	timeout := 60 * time.Second
	if cfg != nil && cfg.ProviderTimeout() > 0 {
		timeout = cfg.ProviderTimeout()
	}
	s := &Service{
		store:      st,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(logging.String(logging.FieldComponent, "external")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest registers a raw import source. For upload sources Raw may be
// empty, in which case SourceIdentifier is read as a local file path. URL
// sources are fetched immediately. Kaggle sources store the reference only.
type CreateRequest struct {
	Name             string
	Source           string
	SourceIdentifier string
	Format           string
	Raw              string
}

// ParseSource validates a source name.
func ParseSource(value string) (store.ExternalSource, error) {
	switch s := store.ExternalSource(strings.ToLower(strings.TrimSpace(value))); s {
	case store.SourceUpload, store.SourceURL, store.SourceKaggle:
		return s, nil
	case "":
		return store.SourceUpload, nil
	default:
		return "", services.Wrap(services.ErrValidation, "external", "source", fmt.Sprintf("unsupported source %q (want upload, url or kaggle)", value), nil)
	}
}

// Create loads the payload for the source, detects its format and persists a
// pending external dataset.
func (s *Service) Create(ctx context.Context, sess session.Session, req CreateRequest) (*store.ExternalDataset, error) {
	if err := sess.Require(); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, services.Wrap(services.ErrValidation, "external", "create", "name is required", nil)
	}
	source, err := ParseSource(req.Source)
	if err != nil {
		return nil, err
	}
	identifier := strings.TrimSpace(req.SourceIdentifier)
	format, err := importer.ParseFormat(req.Format)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "external", "create", err.Error(), nil)
	}

	raw := req.Raw
	switch source {
	case store.SourceUpload:
		if raw == "" {
			if identifier == "" {
				return nil, services.Wrap(services.ErrValidation, "external", "create", "upload requires a file path or payload", nil)
			}
			raw, err = readFile(identifier)
			if err != nil {
				return nil, err
			}
		}
	case store.SourceURL:
		if raw == "" {
			raw, err = s.fetch(ctx, identifier)
			if err != nil {
				return nil, err
			}
		}
	case store.SourceKaggle:
		if identifier == "" {
			return nil, services.Wrap(services.ErrValidation, "external", "create", "kaggle source requires a dataset reference", nil)
		}
	}

	if raw != "" && format == "" {
		format = importer.DetectFormat(raw)
		if format == importer.FormatUnknown {
			return nil, services.Wrap(services.ErrValidation, "external", "create", "could not detect payload format; pass csv, json or jsonl", nil)
		}
	}

	ds := &store.ExternalDataset{
		UserID:           sess.UserID,
		Name:             name,
		Source:           source,
		SourceIdentifier: identifier,
		Format:           string(format),
		RawData:          raw,
		Status:           store.ExternalPending,
	}
	if err := s.store.InsertExternalDataset(ctx, ds); err != nil {
		return nil, services.Wrap(services.ErrTransient, "external", "create", "persist external dataset", err)
	}
	s.logger.Info("external dataset registered",
		logging.String("external_dataset_id", ds.ID),
		logging.String("source", string(source)),
		logging.String("format", ds.Format),
		logging.Int("payload_bytes", len(raw)),
	)
	return ds, nil
}

func readFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", services.Wrap(services.ErrNotFound, "external", "read", fmt.Sprintf("file %s not found", path), err)
		}
		return "", services.Wrap(services.ErrValidation, "external", "read", "stat upload", err)
	}
	if info.Size() > MaxPayloadBytes {
		return "", services.Wrap(services.ErrValidation, "external", "read", fmt.Sprintf("file exceeds %d bytes", MaxPayloadBytes), nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "external", "read", "read upload", err)
	}
	return string(data), nil
}

func (s *Service) fetch(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", services.Wrap(services.ErrValidation, "external", "fetch", fmt.Sprintf("invalid URL %q", rawURL), nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "external", "fetch", "build request", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrProvider, "external", "fetch", "download payload", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", services.Wrap(services.ErrProvider, "external", "fetch", fmt.Sprintf("download returned %s", resp.Status), nil)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxPayloadBytes+1))
	if err != nil {
		return "", services.Wrap(services.ErrProvider, "external", "fetch", "read payload", err)
	}
	if len(data) > MaxPayloadBytes {
		return "", services.Wrap(services.ErrValidation, "external", "fetch", fmt.Sprintf("payload exceeds %d bytes", MaxPayloadBytes), nil)
	}
	return string(data), nil
}

// List returns the session user's sources filtered by status and source.
func (s *Service) List(ctx context.Context, sess session.Session, status, source string) ([]store.ExternalDataset, error) {
	if err := sess.Require(); err != nil {
		return nil, err
	}
	out, err := s.store.ListExternalDatasets(ctx, sess.UserID, store.ExternalStatus(strings.ToLower(status)), store.ExternalSource(strings.ToLower(source)))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "external", "list", "query external datasets", err)
	}
	return out, nil
}

// Get returns a source owned by the session user.
func (s *Service) Get(ctx context.Context, sess session.Session, id string) (*store.ExternalDataset, error) {
	ds, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := sess.RequireOwner("external", "get", ds.UserID); err != nil {
		return nil, err
	}
	return ds, nil
}

// Load returns a source without an ownership check, for background work.
func (s *Service) Load(ctx context.Context, id string) (*store.ExternalDataset, error) {
	return s.load(ctx, id)
}

func (s *Service) load(ctx context.Context, id string) (*store.ExternalDataset, error) {
	ds, err := s.store.GetExternalDataset(ctx, id)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "external", "get", "load external dataset", err)
	}
	if ds == nil {
		return nil, services.Wrap(services.ErrNotFound, "external", "get", fmt.Sprintf("external dataset %s not found", id), nil)
	}
	return ds, nil
}

// UpdateProgress patches status and counts.
func (s *Service) UpdateProgress(ctx context.Context, id string, p store.ExternalProgress) error {
	if err := s.store.UpdateExternalProgress(ctx, id, p); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return services.Wrap(services.ErrNotFound, "external", "update", fmt.Sprintf("external dataset %s not found", id), err)
		}
		return services.Wrap(services.ErrTransient, "external", "update", "persist progress", err)
	}
	return nil
}

// Delete removes a source owned by the session user.
func (s *Service) Delete(ctx context.Context, sess session.Session, id string) error {
	ds, err := s.Get(ctx, sess, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteExternalDataset(ctx, ds.ID); err != nil {
		return services.Wrap(services.ErrTransient, "external", "delete", "delete external dataset", err)
	}
	return nil
}
