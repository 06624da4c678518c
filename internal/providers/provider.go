package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"bhasha/internal/dataset"
	"bhasha/internal/services"
	"bhasha/internal/store"
)

// Provider names.
const (
	NameOpenAI = "openai"
	NameCustom = "custom"
)

// SubmitRequest carries everything an adapter needs to start training.
type SubmitRequest struct {
	Job        *store.FinetuneJob
	Dataset    *store.Dataset
	Partitions *dataset.Partitions
}

// JobUpdate is the provider's view of a running job.
type JobUpdate struct {
	Status    store.JobStatus
	RawStatus string
	Loss      []float64
	Steps     int
	Epoch     int
	ModelID   string
	Error     string
	Results   json.RawMessage
}

// Provider is a fine-tuning backend.
type Provider interface {
	Name() string
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Poll(ctx context.Context, job *store.FinetuneJob) (*JobUpdate, error)
	Cancel(ctx context.Context, job *store.FinetuneJob) error
}

// Registry selects a Provider by name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry indexes providers by Name.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Name()] = p
		}
	}
	return r
}

// Get returns the named provider or a configuration error.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "providers", "lookup", fmt.Sprintf("unknown provider %q (known: %s)", name, strings.Join(r.Names(), ", ")), nil)
	}
	return p, nil
}

// Names lists registered providers alphabetically.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	completedStatuses = []string{"completed", "succeeded", "success", "finished", "done"}
	failedStatuses    = []string{"failed", "error"}
	cancelledStatuses = []string{"cancelled", "canceled"}
)

// MapStatus folds a provider status onto the canonical set. Unknown values
// mean the job is still running.
func MapStatus(raw string) store.JobStatus {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case contains(completedStatuses, value):
		return store.JobCompleted
	case contains(failedStatuses, value):
		return store.JobFailed
	case contains(cancelledStatuses, value):
		return store.JobCancelled
	default:
		return store.JobRunning
	}
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
