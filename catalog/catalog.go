package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vllora/gateway/errkind"
)

// Source seeds the catalog from a remote source (the "sync" CLI surface,
// §6). Implementations typically wrap an HTTP client against the model
// catalog service.
type Source interface {
	// ListModels returns every ModelMetadata the source currently knows
	// about, for the default (non-project-scoped) catalog.
	ListModels(ctx context.Context) ([]*ModelMetadata, error)
}

// Manager resolves a user-facing model name to ModelMetadata, merging
// project-scoped overrides over the default catalog. It keeps the catalog
// warm in memory and refreshes it from Source on an interval.
//
// Manager does not reuse runtime/registry.Manager directly: the registry
// package's sync/cache/observability loop is grounded on a federated
// multi-registry model that does not fit a single-source catalog cleanly,
// but its TTL-refresh idiom is the direct ancestor of the loop below.
type Manager struct {
	mu       sync.RWMutex
	source   Source
	byName   map[string]*ModelMetadata          // default catalog
	overrides map[string]map[string]*ModelMetadata // project_id -> name -> metadata

	refreshInterval time.Duration
	cancel          context.CancelFunc
	wg              sync.WaitGroup
}

// NewManager constructs a Manager. refreshInterval of zero disables the
// background sync loop; callers must call Refresh explicitly.
func NewManager(source Source, refreshInterval time.Duration) *Manager {
	return &Manager{
		source:          source,
		byName:          make(map[string]*ModelMetadata),
		overrides:       make(map[string]map[string]*ModelMetadata),
		refreshInterval: refreshInterval,
	}
}

// Start begins the background refresh loop, if configured, performing an
// initial synchronous refresh first so the first request after startup
// does not race an empty catalog.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.Refresh(ctx); err != nil {
		return err
	}
	if m.refreshInterval <= 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.loop(ctx)
	return nil
}

// Stop halts the background refresh loop and waits for it to exit.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = m.Refresh(ctx)
		}
	}
}

// Refresh pulls the full catalog from Source and replaces the default
// catalog atomically. Project overrides are untouched.
func (m *Manager) Refresh(ctx context.Context) error {
	models, err := m.source.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("catalog: refresh: %w", err)
	}
	next := make(map[string]*ModelMetadata, len(models))
	for _, md := range models {
		next[md.Model] = md
	}
	m.mu.Lock()
	m.byName = next
	m.mu.Unlock()
	return nil
}

// PutOverride installs a project-scoped override for a model name. An
// override shadows the default catalog entry for that project only.
func (m *Manager) PutOverride(projectID string, md *ModelMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.overrides[projectID] == nil {
		m.overrides[projectID] = make(map[string]*ModelMetadata)
	}
	m.overrides[projectID][md.Model] = md
}

// Resolve looks up name, preferring a projectID-scoped override when one
// exists. Returns a *NotFoundError when
// neither the override nor the default catalog has an entry, or when the
// resolved entry's price is not yet valid (ValidFrom in the future).
func (m *Manager) Resolve(ctx context.Context, projectID, name string) (*ModelMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if projectID != "" {
		if byProject, ok := m.overrides[projectID]; ok {
			if md, ok := byProject[name]; ok && !md.IsDeleted {
				return checkValidity(md)
			}
		}
	}
	md, ok := m.byName[name]
	if !ok || md.IsDeleted {
		return nil, &NotFoundError{Name: name}
	}
	return checkValidity(md)
}

func checkValidity(md *ModelMetadata) (*ModelMetadata, error) {
	if md.Price.ValidFrom != nil && md.Price.ValidFrom.After(time.Now()) {
		return nil, &NotFoundError{Name: md.Model, reason: "price not yet valid"}
	}
	return md, nil
}

// List returns every non-deleted model in the default catalog, merged with
// projectID's overrides when projectID is non-empty. Order is unspecified.
func (m *Manager) List(projectID string) []*ModelMetadata {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*ModelMetadata, 0, len(m.byName))
	seen := make(map[string]bool)
	if projectID != "" {
		for name, md := range m.overrides[projectID] {
			if !md.IsDeleted {
				out = append(out, md)
				seen[name] = true
			}
		}
	}
	for name, md := range m.byName {
		if seen[name] || md.IsDeleted {
			continue
		}
		out = append(out, md)
	}
	return out
}

// NotFoundError indicates Resolve found no usable catalog entry.
type NotFoundError struct {
	Name   string
	reason string
}

func (e *NotFoundError) Error() string {
	if e.reason != "" {
		return fmt.Sprintf("catalog: model %q not found: %s", e.Name, e.reason)
	}
	return fmt.Sprintf("catalog: model %q not found", e.Name)
}

func (e *NotFoundError) Kind() errkind.Kind { return errkind.Validation }
