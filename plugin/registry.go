package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/getanswer/credit"
	"github.com/xraph/getanswer/history"
	"github.com/xraph/getanswer/query"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// Hook implementations are discovered once at registration time.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                []OnInit
	onShutdown            []OnShutdown
	onCreditsDeducted     []OnCreditsDeducted
	onCreditsAdded        []OnCreditsAdded
	onCreditsRestored     []OnCreditsRestored
	onInsufficientCredits []OnInsufficientCredits
	onLedgerUnavailable   []OnLedgerUnavailable
	onQueryCompleted      []OnQueryCompleted
	onQueryFailed         []OnQueryFailed
	onPersistenceWarning  []OnPersistenceWarning
	onHistoryAppended     []OnHistoryAppended
	onHistoryCleared      []OnHistoryCleared
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnCreditsDeducted); ok {
		r.onCreditsDeducted = append(r.onCreditsDeducted, v)
	}
	if v, ok := p.(OnCreditsAdded); ok {
		r.onCreditsAdded = append(r.onCreditsAdded, v)
	}
	if v, ok := p.(OnCreditsRestored); ok {
		r.onCreditsRestored = append(r.onCreditsRestored, v)
	}
	if v, ok := p.(OnInsufficientCredits); ok {
		r.onInsufficientCredits = append(r.onInsufficientCredits, v)
	}
	if v, ok := p.(OnLedgerUnavailable); ok {
		r.onLedgerUnavailable = append(r.onLedgerUnavailable, v)
	}
	if v, ok := p.(OnQueryCompleted); ok {
		r.onQueryCompleted = append(r.onQueryCompleted, v)
	}
	if v, ok := p.(OnQueryFailed); ok {
		r.onQueryFailed = append(r.onQueryFailed, v)
	}
	if v, ok := p.(OnPersistenceWarning); ok {
		r.onPersistenceWarning = append(r.onPersistenceWarning, v)
	}
	if v, ok := p.(OnHistoryAppended); ok {
		r.onHistoryAppended = append(r.onHistoryAppended, v)
	}
	if v, ok := p.(OnHistoryCleared); ok {
		r.onHistoryCleared = append(r.onHistoryCleared, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

// implementedInterfaces lists the hook interfaces p implements, for logging.
func implementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	check := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	check(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	check(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	check(reflect.TypeOf((*OnCreditsDeducted)(nil)).Elem(), "OnCreditsDeducted")
	check(reflect.TypeOf((*OnCreditsAdded)(nil)).Elem(), "OnCreditsAdded")
	check(reflect.TypeOf((*OnCreditsRestored)(nil)).Elem(), "OnCreditsRestored")
	check(reflect.TypeOf((*OnInsufficientCredits)(nil)).Elem(), "OnInsufficientCredits")
	check(reflect.TypeOf((*OnLedgerUnavailable)(nil)).Elem(), "OnLedgerUnavailable")
	check(reflect.TypeOf((*OnQueryCompleted)(nil)).Elem(), "OnQueryCompleted")
	check(reflect.TypeOf((*OnQueryFailed)(nil)).Elem(), "OnQueryFailed")
	check(reflect.TypeOf((*OnPersistenceWarning)(nil)).Elem(), "OnPersistenceWarning")
	check(reflect.TypeOf((*OnHistoryAppended)(nil)).Elem(), "OnHistoryAppended")
	check(reflect.TypeOf((*OnHistoryCleared)(nil)).Elem(), "OnHistoryCleared")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, service interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnInit", func() error {
			return p.OnInit(ctx, service)
		})
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnShutdown", func() error {
			return p.OnShutdown(ctx)
		})
	}
}

// EmitCreditsDeducted calls OnCreditsDeducted for all plugins that implement it.
func (r *Registry) EmitCreditsDeducted(ctx context.Context, tx credit.Transaction, balance int64) {
	r.mu.RLock()
	plugins := r.onCreditsDeducted
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnCreditsDeducted", func() error {
			return p.OnCreditsDeducted(ctx, tx, balance)
		})
	}
}

// EmitCreditsAdded calls OnCreditsAdded for all plugins that implement it.
func (r *Registry) EmitCreditsAdded(ctx context.Context, tx credit.Transaction, balance int64) {
	r.mu.RLock()
	plugins := r.onCreditsAdded
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnCreditsAdded", func() error {
			return p.OnCreditsAdded(ctx, tx, balance)
		})
	}
}

// EmitCreditsRestored calls OnCreditsRestored for all plugins that implement it.
func (r *Registry) EmitCreditsRestored(ctx context.Context, original, restore credit.Transaction, balance int64) {
	r.mu.RLock()
	plugins := r.onCreditsRestored
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnCreditsRestored", func() error {
			return p.OnCreditsRestored(ctx, original, restore, balance)
		})
	}
}

// EmitInsufficientCredits calls OnInsufficientCredits for all plugins that implement it.
func (r *Registry) EmitInsufficientCredits(ctx context.Context, requested, balance int64) {
	r.mu.RLock()
	plugins := r.onInsufficientCredits
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnInsufficientCredits", func() error {
			return p.OnInsufficientCredits(ctx, requested, balance)
		})
	}
}

// EmitLedgerUnavailable calls OnLedgerUnavailable for all plugins that implement it.
func (r *Registry) EmitLedgerUnavailable(ctx context.Context, op string, err error) {
	r.mu.RLock()
	plugins := r.onLedgerUnavailable
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnLedgerUnavailable", func() error {
			return p.OnLedgerUnavailable(ctx, op, err)
		})
	}
}

// EmitQueryCompleted calls OnQueryCompleted for all plugins that implement it.
func (r *Registry) EmitQueryCompleted(ctx context.Context, run *query.Run, entry history.Entry) {
	r.mu.RLock()
	plugins := r.onQueryCompleted
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnQueryCompleted", func() error {
			return p.OnQueryCompleted(ctx, run, entry)
		})
	}
}

// EmitQueryFailed calls OnQueryFailed for all plugins that implement it.
func (r *Registry) EmitQueryFailed(ctx context.Context, run *query.Run, err error) {
	r.mu.RLock()
	plugins := r.onQueryFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnQueryFailed", func() error {
			return p.OnQueryFailed(ctx, run, err)
		})
	}
}

// EmitPersistenceWarning calls OnPersistenceWarning for all plugins that implement it.
func (r *Registry) EmitPersistenceWarning(ctx context.Context, run *query.Run, err error) {
	r.mu.RLock()
	plugins := r.onPersistenceWarning
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnPersistenceWarning", func() error {
			return p.OnPersistenceWarning(ctx, run, err)
		})
	}
}

// EmitHistoryAppended calls OnHistoryAppended for all plugins that implement it.
func (r *Registry) EmitHistoryAppended(ctx context.Context, entry history.Entry) {
	r.mu.RLock()
	plugins := r.onHistoryAppended
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnHistoryAppended", func() error {
			return p.OnHistoryAppended(ctx, entry)
		})
	}
}

// EmitHistoryCleared calls OnHistoryCleared for all plugins that implement it.
func (r *Registry) EmitHistoryCleared(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onHistoryCleared
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnHistoryCleared", func() error {
			return p.OnHistoryCleared(ctx)
		})
	}
}

// dispatch runs one hook and logs its failure. Hook errors never reach the
// caller of the service operation.
func (r *Registry) dispatch(ctx context.Context, name, hook string, fn func() error) {
	if err := r.callWithTimeout(ctx, name, fn); err != nil {
		r.logger.Warn("plugin "+hook+" failed",
			"plugin", name,
			"error", err,
		)
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the credit path.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
