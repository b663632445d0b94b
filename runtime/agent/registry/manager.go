// Package registry keeps the set of tools available to the agent, indexed by
// name and by category, and notifies watchers when the set changes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/helioai/lio-agent/runtime/agent/telemetry"
	"github.com/helioai/lio-agent/runtime/agent/tools"
)

type (
	// Manager owns registered tools. It is safe for concurrent use. Watchers
	// are invoked synchronously, outside the manager lock.
	Manager struct {
		mu         sync.RWMutex
		tools      map[string]tools.Tool
		categories map[string]map[string]tools.Tool
		watchers   map[int]Watcher
		nextWatch  int
		defaults   tools.ConfigPatch
		logger     telemetry.Logger
	}

	// Watcher observes registry changes.
	Watcher func(t tools.Tool, action Action)

	// Action is the kind of change reported to watchers.
	Action string

	// Validation is the outcome of Validate.
	Validation struct {
		Valid  bool     `json:"valid"`
		Errors []string `json:"errors,omitempty"`
	}

	// Summary aggregates registry contents.
	Summary struct {
		TotalTools    int            `json:"totalTools"`
		EnabledTools  int            `json:"enabledTools"`
		DisabledTools int            `json:"disabledTools"`
		Categories    map[string]int `json:"categories"`
		TotalCalls    int            `json:"totalCalls"`
		CachedResults int            `json:"cachedResults"`
	}

	// Option configures a Manager.
	Option func(*Manager)
)

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
	ActionUpdate Action = "update"
)

// ErrNotFound is returned when an operation names an unregistered tool.
var ErrNotFound = errors.New("tool not found")

// WithLogger sets the logger for the manager.
func WithLogger(l telemetry.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithDefaultConfig sets the config patch applied to every registered tool.
func WithDefaultConfig(p tools.ConfigPatch) Option {
	return func(m *Manager) {
		m.defaults = p
	}
}

// NewManager creates an empty manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		tools:      make(map[string]tools.Tool),
		categories: make(map[string]map[string]tools.Tool),
		watchers:   make(map[int]Watcher),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.logger == nil {
		m.logger = telemetry.NewNoopLogger()
	}
	return m
}

// Register adds t. The first registration of a name wins: registering a
// duplicate logs a warning and returns false.
func (m *Manager) Register(ctx context.Context, t tools.Tool) bool {
	md := t.Metadata()
	m.mu.Lock()
	if _, ok := m.tools[md.Name]; ok {
		m.mu.Unlock()
		m.logger.Warn(ctx, "tool already registered", "tool", md.Name)
		return false
	}
	t.UpdateConfig(m.defaults)
	m.tools[md.Name] = t
	bucket, ok := m.categories[md.Category]
	if !ok {
		bucket = make(map[string]tools.Tool)
		m.categories[md.Category] = bucket
	}
	bucket[md.Name] = t
	m.mu.Unlock()

	m.logger.Info(ctx, "tool registered", "tool", md.Name, "category", md.Category, "version", md.Version)
	m.notify(ctx, t, ActionAdd)
	return true
}

// Unregister removes the named tool and reports whether it was present.
func (m *Manager) Unregister(ctx context.Context, name string) bool {
	m.mu.Lock()
	t, ok := m.tools[name]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.tools, name)
	category := t.Metadata().Category
	if bucket, ok := m.categories[category]; ok {
		delete(bucket, name)
		if len(bucket) == 0 {
			delete(m.categories, category)
		}
	}
	m.mu.Unlock()

	m.logger.Info(ctx, "tool unregistered", "tool", name)
	m.notify(ctx, t, ActionRemove)
	return true
}

// Get returns the named tool.
func (m *Manager) Get(name string) (tools.Tool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tools[name]
	return t, ok
}

// ByCategory returns the tools in category sorted by name.
func (m *Manager) ByCategory(category string) []tools.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]tools.Tool, 0, len(m.categories[category]))
	for _, t := range m.categories[category] {
		out = append(out, t)
	}
	sortByName(out)
	return out
}

// ByTag returns the tools carrying tag sorted by name.
func (m *Manager) ByTag(tag string) []tools.Tool {
	return m.filter(func(t tools.Tool) bool {
		return slices.Contains(t.Metadata().Tags, tag)
	})
}

// All returns every registered tool sorted by name.
func (m *Manager) All() []tools.Tool {
	return m.filter(func(tools.Tool) bool { return true })
}

// Enabled returns the enabled tools sorted by name.
func (m *Manager) Enabled() []tools.Tool {
	return m.filter(func(t tools.Tool) bool { return t.Config().Enabled })
}

// Names returns the sorted names of registered tools.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.tools))
	for name := range m.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Categories returns the sorted non-empty categories.
func (m *Manager) Categories() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.categories))
	for c := range m.categories {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Kinds returns the tool name to kind table for registered tools.
func (m *Manager) Kinds() map[string]tools.Kind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]tools.Kind, len(m.tools))
	for name, t := range m.tools {
		out[name] = t.Kind()
	}
	return out
}

// UpdateConfig applies patch to the named tool and notifies watchers.
func (m *Manager) UpdateConfig(ctx context.Context, name string, patch tools.ConfigPatch) error {
	t, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	t.UpdateConfig(patch)
	m.logger.Info(ctx, "tool config updated", "tool", name)
	m.notify(ctx, t, ActionUpdate)
	return nil
}

// Enable enables the named tool.
func (m *Manager) Enable(ctx context.Context, name string) error {
	enabled := true
	return m.UpdateConfig(ctx, name, tools.ConfigPatch{Enabled: &enabled})
}

// Disable disables the named tool. It stays registered and retrievable.
func (m *Manager) Disable(ctx context.Context, name string) error {
	enabled := false
	return m.UpdateConfig(ctx, name, tools.ConfigPatch{Enabled: &enabled})
}

// Stats returns usage statistics keyed by tool name.
func (m *Manager) Stats() map[string]tools.Stats {
	all := m.All()
	out := make(map[string]tools.Stats, len(all))
	for _, t := range all {
		out[t.Metadata().Name] = t.Stats()
	}
	return out
}

// Summary aggregates counts across registered tools.
func (m *Manager) Summary() Summary {
	s := Summary{Categories: make(map[string]int)}
	for _, t := range m.All() {
		st := t.Stats()
		s.TotalTools++
		if st.Enabled {
			s.EnabledTools++
		} else {
			s.DisabledTools++
		}
		s.Categories[st.Category]++
		s.TotalCalls += st.CallCount
		s.CachedResults += st.CacheSize
	}
	return s
}

// ClearAllCaches drops the result cache of every tool.
func (m *Manager) ClearAllCaches(ctx context.Context) {
	all := m.All()
	for _, t := range all {
		t.ClearCache()
	}
	m.logger.Info(ctx, "tool caches cleared", "tools", len(all))
}

// Validate checks that t could be registered. It does not modify the
// manager.
func (m *Manager) Validate(t tools.Tool) Validation {
	var errs []string
	md := t.Metadata()
	if md.Name == "" {
		errs = append(errs, "tool name is required")
	}
	if md.Description == "" {
		errs = append(errs, "tool description is required")
	}
	if md.Version == "" {
		errs = append(errs, "tool version is required")
	}
	if md.Category == "" {
		errs = append(errs, "tool category is required")
	}
	if md.Name != "" {
		if _, dup := m.Get(md.Name); dup {
			errs = append(errs, fmt.Sprintf("tool %q is already registered", md.Name))
		}
	}
	if e, ok := t.(interface{ HasExecutor() bool }); ok && !e.HasExecutor() {
		errs = append(errs, "tool executor is required")
	}
	if _, err := tools.CompileSchema(t.Spec()); err != nil {
		errs = append(errs, fmt.Sprintf("invalid parameter schema: %v", err))
	}
	return Validation{Valid: len(errs) == 0, Errors: errs}
}

// AddWatcher registers w and returns a function removing it.
func (m *Manager) AddWatcher(w Watcher) (remove func()) {
	m.mu.Lock()
	id := m.nextWatch
	m.nextWatch++
	m.watchers[id] = w
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}

func (m *Manager) notify(ctx context.Context, t tools.Tool, action Action) {
	m.mu.RLock()
	ids := make([]int, 0, len(m.watchers))
	for id := range m.watchers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	watchers := make([]Watcher, 0, len(ids))
	for _, id := range ids {
		watchers = append(watchers, m.watchers[id])
	}
	m.mu.RUnlock()

	for _, w := range watchers {
		m.invoke(ctx, w, t, action)
	}
}

func (m *Manager) invoke(ctx context.Context, w Watcher, t tools.Tool, action Action) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error(ctx, "tool watcher panicked", "tool", t.Metadata().Name, "action", string(action), "panic", r)
		}
	}()
	w(t, action)
}

func (m *Manager) filter(keep func(tools.Tool) bool) []tools.Tool {
	m.mu.RLock()
	out := make([]tools.Tool, 0, len(m.tools))
	for _, t := range m.tools {
		if keep(t) {
			out = append(out, t)
		}
	}
	m.mu.RUnlock()
	sortByName(out)
	return out
}

func sortByName(ts []tools.Tool) {
	sort.Slice(ts, func(i, j int) bool {
		return ts[i].Metadata().Name < ts[j].Metadata().Name
	})
}
