package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/kinyua-dev/cloudbot/internal/session"
)

// Plugin is one chat command. Run is invoked after the dispatcher resolved
// the command name; it must be safe for concurrent use across sessions.
type Plugin interface {
	Name() string
	Description() string
	Run(ctx context.Context, m *session.Message) error
}

// Registry holds the installed plugins and resolves command names and
// aliases to them. It satisfies the session dispatcher's runner contract.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	aliases map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
		aliases: make(map[string]string),
	}
}

// Register installs a plugin under its name and optional aliases. A later
// registration with the same name replaces the earlier one.
func (r *Registry) Register(p Plugin, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[p.Name()] = p
	for _, a := range aliases {
		r.aliases[a] = p.Name()
	}
}

// Execute runs the plugin registered for name, reporting whether the name
// was claimed. A panicking plugin is contained and surfaced as an error.
func (r *Registry) Execute(ctx context.Context, name string, m *session.Message) (claimed bool, err error) {
	r.mu.RLock()
	p, ok := r.plugins[name]
	if !ok {
		if target, aliased := r.aliases[name]; aliased {
			p, ok = r.plugins[target]
		}
	}
	r.mu.RUnlock()
	if !ok {
		return false, nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("plugin panicked", "plugin", p.Name(), "panic", rec)
			err = fmt.Errorf("plugin %s panicked: %v", p.Name(), rec)
		}
	}()

	if runErr := p.Run(ctx, m); runErr != nil {
		return true, fmt.Errorf("plugin %s: %w", p.Name(), runErr)
	}
	return true, nil
}

// Names returns the registered plugin names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for n := range r.plugins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
