package bot

import (
	"context"
	"sort"
	"sync"

	"validatorgate/platform"
)

// HandlerFunc handles one routed interaction.
type HandlerFunc func(ctx context.Context, req *Request) error

// Command pairs a slash command declaration with its handler.
type Command struct {
	Definition platform.ApplicationCommand
	Handler    HandlerFunc
}

// Registry is the set of slash commands, fixed at construction.
type Registry struct {
	commands map[string]Command

	mu  sync.RWMutex
	ids map[string]string
}

// NewRegistry builds a registry from static declarations. Later duplicates
// replace earlier ones.
func NewRegistry(cmds ...Command) *Registry {
	r := &Registry{commands: make(map[string]Command, len(cmds)), ids: make(map[string]string)}
	for _, cmd := range cmds {
		r.commands[cmd.Definition.Name] = cmd
	}
	return r
}

// Lookup returns the command registered under name.
func (r *Registry) Lookup(name string) (Command, bool) {
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Definitions returns the declarations in name order.
func (r *Registry) Definitions() []platform.ApplicationCommand {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]platform.ApplicationCommand, 0, len(names))
	for _, name := range names {
		out = append(out, r.commands[name].Definition)
	}
	return out
}

// Sync records the ids the platform assigned to deployed commands.
func (r *Registry) Sync(deployed []platform.ApplicationCommand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cmd := range deployed {
		if _, ok := r.commands[cmd.Name]; ok && cmd.ID != "" {
			r.ids[cmd.Name] = cmd.ID
		}
	}
}

// RemoteID returns the deployed id for name, if known.
func (r *Registry) RemoteID(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[name]
	return id, ok
}
