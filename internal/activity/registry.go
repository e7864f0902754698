// Package activity holds the worker-side activity loops. Each activity
// drives the action executor against the game client until its goal is met
// or a terminal condition ends it.
package activity

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/macomeau/Artifacts-sub001/internal/executor"
	"github.com/macomeau/Artifacts-sub001/internal/game"
)

// Deps carries what every activity needs.
type Deps struct {
	Client *game.Client
	Exec   *executor.Executor
	Logger *zap.Logger
}

// Params is the parsed worker invocation.
type Params struct {
	Character string
	Args      []string
	Recovered bool
}

// Func runs one activity loop to completion.
type Func func(ctx context.Context, deps *Deps, params Params) error

var registry = map[string]Func{}

// Register adds an activity under a name. Called from init functions.
func Register(name string, fn Func) {
	registry[name] = fn
}

// Lookup resolves an activity by name.
func Lookup(name string) (Func, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown activity: %s", name)
	}
	return fn, nil
}

// Names lists the registered activities, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
