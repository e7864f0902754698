package activity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/macomeau/Artifacts-sub001/internal/cooldown"
	"github.com/macomeau/Artifacts-sub001/internal/executor"
	"github.com/macomeau/Artifacts-sub001/internal/model"
)

func init() {
	Register("gather", Gather)
	Register("fight", Fight)
}

// Gather harvests a resource at a coordinate: move there, then loop the
// gathering action. Arguments after the character: "(x,y)" and an optional
// count (0 or absent = until inventory full).
func Gather(ctx context.Context, deps *Deps, params Params) error {
	pos := Positional(params.Args)
	if len(pos) < 1 {
		return fmt.Errorf("gather needs a coordinate argument")
	}
	x, y, err := ParseCoord(pos[0])
	if err != nil {
		return err
	}
	count := 0
	if len(pos) > 1 {
		if count, err = ParseCount(pos[1]); err != nil {
			return err
		}
	}

	if err := prepare(ctx, deps, params); err != nil {
		return err
	}
	if err := moveTo(ctx, deps, params.Character, x, y); err != nil {
		return err
	}

	gathered := 0
	err = deps.Exec.Execute(ctx,
		func(ctx context.Context) (*model.ActionResult, error) {
			return deps.Client.Action(ctx, params.Character, "gathering", nil)
		},
		executor.Options{
			OnSuccess: func(result *model.ActionResult) error {
				gathered++
				deps.Logger.Info("Gathered",
					zap.String("character", params.Character),
					zap.Int("total", gathered))
				return nil
			},
			OnError:     executor.StandardPolicy(deps.Logger),
			MaxAttempts: count,
		})

	// A full inventory is the natural end of a harvest run.
	if err != nil && strings.Contains(err.Error(), "inventory is full") {
		deps.Logger.Info("Inventory full, harvest complete",
			zap.String("character", params.Character),
			zap.Int("gathered", gathered))
		return nil
	}
	return err
}

// Fight runs a combat loop at a coordinate. A dead character ends the run
// with an error; a missing monster ends it cleanly.
func Fight(ctx context.Context, deps *Deps, params Params) error {
	pos := Positional(params.Args)
	if len(pos) < 1 {
		return fmt.Errorf("fight needs a coordinate argument")
	}
	x, y, err := ParseCoord(pos[0])
	if err != nil {
		return err
	}
	count := 0
	if len(pos) > 1 {
		if count, err = ParseCount(pos[1]); err != nil {
			return err
		}
	}

	if err := prepare(ctx, deps, params); err != nil {
		return err
	}
	if err := moveTo(ctx, deps, params.Character, x, y); err != nil {
		return err
	}

	err = deps.Exec.Execute(ctx,
		func(ctx context.Context) (*model.ActionResult, error) {
			return deps.Client.Action(ctx, params.Character, "fight", nil)
		},
		executor.Options{
			OnError:     executor.StandardPolicy(deps.Logger),
			MaxAttempts: count,
		})

	if err != nil && strings.Contains(err.Error(), "Monster not found") {
		return nil
	}
	return err
}

// prepare waits out any pending cooldown. A recovered worker always
// re-reads character state; the previous incarnation may have acted moments
// before it died.
func prepare(ctx context.Context, deps *Deps, params Params) error {
	snap, err := deps.Client.Character(ctx, params.Character)
	if err != nil {
		return fmt.Errorf("failed to fetch character %s: %w", params.Character, err)
	}
	wait := cooldown.Wait(snap, time.Now())
	if wait > 0 {
		deps.Logger.Info("Waiting out cooldown",
			zap.String("character", params.Character),
			zap.Duration("wait", wait),
			zap.Bool("recovered", params.Recovered))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

// moveTo walks the character to a map cell; already being there is fine.
func moveTo(ctx context.Context, deps *Deps, character string, x, y int) error {
	result, err := deps.Client.Action(ctx, character, "move", map[string]int{"x": x, "y": y})
	if err != nil {
		if strings.Contains(err.Error(), "Character already at destination") {
			return nil
		}
		return err
	}
	if result.Cooldown != nil && result.Cooldown.TotalSeconds > 0 {
		wait := time.Duration(result.Cooldown.TotalSeconds*float64(time.Second)) + cooldown.Buffer
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
