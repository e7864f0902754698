package activity

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/macomeau/Artifacts-sub001/internal/cooldown"
)

func init() {
	Register("deposit", Deposit)
}

// Deposit walks the character to the bank and empties the inventory one
// slot at a time. The bank coordinate is the first positional argument.
func Deposit(ctx context.Context, deps *Deps, params Params) error {
	pos := Positional(params.Args)
	if len(pos) < 1 {
		return fmt.Errorf("deposit needs the bank coordinate")
	}
	x, y, err := ParseCoord(pos[0])
	if err != nil {
		return err
	}

	if err := prepare(ctx, deps, params); err != nil {
		return err
	}
	if err := moveTo(ctx, deps, params.Character, x, y); err != nil {
		return err
	}

	snap, err := deps.Client.Character(ctx, params.Character)
	if err != nil {
		return fmt.Errorf("failed to fetch character %s: %w", params.Character, err)
	}

	deposited := 0
	for _, slot := range snap.Inventory {
		if slot.Code == "" || slot.Quantity == 0 {
			continue
		}
		result, err := deps.Client.Action(ctx, params.Character, "bank/deposit", map[string]any{
			"code":     slot.Code,
			"quantity": slot.Quantity,
		})
		if err != nil {
			return fmt.Errorf("failed to deposit %s: %w", slot.Code, err)
		}
		deposited += slot.Quantity
		deps.Logger.Info("Deposited",
			zap.String("character", params.Character),
			zap.String("code", slot.Code),
			zap.Int("quantity", slot.Quantity))
		if result.Cooldown != nil && result.Cooldown.TotalSeconds > 0 {
			wait := time.Duration(result.Cooldown.TotalSeconds*float64(time.Second)) + cooldown.Buffer
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	deps.Logger.Info("Bank run complete",
		zap.String("character", params.Character),
		zap.Int("items", deposited))
	return nil
}
