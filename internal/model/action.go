package model

import "time"

// Cooldown is the server-reported wait attached to a successful action.
type Cooldown struct {
	TotalSeconds float64    `json:"total_seconds"`
	Expiration   *time.Time `json:"expiration,omitempty"`
	Reason       string     `json:"reason,omitempty"`
}

// ActionResult is the payload of one remote action call.
type ActionResult struct {
	Cooldown  *Cooldown          `json:"cooldown,omitempty"`
	Character *CharacterSnapshot `json:"character,omitempty"`
	Details   map[string]any     `json:"details,omitempty"`
}

// CharacterSnapshot carries the cooldown-relevant slice of a character
// detail response. The server may report remaining seconds, a wall-clock
// expiration, or both.
type CharacterSnapshot struct {
	Name               string     `json:"name"`
	CooldownSeconds    float64    `json:"cooldown"`
	CooldownExpiration *time.Time `json:"cooldown_expiration,omitempty"`
	X                  int        `json:"x"`
	Y                  int        `json:"y"`
	HP                 int        `json:"hp"`
	MaxHP              int        `json:"max_hp"`
	InventoryMaxItems  int        `json:"inventory_max_items"`
	Inventory          []Slot     `json:"inventory,omitempty"`
}

// Slot is one inventory slot.
type Slot struct {
	Code     string `json:"code"`
	Quantity int    `json:"quantity"`
}

// InventoryCount returns the total number of items held.
func (c *CharacterSnapshot) InventoryCount() int {
	total := 0
	for _, s := range c.Inventory {
		total += s.Quantity
	}
	return total
}

// InventoryFull reports whether the character cannot hold more items.
func (c *CharacterSnapshot) InventoryFull() bool {
	return c.InventoryMaxItems > 0 && c.InventoryCount() >= c.InventoryMaxItems
}
