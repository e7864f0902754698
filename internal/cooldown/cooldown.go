// Package cooldown translates server cooldown signals into waits the action
// executor must honor. It is a pure leaf: no remote calls, no clock mutation.
package cooldown

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/macomeau/Artifacts-sub001/internal/model"
)

// Buffer absorbs clock skew between client and server. Added to every
// non-zero wait.
const Buffer = 500 * time.Millisecond

var (
	inCooldownRe = regexp.MustCompile(`Character in cooldown: ([0-9]+(?:\.[0-9]+)?) seconds? left`)
	genericRe    = regexp.MustCompile(`cooldown: ([0-9]+(?:\.[0-9]+)?)`)
	jsonObjectRe = regexp.MustCompile(`\{.*\}`)
)

// Wait computes the time to sleep before the next action for a character
// snapshot. A wall-clock expiration wins over a remaining-seconds figure.
func Wait(snapshot *model.CharacterSnapshot, now time.Time) time.Duration {
	if snapshot == nil {
		return 0
	}
	var wait time.Duration
	if snapshot.CooldownExpiration != nil {
		wait = snapshot.CooldownExpiration.Sub(now)
	} else if snapshot.CooldownSeconds > 0 {
		wait = time.Duration(snapshot.CooldownSeconds * float64(time.Second))
	}
	if wait <= 0 {
		return 0
	}
	return wait + Buffer
}

// ParseError extracts the remaining cooldown seconds from a server error
// message. Returns 0 when no pattern matches.
func ParseError(message string) float64 {
	if m := inCooldownRe.FindStringSubmatch(message); m != nil {
		if secs, err := strconv.ParseFloat(m[1], 64); err == nil {
			return secs
		}
	}
	if m := genericRe.FindStringSubmatch(message); m != nil {
		if secs, err := strconv.ParseFloat(m[1], 64); err == nil {
			return secs
		}
	}
	// Some transports wrap the error in a JSON envelope.
	if obj := jsonObjectRe.FindString(message); obj != "" {
		var payload struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
			Cooldown struct {
				TotalSeconds    float64 `json:"total_seconds"`
				RemainingSecond float64 `json:"remaining_seconds"`
			} `json:"cooldown"`
		}
		if err := json.Unmarshal([]byte(obj), &payload); err == nil {
			if payload.Cooldown.RemainingSecond > 0 {
				return payload.Cooldown.RemainingSecond
			}
			if payload.Cooldown.TotalSeconds > 0 {
				return payload.Cooldown.TotalSeconds
			}
			if payload.Error.Message != "" && payload.Error.Message != message {
				return ParseError(payload.Error.Message)
			}
		}
	}
	return 0
}

// FormatMessage renders the server's cooldown error text for n remaining
// seconds. ParseError(FormatMessage(n)) == n.
func FormatMessage(seconds float64) string {
	return fmt.Sprintf("Character in cooldown: %s seconds left",
		strconv.FormatFloat(seconds, 'f', -1, 64))
}

// IsCooldownError reports whether the message is a cooldown rejection.
func IsCooldownError(message string) bool {
	return strings.Contains(message, "Character in cooldown") ||
		genericRe.MatchString(message)
}

// IsRateLimited reports whether the message is a server rate-limit rejection.
func IsRateLimited(message string) bool {
	return strings.Contains(message, "429") ||
		strings.Contains(strings.ToLower(message), "rate limit")
}

// Terminal substrings end an activity loop: the condition will not clear by
// retrying the same action.
var terminalSubstrings = []string{
	"inventory is full",
	"Resource not found",
	"No resource on this map",
	"Monster not found",
	"character is dead",
	"Character already at destination",
}

// IsTerminal reports whether the message names a domain condition the
// executor must not retry.
func IsTerminal(message string) bool {
	for _, s := range terminalSubstrings {
		if strings.Contains(message, s) {
			return true
		}
	}
	return false
}
