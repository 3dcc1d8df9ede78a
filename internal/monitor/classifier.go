package monitor

import (
	"strings"
	"time"

	"solscope/internal/domain"
	"solscope/internal/event"
)

const instructionPrefix = "Program log: Instruction: "

// launch instruction names, matched exactly.
// CreateIdempotent (ATA creation inside a first buy) must not count as a launch.
var launchInstructions = map[string]bool{
	"InitializeMint2": true,
	"Create":          true,
}

var tradeInstructions = map[string]bool{
	"Buy":  true,
	"Sell": true,
}

const tradeEventMarker = "TradeEvent"

// Classification holds independent launch and trade checks
type Classification struct {
	Launch      bool
	Trade       bool
	Instruction string // first trade instruction seen, if any
}

// Classify inspects program log lines for launch and trade markers.
func Classify(logs []string) Classification {
	var c Classification
	for _, line := range logs {
		if name, ok := strings.CutPrefix(line, instructionPrefix); ok {
			name = strings.TrimSpace(name)
			if launchInstructions[name] {
				c.Launch = true
			}
			if tradeInstructions[name] {
				c.Trade = true
				if c.Instruction == "" {
					c.Instruction = name
				}
			}
			continue
		}
		if strings.Contains(line, tradeEventMarker) {
			c.Trade = true
		}
	}
	return c
}

// Events turns one log notification into tagged events.
// A transaction matching both checks yields a LaunchEvent and a TradeEvent.
func Events(ev domain.LogEvent, receivedAt time.Time) []event.Event {
	base := event.BaseEvent{Sig: ev.Signature, Slot: ev.Slot, ReceivedAt: receivedAt}

	if ev.Failed {
		return []event.Event{&event.IgnoredEvent{BaseEvent: base, Reason: "transaction failed"}}
	}

	c := Classify(ev.Logs)
	out := make([]event.Event, 0, 2)
	if c.Launch {
		out = append(out, &event.LaunchEvent{BaseEvent: base})
	}
	if c.Trade {
		out = append(out, &event.TradeEvent{BaseEvent: base, Instruction: c.Instruction})
	}
	if len(out) == 0 {
		out = append(out, &event.IgnoredEvent{BaseEvent: base, Reason: "no launch or trade marker"})
	}
	return out
}
