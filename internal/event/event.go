package event

import "time"

// Kind identifies a classified log event
type Kind uint8

const (
	KindIgnored Kind = iota
	KindLaunch
	KindTrade
)

// String returns the lowercase kind name
func (k Kind) String() string {
	switch k {
	case KindLaunch:
		return "launch"
	case KindTrade:
		return "trade"
	default:
		return "ignored"
	}
}

// Event is a classified program log event.
// Implementations: *LaunchEvent, *TradeEvent, *IgnoredEvent.
type Event interface {
	GetKind() Kind
	GetSignature() string
	isEvent()
}

// BaseEvent holds fields shared by every classified event
type BaseEvent struct {
	Sig        string
	Slot       uint64
	ReceivedAt time.Time
}

func (b BaseEvent) GetSignature() string { return b.Sig }

// LaunchEvent: the logs contain a mint-initialization or create instruction
type LaunchEvent struct {
	BaseEvent
}

func (e *LaunchEvent) GetKind() Kind { return KindLaunch }
func (e *LaunchEvent) isEvent()      {}

// TradeEvent: the logs contain a buy, sell or trade-event marker
type TradeEvent struct {
	BaseEvent
	Instruction string // "Buy", "Sell" or empty when only TradeEvent was seen
}

func (e *TradeEvent) GetKind() Kind { return KindTrade }
func (e *TradeEvent) isEvent()      {}

// IgnoredEvent carries the reason a log event was not processed
type IgnoredEvent struct {
	BaseEvent
	Reason string
}

func (e *IgnoredEvent) GetKind() Kind { return KindIgnored }
func (e *IgnoredEvent) isEvent()      {}
