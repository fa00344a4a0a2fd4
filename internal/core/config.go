package core

import (
	"TimeMarket/internal/commitment"
	"TimeMarket/internal/event"
)

// Config bounds the per-slot stores and selects the commitment hash.
type Config struct {
	// RefundQueueCapacity bounds English auction refund queues. Sealed-bid
	// queues are sized to at least the slot's commit capacity.
	RefundQueueCapacity int
	AutoBidCapacity     int
	// MaxProxyRounds caps auto-bid resolution inside one bid_place.
	MaxProxyRounds      int
	IdempotencyCapacity int
	CommitHasher        commitment.Hasher
	// PayloadEncoder, when set, fills EventEnvelope.Payload so the event log
	// can be replayed.
	PayloadEncoder func(event.Event) ([]byte, error)
}

func DefaultConfig() Config {
	return Config{
		RefundQueueCapacity: 64,
		AutoBidCapacity:     32,
		MaxProxyRounds:      10_000,
		IdempotencyCapacity: 1_000_000,
		CommitHasher:        commitment.Default,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RefundQueueCapacity <= 0 {
		c.RefundQueueCapacity = d.RefundQueueCapacity
	}
	if c.AutoBidCapacity <= 0 {
		c.AutoBidCapacity = d.AutoBidCapacity
	}
	if c.MaxProxyRounds <= 0 {
		c.MaxProxyRounds = d.MaxProxyRounds
	}
	if c.IdempotencyCapacity <= 0 {
		c.IdempotencyCapacity = d.IdempotencyCapacity
	}
	if c.CommitHasher == nil {
		c.CommitHasher = d.CommitHasher
	}
	return c
}
