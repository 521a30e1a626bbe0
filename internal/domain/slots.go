package domain

import "math/rand/v2"

// SlotPolicy chooses where a brand-new server goes when a service has no
// free slot left. Position must return an index in [0, n], n being the
// current number of slots.
type SlotPolicy interface {
	Position(n int) int
}

// RandomSlots inserts new servers at a uniformly random position.
//
// Always appending (or prepending) would make every service that grows
// across refreshes pile its new backends at the same end of the list. The
// price is that the position of a new server is not deterministic.
type RandomSlots struct{}

func (RandomSlots) Position(n int) int { return rand.IntN(n + 1) }

// AppendSlots always inserts new servers at the end.
type AppendSlots struct{}

func (AppendSlots) Position(n int) int { return n }

// SlotPolicyFunc adapts a plain function to SlotPolicy.
type SlotPolicyFunc func(n int) int

func (f SlotPolicyFunc) Position(n int) int { return f(n) }

// DefaultSlotPolicy is used by services built without an explicit policy.
var DefaultSlotPolicy SlotPolicy = RandomSlots{}
