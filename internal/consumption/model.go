// Package consumption simulates the usage counters of a coffee machine.
package consumption

import (
	"fmt"
	"math/rand"
)

// DeviceState is the cumulative usage of one machine.
// Both counters only ever grow.
type DeviceState struct {
	TotalCups       int64 `json:"total_cups"`
	TotalBeansUsage int64 `json:"total_beans_usage"`
}

// MaxBeansPerCup bounds BeansMax so the range width and the running
// total stay far from int64 overflow.
const MaxBeansPerCup = 1_000_000

type Params struct {
	// BrewProbability is the chance that a tick brews one cup.
	BrewProbability float64
	BeansMin        int64
	BeansMax        int64
}

func DefaultParams() Params {
	return Params{
		BrewProbability: 0.7,
		BeansMin:        10,
		BeansMax:        20,
	}
}

func (p Params) Validate() error {
	if p.BrewProbability < 0 || p.BrewProbability > 1 {
		return fmt.Errorf("brew probability %v out of [0,1]", p.BrewProbability)
	}
	if p.BeansMin < 0 {
		return fmt.Errorf("beans min %d is negative", p.BeansMin)
	}
	if p.BeansMax > MaxBeansPerCup {
		return fmt.Errorf("beans max %d exceeds %d", p.BeansMax, MaxBeansPerCup)
	}
	if p.BeansMax < p.BeansMin {
		return fmt.Errorf("beans range [%d,%d] is empty", p.BeansMin, p.BeansMax)
	}
	return nil
}

// Model computes the next reading from the previous one. It is not safe
// for concurrent use because it owns its random source.
type Model struct {
	p   Params
	rng *rand.Rand
}

func New(p Params, rng *rand.Rand) (*Model, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("consumption: nil random source")
	}
	return &Model{p: p, rng: rng}, nil
}

// Next returns the state following prev. A nil prev starts from zero.
func (m *Model) Next(prev *DeviceState) DeviceState {
	var next DeviceState
	if prev != nil {
		next = *prev
	}
	if m.rng.Float64() >= m.p.BrewProbability {
		return next
	}
	next.TotalCups++
	next.TotalBeansUsage += m.p.BeansMin + m.rng.Int63n(m.p.BeansMax-m.p.BeansMin+1)
	return next
}
