package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeTargetFavorsTimeAndVolatility(t *testing.T) {
	p := DefaultTargetParams()

	roomy := ComputeTarget(p, TargetInputs{
		FillPrice: 0.20,
		DaysLeft:  20,
		RangePct:  35,
		HypeScore: 9,
		SpreadPct: 2,
		Ceiling:   0.40,
	})
	cramped := ComputeTarget(p, TargetInputs{
		FillPrice: 0.20,
		DaysLeft:  0.5,
		RangePct:  5,
		HypeScore: 2,
		SpreadPct: 15,
		Ceiling:   0.40,
	})

	assert.InDelta(t, 0.236, roomy, 1e-9)
	assert.InDelta(t, 0.205, cramped, 1e-9)
	assert.Greater(t, roomy, cramped)
}

func TestComputeTargetSubDayDampensBeforeLongHorizon(t *testing.T) {
	p := DefaultTargetParams()

	// 0.9 days left must take the sub-day halving even though it also
	// satisfies none of the long-horizon branches.
	subDay := ComputeTarget(p, TargetInputs{FillPrice: 0.50, DaysLeft: 0.9, RangePct: 15, HypeScore: 5, SpreadPct: 3})
	twoDay := ComputeTarget(p, TargetInputs{FillPrice: 0.50, DaysLeft: 1.9, RangePct: 15, HypeScore: 5, SpreadPct: 3})
	assert.Less(t, subDay, twoDay)
}

func TestComputeTargetCeilingCap(t *testing.T) {
	p := DefaultTargetParams()

	in := TargetInputs{FillPrice: 0.20, DaysLeft: 20, RangePct: 35, HypeScore: 9, SpreadPct: 2}

	in.Ceiling = 0.21
	assert.InDelta(t, 0.21, ComputeTarget(p, in), 1e-9)

	// A ceiling below a cent is treated as absent.
	in.Ceiling = 0.005
	assert.InDelta(t, 0.236, ComputeTarget(p, in), 1e-9)
}

func TestComputeTargetClampsToPriceRange(t *testing.T) {
	p := DefaultTargetParams()

	high := ComputeTarget(p, TargetInputs{FillPrice: 0.97, DaysLeft: 20, RangePct: 35, HypeScore: 9, SpreadPct: 2})
	assert.LessOrEqual(t, high, 0.99)
	assert.GreaterOrEqual(t, high, 0.01)
}
