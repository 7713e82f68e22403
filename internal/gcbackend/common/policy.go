package common

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// DefaultGrowthExpr is the default growth rule: next threshold is the
// current live-byte count scaled by 1.5.
const DefaultGrowthExpr = "live * 1.5"

// GrowthPolicy computes the next opportunistic-collection threshold after
// a collection completes. The default reduces to the 1.5x growth-factor
// constant above; operators may override it with any expression over
// {live, arenaSize, collections}.
type GrowthPolicy struct {
	program *vm.Program
}

type growthEnv struct {
	Live        float64 `expr:"live"`
	ArenaSize   float64 `expr:"arenaSize"`
	Collections float64 `expr:"collections"`
}

// NewGrowthPolicy compiles expression, falling back to DefaultGrowthExpr
// when expression is empty or fails to compile (a malformed operator
// override must not be fatal to heap init).
func NewGrowthPolicy(expression string) *GrowthPolicy {
	if expression == "" {
		expression = DefaultGrowthExpr
	}
	program, err := expr.Compile(expression, expr.Env(growthEnv{}))
	if err != nil {
		program, _ = expr.Compile(DefaultGrowthExpr, expr.Env(growthEnv{}))
	}
	return &GrowthPolicy{program: program}
}

// Next evaluates the policy and caps the result at arenaSize.
func (p *GrowthPolicy) Next(liveBytes, arenaSize uint64, collections uint64) uint64 {
	out, err := expr.Run(p.program, growthEnv{
		Live:        float64(liveBytes),
		ArenaSize:   float64(arenaSize),
		Collections: float64(collections),
	})
	if err != nil {
		return liveBytes
	}
	v, ok := out.(float64)
	if !ok || v < 0 {
		return liveBytes
	}
	next := uint64(v)
	if next > arenaSize {
		next = arenaSize
	}
	return ClampThreshold(next)
}
