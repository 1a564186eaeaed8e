package report

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/ziziccc/embedded-prj3/internal/config"
)

// Policy turns one probability row into a class index.
type Policy interface {
	Decide(probs []float64) int
	Name() string
}

// ArgmaxPolicy picks the most probable class; ties go to the lowest index.
type ArgmaxPolicy struct{}

func (ArgmaxPolicy) Decide(probs []float64) int { return floats.MaxIdx(probs) }

func (ArgmaxPolicy) Name() string { return config.PolicyArgmax }

// Rule assigns Class when its probability reaches Min.
type Rule struct {
	Class int
	Min   float64
}

// ThresholdPolicy checks rules in order and falls back when none match.
// With PERSON then BAG at 0.5 this is the verification-tool behaviour: a
// person wins over a bag, and anything unsure is EMPTY.
type ThresholdPolicy struct {
	Rules    []Rule
	Fallback int
}

func (p ThresholdPolicy) Decide(probs []float64) int {
	for _, r := range p.Rules {
		if r.Class < len(probs) && probs[r.Class] >= r.Min {
			return r.Class
		}
	}
	return p.Fallback
}

func (ThresholdPolicy) Name() string { return config.PolicyThreshold }

// PolicyFromConfig builds the configured policy against the class table.
func PolicyFromConfig(cfg config.ClassifierConfig) (Policy, error) {
	switch cfg.Policy {
	case config.PolicyArgmax, "":
		return ArgmaxPolicy{}, nil
	case config.PolicyThreshold:
		p := ThresholdPolicy{Fallback: slices.Index(cfg.ClassNames, cfg.Fallback)}
		if p.Fallback < 0 {
			return nil, fmt.Errorf("fallback class %q not in class table", cfg.Fallback)
		}
		for _, th := range cfg.Thresholds {
			idx := slices.Index(cfg.ClassNames, th.Class)
			if idx < 0 {
				return nil, fmt.Errorf("threshold class %q not in class table", th.Class)
			}
			p.Rules = append(p.Rules, Rule{Class: idx, Min: th.Min})
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown decision policy %q", cfg.Policy)
	}
}
