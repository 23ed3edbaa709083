package relay

import (
	"math/rand"
	"time"
)

type Rand interface {
	Intn(n int) int
}

type PlannerConfig struct {
	// Steps[i] is the delay after the (i+1)-th failed attempt; the last
	// step repeats. Default: 5s, 30s, 2m, 10m.
	Steps []time.Duration
	// Jitter adds up to Jitter*delay on top of each delay. Default: 0.2.
	Jitter float64
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Steps:  []time.Duration{5 * time.Second, 30 * time.Second, 2 * time.Minute, 10 * time.Minute},
		Jitter: 0.2,
	}
}

type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	steps := make([]time.Duration, 0, len(cfg.Steps))
	for _, s := range cfg.Steps {
		if s > 0 {
			steps = append(steps, s)
		}
	}
	if len(steps) == 0 {
		steps = def.Steps
	}
	cfg.Steps = steps
	if cfg.Jitter < 0 || cfg.Jitter > 1 {
		cfg.Jitter = def.Jitter
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

// BaseDelay is the backoff step for the given failure count, without jitter.
func (p *Planner) BaseDelay(failures int32) time.Duration {
	i := int(failures) - 1
	if i < 0 {
		i = 0
	}
	if i >= len(p.cfg.Steps) {
		i = len(p.cfg.Steps) - 1
	}
	return p.cfg.Steps[i]
}

func (p *Planner) BackoffDelay(failures int32) time.Duration {
	d := p.BaseDelay(failures)
	spread := int(float64(d/time.Millisecond) * p.cfg.Jitter)
	if spread <= 0 {
		return d
	}
	return d + time.Duration(p.r.Intn(spread+1))*time.Millisecond
}
