// Package steps executes an ordered list of idempotent provisioning steps.
// Each step pairs a side-effect-free probe with a mutation applied only
// when the probe reports the state is not yet satisfied.
package steps

import (
	"context"
	"fmt"

	"github.com/fatih/color"

	"github.com/FainiDenis/rpi-setup/internal/logging"
)

// Step is one unit of declared state.
type Step struct {
	// Name identifies the step in logs and error messages.
	Name string
	// Probe reports whether the state is already satisfied. A nil Probe
	// means the step always applies.
	Probe func(ctx context.Context) (bool, error)
	// Apply brings the host to the declared state.
	Apply func(ctx context.Context) error
	// Fatal aborts the whole run when the step fails. Non-fatal steps
	// log a warning and the run continues.
	Fatal bool
}

// Status of a single executed step.
type Status int

const (
	StatusSatisfied Status = iota
	StatusApplied
	StatusFailed
	StatusPlanned
)

// Outcome records what happened to one step.
type Outcome struct {
	Step   Step
	Status Status
	Err    error
}

// StepError is the failure of a fatal step.
type StepError struct {
	Name string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Name, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Runner executes steps strictly in declared order. There is no rollback:
// effects of earlier steps remain applied when a later step fails.
type Runner struct {
	// DryRun runs probes but never applies; unsatisfied steps are
	// reported as planned.
	DryRun bool

	outcomes []Outcome
}

// Run executes the steps. It returns the first fatal error, after logging
// every step outcome up to that point.
func (r *Runner) Run(ctx context.Context, steps []Step) error {
	log := logging.GetLogger("steps")

	for _, s := range steps {
		if s.Probe != nil {
			ok, err := s.Probe(ctx)
			if err != nil {
				r.outcomes = append(r.outcomes, Outcome{Step: s, Status: StatusFailed, Err: err})
				if s.Fatal {
					color.Red("✗ %s: probe failed: %v", s.Name, err)
					return &StepError{Name: s.Name, Err: err}
				}
				color.Yellow("! %s: probe failed, skipping: %v", s.Name, err)
				log.Warn().Str("step", s.Name).Err(err).Msg("probe failed on non-fatal step")
				continue
			}
			if ok {
				r.outcomes = append(r.outcomes, Outcome{Step: s, Status: StatusSatisfied})
				color.Green("✓ %s (already satisfied)", s.Name)
				log.Debug().Str("step", s.Name).Msg("already satisfied")
				continue
			}
		}

		if r.DryRun {
			r.outcomes = append(r.outcomes, Outcome{Step: s, Status: StatusPlanned})
			color.Cyan("→ %s (would apply)", s.Name)
			continue
		}

		log.Info().Str("step", s.Name).Msg("applying")
		if err := s.Apply(ctx); err != nil {
			r.outcomes = append(r.outcomes, Outcome{Step: s, Status: StatusFailed, Err: err})
			if s.Fatal {
				color.Red("✗ %s: %v", s.Name, err)
				return &StepError{Name: s.Name, Err: err}
			}
			color.Yellow("! %s: %v (continuing)", s.Name, err)
			log.Warn().Str("step", s.Name).Err(err).Msg("non-fatal step failed")
			continue
		}
		r.outcomes = append(r.outcomes, Outcome{Step: s, Status: StatusApplied})
		color.Green("✓ %s", s.Name)
	}
	return nil
}

// Outcomes returns what happened to every executed step, in order.
func (r *Runner) Outcomes() []Outcome {
	out := make([]Outcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}
