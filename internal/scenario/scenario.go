// Package scenario holds the canned programs run against the test library:
// the classic examples (bat1, bat3, birth2, fbirth, scat) with their literal
// parameters, plus a few general ones.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"rng-u01/internal/u01"
)

// ErrUnknown is returned by Lookup for names not in the registry.
var ErrUnknown = errors.New("scenario: unknown scenario")

// PoissonSnapshot is an accumulator read right after the test that filled it.
type PoissonSnapshot struct {
	Test  string           `json:"test"`
	Stats u01.PoissonStats `json:"stats"`
}

// Outcome collects everything a run produced.
type Outcome struct {
	Scenario   string              `json:"scenario"`
	Batteries  []u01.BatteryResult `json:"batteries,omitempty"`
	Poisson    []PoissonSnapshot   `json:"poisson,omitempty"`
	Outputs    []string            `json:"outputs,omitempty"`
	Plots      []string            `json:"plots,omitempty"`
	Trace      *u01.Trace          `json:"trace"`
	LifetimeOK bool                `json:"lifetime_ok"`
	Violations []string            `json:"violations,omitempty"`
}

// Scenario is a named program over a u01 session.
type Scenario struct {
	Name        string
	Description string
	defaults    func() Params
	run         func(ctx context.Context, s *u01.Session, p Params, out *Outcome) error
}

// Defaults returns a fresh copy of the scenario's parameters.
func (sc Scenario) Defaults() Params { return sc.defaults() }

// Run executes the scenario in its own session. Every resource is released
// before Run returns, whether the scenario succeeded, failed or panicked.
func (sc Scenario) Run(ctx context.Context, b u01.Backend, p Params, opts ...u01.Option) (*Outcome, error) {
	out := &Outcome{Scenario: sc.Name}
	trace, err := u01.Run(ctx, b, func(ctx context.Context, s *u01.Session) error {
		if err := s.SetVerbose(!p.Quiet); err != nil {
			return err
		}
		return sc.run(ctx, s, p, out)
	}, opts...)
	out.Trace = trace
	out.Violations = trace.Violations()
	out.LifetimeOK = len(out.Violations) == 0
	return out, err
}

var registry = map[string]Scenario{}

func register(sc Scenario) {
	if _, dup := registry[sc.Name]; dup {
		panic("scenario: duplicate " + sc.Name)
	}
	registry[sc.Name] = sc
}

// Lookup finds a scenario by name.
func Lookup(name string) (Scenario, error) {
	sc, ok := registry[name]
	if !ok {
		return Scenario{}, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return sc, nil
}

// All lists the registered scenarios by name.
func All() []Scenario {
	out := make([]Scenario, 0, len(registry))
	for _, sc := range registry {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
