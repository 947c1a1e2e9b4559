// Package runner runs scenarios against a backend and records them in the
// journal.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rng-u01/internal/journal"
	"rng-u01/internal/report"
	"rng-u01/internal/scenario"
	"rng-u01/internal/testu01"
	"rng-u01/internal/u01"
	"rng-u01/internal/u01/dryrun"
)

// OpenBackend returns the backend called name.
func OpenBackend(name string) (u01.Backend, error) {
	switch name {
	case "testu01":
		return testu01.New(), nil
	case "dryrun":
		return dryrun.New(), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", u01.ErrInvalidParam, name)
	}
}

// Request names a scenario and how to change its defaults: Params is a JSON
// document merged first, Sets are key=value assignments applied after it.
// A non-empty Dir confines every file the scenario touches to that
// directory; relative paths resolve against it.
type Request struct {
	Scenario string          `json:"scenario"`
	Params   json.RawMessage `json:"params,omitempty"`
	Sets     []string        `json:"set,omitempty"`
	Dir      string          `json:"-"`
}

type Runner struct {
	backend u01.Backend
	store   journal.Store
	log     zerolog.Logger

	// The library keeps global state; runs never overlap.
	mu sync.Mutex
}

// New returns a Runner. A nil store skips recording.
func New(b u01.Backend, store journal.Store, log zerolog.Logger) *Runner {
	return &Runner{backend: b, store: store, log: log}
}

func (r *Runner) Backend() u01.Backend { return r.backend }

// Resolve returns the scenario and its parameters after applying req.
func Resolve(req Request) (scenario.Scenario, scenario.Params, error) {
	sc, err := scenario.Lookup(req.Scenario)
	if err != nil {
		return scenario.Scenario{}, scenario.Params{}, err
	}
	p := sc.Defaults()
	if err := p.Apply(req.Params); err != nil {
		return sc, p, err
	}
	if err := p.Set(req.Sets); err != nil {
		return sc, p, err
	}
	if req.Dir != "" {
		if err := p.Confine(req.Dir); err != nil {
			return sc, p, err
		}
	}
	return sc, p, nil
}

// Run executes req. Once the scenario has started, the returned record is
// never nil: a failed run is recorded with its error, which is also returned.
func (r *Runner) Run(ctx context.Context, req Request) (*journal.Record, error) {
	sc, p, err := Resolve(req)
	if err != nil {
		return nil, err
	}
	params, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	id, err := journal.NewID()
	if err != nil {
		return nil, err
	}
	log := r.log.With().Str("run", id).Str("scenario", sc.Name).Logger()

	start := time.Now()
	out, runErr := r.exec(ctx, sc, p, log)
	elapsed := time.Since(start)

	rec := newRecord(id, sc.Name, r.backend.Name(), start, elapsed, params, out)
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if !rec.LifetimeOK {
		log.Error().Strs("violations", rec.Violations).Msg("lifetime violations")
	}

	if r.store != nil {
		// A cancelled run is still recorded.
		e, err := r.store.Append(context.WithoutCancel(ctx), rec)
		if err != nil {
			log.Error().Err(err).Msg("journal append failed")
			return rec, errors.Join(runErr, err)
		}
		log.Debug().Int("entry", e.Index).Str("hash", e.Hash).Msg("journaled")
	}

	ev := log.Info()
	if runErr != nil {
		ev = log.Error().Err(runErr)
	}
	ev.Dur("took", elapsed).
		Int("tests", rec.Summary.Count).
		Int("suspect", rec.Summary.Suspect).
		Int("failed", rec.Summary.Failed).
		Msg("run finished")
	return rec, runErr
}

func (r *Runner) exec(ctx context.Context, sc scenario.Scenario, p scenario.Params, log zerolog.Logger) (*scenario.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Keep a recording backend's call log to the current run.
	if rs, ok := r.backend.(interface{ Reset() }); ok {
		rs.Reset()
	}
	log.Info().Str("backend", r.backend.Name()).Msg("run started")
	return sc.Run(ctx, r.backend, p, u01.WithLogger(log))
}

func newRecord(id, name, backend string, start time.Time, elapsed time.Duration, params json.RawMessage, out *scenario.Outcome) *journal.Record {
	rows := report.Rows(out)
	summary, _ := report.Summarize(rows)
	rec := &journal.Record{
		ID:         id,
		Scenario:   name,
		Backend:    backend,
		CreatedAt:  start,
		DurationMS: elapsed.Milliseconds(),
		Params:     params,
		Summary:    summary,
		Rows:       rows,
	}
	if out == nil {
		return rec
	}
	for _, b := range out.Batteries {
		if b.Output != "" {
			rec.Outputs = append(rec.Outputs, b.Output)
		}
	}
	rec.Outputs = append(rec.Outputs, out.Outputs...)
	rec.Poisson = out.Poisson
	rec.Plots = out.Plots
	rec.Trace = out.Trace
	rec.LifetimeOK = out.LifetimeOK
	rec.Violations = out.Violations
	return rec
}
