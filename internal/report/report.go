// Package report turns library results into rows and summaries.
package report

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"rng-u01/internal/scenario"
	"rng-u01/internal/u01"
)

// Status of a p-value.
type Status string

const (
	Pass    Status = "pass"
	Suspect Status = "suspect"
	Fail    Status = "fail"
)

// Thresholds used by the library when it lists failed tests: p-values
// outside [SuspectP, 1-SuspectP] are reported, outside [FailP, 1-FailP]
// they are clear failures.
const (
	SuspectP = 0.001
	FailP    = 1e-10

	epsP  = 1e-300 // smallest p-value printed as a number
	eps1P = 1e-15  // closest distance to 1 printed as a number
)

func StatusFromP(p float64) Status {
	switch {
	case math.IsNaN(p):
		return Fail
	case p < FailP || p > 1-FailP:
		return Fail
	case p < SuspectP || p > 1-SuspectP:
		return Suspect
	default:
		return Pass
	}
}

// FormatP prints p the way the library does in its summaries.
func FormatP(p float64) string {
	switch {
	case math.IsNaN(p):
		return "NaN"
	case p < epsP:
		return "eps"
	case p > 1-eps1P:
		return "1 - eps1"
	case p < 0.01:
		return fmt.Sprintf("%.1e", p)
	case p > 0.99:
		return fmt.Sprintf("1 - %.1e", 1-p)
	default:
		return fmt.Sprintf("%.2f", p)
	}
}

// Row is one test result.
type Row struct {
	Battery   string  `json:"battery"`
	Source    string  `json:"source"`
	Name      string  `json:"name"`
	PValue    float64 `json:"p_value"`
	Formatted string  `json:"formatted"`
	Status    Status  `json:"status"`
}

type rowJSON struct {
	Battery   string   `json:"battery,omitempty"`
	Source    string   `json:"source,omitempty"`
	Name      string   `json:"name"`
	PValue    *float64 `json:"p_value"`
	Formatted string   `json:"formatted"`
	Status    Status   `json:"status"`
}

func (r Row) MarshalJSON() ([]byte, error) {
	return json.Marshal(rowJSON{r.Battery, r.Source, r.Name, u01.Nullable(r.PValue), r.Formatted, r.Status})
}

func (r *Row) UnmarshalJSON(b []byte) error {
	var aux rowJSON
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*r = Row{aux.Battery, aux.Source, aux.Name, u01.OrNaN(aux.PValue), aux.Formatted, aux.Status}
	return nil
}

func newRow(battery, source, name string, p float64) Row {
	return Row{Battery: battery, Source: source, Name: name, PValue: p, Formatted: FormatP(p), Status: StatusFromP(p)}
}

// Rows lists every p-value of an outcome: battery tests first, then the
// accumulators read after single tests.
func Rows(out *scenario.Outcome) []Row {
	if out == nil {
		return nil
	}
	var rows []Row
	for _, b := range out.Batteries {
		rows = append(rows, BatteryRows(b)...)
	}
	for _, ps := range out.Poisson {
		rows = append(rows, newRow("", "", ps.Test, ps.Stats.PValue))
	}
	return rows
}

func BatteryRows(b u01.BatteryResult) []Row {
	rows := make([]Row, 0, len(b.Tests))
	for _, t := range b.Tests {
		rows = append(rows, newRow(b.Battery.Title(), b.Source, t.Name, t.PValue))
	}
	return rows
}

// Summary aggregates the p-values of a run.
type Summary struct {
	Count   int     `json:"count"`
	Passed  int     `json:"passed"`
	Suspect int     `json:"suspect"`
	Failed  int     `json:"failed"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Mean    float64 `json:"mean"`
	Median  float64 `json:"median"`
}

// Summarize counts statuses and describes the finite p-values. With no
// finite p-value the descriptive fields stay zero.
func Summarize(rows []Row) (Summary, error) {
	var s Summary
	data := make(stats.Float64Data, 0, len(rows))
	for _, r := range rows {
		s.Count++
		switch r.Status {
		case Pass:
			s.Passed++
		case Suspect:
			s.Suspect++
		default:
			s.Failed++
		}
		if !math.IsNaN(r.PValue) && !math.IsInf(r.PValue, 0) {
			data = append(data, r.PValue)
		}
	}
	if len(data) == 0 {
		return s, nil
	}
	var err error
	if s.Min, err = data.Min(); err != nil {
		return s, err
	}
	if s.Max, err = data.Max(); err != nil {
		return s, err
	}
	if s.Mean, err = data.Mean(); err != nil {
		return s, err
	}
	if s.Median, err = data.Median(); err != nil {
		return s, err
	}
	return s, nil
}

// Failures returns the rows the library would list as failed tests.
func Failures(rows []Row) []Row {
	var out []Row
	for _, r := range rows {
		if r.Status != Pass {
			out = append(out, r)
		}
	}
	return out
}
