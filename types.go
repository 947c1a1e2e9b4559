package main

import (
	"rng-u01/internal/journal"
	"rng-u01/internal/scenario"
	"rng-u01/internal/u01"
)

type ScenarioInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Defaults    scenario.Params `json:"defaults"`
}

type BatteryInfo struct {
	Name         u01.Battery `json:"name"`
	Title        string      `json:"title"`
	SupportsFile bool        `json:"supports_file"`
}

type RunSummary struct {
	ID         string `json:"id"`
	Scenario   string `json:"scenario"`
	Backend    string `json:"backend"`
	CreatedAt  string `json:"created_at"`
	DurationMS int64  `json:"duration_ms"`
	Tests      int    `json:"tests"`
	Suspect    int    `json:"suspect"`
	Failed     int    `json:"failed"`
	LifetimeOK bool   `json:"lifetime_ok"`
	Error      string `json:"error,omitempty"`
}

func summarizeRun(rec *journal.Record) RunSummary {
	return RunSummary{
		ID:         rec.ID,
		Scenario:   rec.Scenario,
		Backend:    rec.Backend,
		CreatedAt:  rec.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		DurationMS: rec.DurationMS,
		Tests:      rec.Summary.Count,
		Suspect:    rec.Summary.Suspect,
		Failed:     rec.Summary.Failed,
		LifetimeOK: rec.LifetimeOK,
		Error:      rec.Error,
	}
}

type ChainStatus struct {
	Valid   bool   `json:"valid"`
	Entries int    `json:"entries"`
	Error   string `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
