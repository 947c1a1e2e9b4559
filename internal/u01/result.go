package u01

// TestPValue is one line of a battery summary.
type TestPValue struct {
	Name   string  `json:"name"`
	PValue float64 `json:"p_value"`
}

// BatteryResult is what a battery run leaves behind: the p-value of each
// test in order and the library's text report.
type BatteryResult struct {
	Battery Battery      `json:"battery"`
	Source  string       `json:"source"`
	Tests   []TestPValue `json:"tests"`
	Output  string       `json:"output,omitempty"`
}

// PoissonStats is a snapshot of a Poisson accumulator after a test filled it.
// Lambda is the expected number of collisions per replication, Mu the
// expected total, Observed the total seen and PValue the right p-value.
type PoissonStats struct {
	Lambda   float64 `json:"lambda"`
	Mu       float64 `json:"mu"`
	Observed float64 `json:"observed"`
	PValue   float64 `json:"p_value"`
}
