package u01

import (
	"encoding/json"
	"math"
)

// P-values are NaN when the library could not compute them. JSON has no
// NaN, so they travel as null and come back as NaN.

// Nullable returns nil for NaN and infinities.
func Nullable(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// OrNaN is the inverse of Nullable.
func OrNaN(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

type testPValueJSON struct {
	Name   string   `json:"name"`
	PValue *float64 `json:"p_value"`
}

func (t TestPValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(testPValueJSON{Name: t.Name, PValue: Nullable(t.PValue)})
}

func (t *TestPValue) UnmarshalJSON(b []byte) error {
	var aux testPValueJSON
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	t.Name, t.PValue = aux.Name, OrNaN(aux.PValue)
	return nil
}

type poissonJSON struct {
	Lambda   *float64 `json:"lambda"`
	Mu       *float64 `json:"mu"`
	Observed *float64 `json:"observed"`
	PValue   *float64 `json:"p_value"`
}

func (p PoissonStats) MarshalJSON() ([]byte, error) {
	return json.Marshal(poissonJSON{
		Lambda:   Nullable(p.Lambda),
		Mu:       Nullable(p.Mu),
		Observed: Nullable(p.Observed),
		PValue:   Nullable(p.PValue),
	})
}

func (p *PoissonStats) UnmarshalJSON(b []byte) error {
	var aux poissonJSON
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*p = PoissonStats{
		Lambda:   OrNaN(aux.Lambda),
		Mu:       OrNaN(aux.Mu),
		Observed: OrNaN(aux.Observed),
		PValue:   OrNaN(aux.PValue),
	}
	return nil
}
