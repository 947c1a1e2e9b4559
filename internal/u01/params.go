package u01

import (
	"fmt"
	"sort"
	"strings"
)

// LCG configures a linear congruential generator x(i) = (a*x(i-1) + c) mod m
// started from seed s.
type LCG struct {
	M int64 `json:"m"`
	A int64 `json:"a"`
	C int64 `json:"c"`
	S int64 `json:"s"`
}

func (p LCG) Validate() error {
	switch {
	case p.M <= 0:
		return invalidf("lcg: modulus must be positive, got %d", p.M)
	case p.A <= 0 || p.A >= p.M:
		return invalidf("lcg: multiplier must be in (0, m), got %d", p.A)
	case p.C < 0 || p.C >= p.M:
		return invalidf("lcg: additive constant must be in [0, m), got %d", p.C)
	case p.S < 0 || p.S >= p.M:
		return invalidf("lcg: seed must be in [0, m), got %d", p.S)
	}
	return nil
}

// Battery names a predefined sequence of tests.
type Battery string

const (
	SmallCrush    Battery = "smallcrush"
	Crush         Battery = "crush"
	BigCrush      Battery = "bigcrush"
	Rabbit        Battery = "rabbit"
	Alphabit      Battery = "alphabit"
	BlockAlphabit Battery = "blockalphabit"
	FIPS1402      Battery = "fips140-2"
)

var batteries = map[Battery]struct {
	title    string
	file     bool // has a variant reading bits from a binary file
	needBits bool
	needRS   bool
	// Least a file variant consumes: raw bits, or uniforms for SmallCrush
	// which reads its file as text.
	minFileBits     float64
	minFileUniforms int64
}{
	SmallCrush:    {title: "SmallCrush", file: true, minFileUniforms: 51320000},
	Crush:         {title: "Crush"},
	BigCrush:      {title: "BigCrush"},
	Rabbit:        {title: "Rabbit", file: true, needBits: true},
	Alphabit:      {title: "Alphabit", file: true, needBits: true, needRS: true},
	BlockAlphabit: {title: "BlockAlphabit", file: true, needBits: true, needRS: true},
	FIPS1402:      {title: "FIPS-140-2", file: true, minFileBits: 20000},
}

// ParseBattery accepts battery names case-insensitively.
func ParseBattery(s string) (Battery, error) {
	b := Battery(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := batteries[b]; !ok {
		return "", invalidf("unknown battery %q", s)
	}
	return b, nil
}

// Batteries lists every known battery in name order.
func Batteries() []Battery {
	out := make([]Battery, 0, len(batteries))
	for b := range batteries {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (b Battery) Title() string {
	if m, ok := batteries[b]; ok {
		return m.title
	}
	return string(b)
}

// SupportsFile reports whether the battery can read its bits from a file.
func (b Battery) SupportsFile() bool { return batteries[b].file }

// FileMinimum is the least input the file variant of b reads: bits for the
// binary batteries, uniforms for SmallCrush. Zero means only NBits counts.
func (b Battery) FileMinimum() (bits float64, uniforms int64) {
	m := batteries[b]
	return m.minFileBits, m.minFileUniforms
}

// BatteryParams holds the arguments of the bit-oriented batteries. NBits is
// the number of bits to test; Alphabit and BlockAlphabit test S bits of each
// output starting at bit R.
type BatteryParams struct {
	NBits float64 `json:"nbits,omitempty"`
	R     int     `json:"r,omitempty"`
	S     int     `json:"s,omitempty"`
}

// Validate checks p against what battery b needs. File variants only use NBits.
func (p BatteryParams) Validate(b Battery, file bool) error {
	m, ok := batteries[b]
	if !ok {
		return invalidf("unknown battery %q", b)
	}
	if file && !m.file {
		return invalidf("battery %s has no file variant", m.title)
	}
	if m.needBits && p.NBits <= 0 {
		return invalidf("battery %s: nbits must be positive, got %g", m.title, p.NBits)
	}
	if m.needRS && !file {
		if p.R < 0 || p.S < 1 || p.R+p.S > 32 {
			return invalidf("battery %s: need r >= 0, s >= 1, r+s <= 32, got r=%d s=%d", m.title, p.R, p.S)
		}
	}
	return nil
}

// BirthdayParams are the arguments of the birthday spacings test: N
// replications of n points in t dimensions, each coordinate taking d values
// built from the bits after dropping the r most significant ones. P selects
// the order in which successive outputs fill the coordinates.
type BirthdayParams struct {
	N    int64 `json:"N"`
	Size int64 `json:"n"`
	R    int   `json:"r"`
	D    int64 `json:"d"`
	T    int   `json:"t"`
	P    int   `json:"p"`
}

func (p BirthdayParams) Validate() error {
	switch {
	case p.N < 1:
		return invalidf("birthday: N must be >= 1, got %d", p.N)
	case p.Size < 2:
		return invalidf("birthday: n must be >= 2, got %d", p.Size)
	case p.R < 0 || p.R > 31:
		return invalidf("birthday: r must be in [0, 31], got %d", p.R)
	case p.D < 2:
		return invalidf("birthday: d must be >= 2, got %d", p.D)
	case p.T < 1:
		return invalidf("birthday: t must be >= 1, got %d", p.T)
	case p.P != 1 && p.P != 2:
		return invalidf("birthday: p must be 1 or 2, got %d", p.P)
	}
	return nil
}

func (p BirthdayParams) String() string {
	return fmt.Sprintf("N=%d n=%d r=%d d=%d t=%d p=%d", p.N, p.Size, p.R, p.D, p.T, p.P)
}

// LCGPow2Family selects LCGs with modulus 2^i for i in [I1, I2] by IStep.
type LCGPow2Family struct {
	I1    int `json:"i1"`
	I2    int `json:"i2"`
	IStep int `json:"istep"`
}

func (p LCGPow2Family) Validate() error {
	if p.I1 < 1 || p.I2 < p.I1 || p.IStep < 1 {
		return invalidf("lcgpow2 family: need 1 <= i1 <= i2 and istep >= 1, got %d..%d by %d", p.I1, p.I2, p.IStep)
	}
	return nil
}

// SampleSizeChooser picks the sample size of a family test from the
// generator's period length as A*2^(B*i + C).
type SampleSizeChooser struct {
	A    float64 `json:"a"`
	B    float64 `json:"b"`
	C    float64 `json:"c"`
	Name string  `json:"name"`
}

func (p SampleSizeChooser) Validate() error {
	if p.A <= 0 {
		return invalidf("sample size chooser: a must be positive, got %g", p.A)
	}
	if strings.TrimSpace(p.Name) == "" {
		return invalidf("sample size chooser: name is required")
	}
	return nil
}

// BirthECChooser picks the birthday test's d so that the expected number of
// collisions is EC.
type BirthECChooser struct {
	T  int     `json:"t"`
	P  int     `json:"p"`
	EC float64 `json:"ec"`
}

func (p BirthECChooser) Validate() error {
	switch {
	case p.T < 1:
		return invalidf("birthday ec chooser: t must be >= 1, got %d", p.T)
	case p.P != 1 && p.P != 2:
		return invalidf("birthday ec chooser: p must be 1 or 2, got %d", p.P)
	case p.EC <= 0:
		return invalidf("birthday ec chooser: ec must be positive, got %g", p.EC)
	}
	return nil
}

// FamilyBirthdayParams runs the birthday test on every member of a family
// for sample sizes 2^j, j in [J1, J2] by JStep.
type FamilyBirthdayParams struct {
	N     int64 `json:"N"`
	R     int   `json:"r"`
	T     int   `json:"t"`
	P     int   `json:"p"`
	Nr    int   `json:"Nr"`
	J1    int   `json:"j1"`
	J2    int   `json:"j2"`
	JStep int   `json:"jstep"`
}

func (p FamilyBirthdayParams) Validate() error {
	switch {
	case p.N < 1:
		return invalidf("family birthday: N must be >= 1, got %d", p.N)
	case p.R < 0:
		return invalidf("family birthday: r must be >= 0, got %d", p.R)
	case p.T < 1:
		return invalidf("family birthday: t must be >= 1, got %d", p.T)
	case p.P != 1 && p.P != 2:
		return invalidf("family birthday: p must be 1 or 2, got %d", p.P)
	case p.Nr < 1:
		return invalidf("family birthday: Nr must be >= 1, got %d", p.Nr)
	case p.J2 < p.J1 || p.JStep < 1:
		return invalidf("family birthday: need j1 <= j2 and jstep >= 1, got %d..%d by %d", p.J1, p.J2, p.JStep)
	}
	return nil
}
