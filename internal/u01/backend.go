// Package u01 drives an external uniform random number test library through
// owned, scoped resources. Generators, accumulators and family objects are
// acquired from a Session and released exactly once; the Session keeps a
// Trace of every acquire, use and release so the pairing can be checked.
package u01

import "fmt"

// Handle identifies an object living inside a Backend.
type Handle uint64

// Kind is the category of a backend object.
type Kind int

const (
	KindGen Kind = iota + 1
	KindPoisson
	KindFamily
	KindChooser
	KindChooserPair
)

func (k Kind) String() string {
	switch k {
	case KindGen:
		return "gen"
	case KindPoisson:
		return "poisson"
	case KindFamily:
		return "family"
	case KindChooser:
		return "chooser"
	case KindChooserPair:
		return "chooser-pair"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Backend is the boundary to the test library. Implementations own the
// objects behind each Handle; callers never see the underlying pointers.
//
// A Backend does not track lifetimes on behalf of callers beyond rejecting
// handles it does not know. Session enforces the acquire/use/release rules.
type Backend interface {
	Name() string

	// SetVerbose switches the library's detailed per-test report.
	SetVerbose(on bool) error

	CreateLCG(p LCG) (Handle, error)
	CreateJava48(seed uint64, jflag int) (Handle, error)
	CreateReadText(path string, nbuf int64) (Handle, error)
	CreateReadBin(path string, nbuf int64) (Handle, error)
	CreateExternBits(name string, next func() uint32) (Handle, error)
	DeleteGen(h Handle) error

	CreatePoisson() (Handle, error)
	ReadPoisson(h Handle) (PoissonStats, error)
	DeletePoisson(h Handle) error

	CreateLCGPow2Family(p LCGPow2Family) (Handle, error)
	DeleteFamily(h Handle) error
	CreateSampleSizeChooser(p SampleSizeChooser) (Handle, error)
	CreateBirthECChooser(p BirthECChooser) (Handle, error)
	DeleteChooser(h Handle) error
	CreateChooserPair(n, d Handle) (Handle, error)
	DeleteChooserPair(h Handle) error

	RunBattery(b Battery, gen Handle, p BatteryParams) (BatteryResult, error)
	RunBatteryFile(b Battery, path string, p BatteryParams) (BatteryResult, error)
	BirthdaySpacings(gen, res Handle, p BirthdayParams) (string, error)
	PlotUnif(gen Handle, name string) (string, error)
	FamilyBirthday(fam, pair Handle, p FamilyBirthdayParams) (string, error)
}
