//go:build !cgo || !testu01

package testu01

import (
	"fmt"

	"rng-u01/internal/u01"
)

// Backend stub when the library is not linked in.
type Backend struct{}

// New returns the stub. It never fails so the caller can report the
// explanatory error at the first call.
func New() *Backend { return &Backend{} }

func unavailable() error {
	return fmt.Errorf("%w: TestU01 not linked in: %s", u01.ErrUnavailable, buildHint)
}

func (*Backend) Name() string { return Name }
func (*Backend) SetVerbose(bool) error { return unavailable() }

func (*Backend) CreateLCG(u01.LCG) (u01.Handle, error) { return 0, unavailable() }
func (*Backend) CreateJava48(uint64, int) (u01.Handle, error) { return 0, unavailable() }
func (*Backend) CreateReadText(string, int64) (u01.Handle, error) { return 0, unavailable() }
func (*Backend) CreateReadBin(string, int64) (u01.Handle, error) { return 0, unavailable() }
func (*Backend) CreateExternBits(string, func() uint32) (u01.Handle, error) {
	return 0, unavailable()
}
func (*Backend) DeleteGen(u01.Handle) error { return unavailable() }

func (*Backend) CreatePoisson() (u01.Handle, error) { return 0, unavailable() }
func (*Backend) ReadPoisson(u01.Handle) (u01.PoissonStats, error) {
	return u01.PoissonStats{}, unavailable()
}
func (*Backend) DeletePoisson(u01.Handle) error { return unavailable() }

func (*Backend) CreateLCGPow2Family(u01.LCGPow2Family) (u01.Handle, error) {
	return 0, unavailable()
}
func (*Backend) DeleteFamily(u01.Handle) error { return unavailable() }
func (*Backend) CreateSampleSizeChooser(u01.SampleSizeChooser) (u01.Handle, error) {
	return 0, unavailable()
}
func (*Backend) CreateBirthECChooser(u01.BirthECChooser) (u01.Handle, error) {
	return 0, unavailable()
}
func (*Backend) DeleteChooser(u01.Handle) error { return unavailable() }
func (*Backend) CreateChooserPair(u01.Handle, u01.Handle) (u01.Handle, error) {
	return 0, unavailable()
}
func (*Backend) DeleteChooserPair(u01.Handle) error { return unavailable() }

func (*Backend) RunBattery(u01.Battery, u01.Handle, u01.BatteryParams) (u01.BatteryResult, error) {
	return u01.BatteryResult{}, unavailable()
}
func (*Backend) RunBatteryFile(u01.Battery, string, u01.BatteryParams) (u01.BatteryResult, error) {
	return u01.BatteryResult{}, unavailable()
}
func (*Backend) BirthdaySpacings(u01.Handle, u01.Handle, u01.BirthdayParams) (string, error) {
	return "", unavailable()
}
func (*Backend) PlotUnif(u01.Handle, string) (string, error) { return "", unavailable() }
func (*Backend) FamilyBirthday(u01.Handle, u01.Handle, u01.FamilyBirthdayParams) (string, error) {
	return "", unavailable()
}
