package scenario

import (
	"context"
	"errors"

	"rng-u01/internal/u01"
)

// MINSTD parameters: m = 2^31 - 1.
const (
	minstdModulus = 2147483647
	minstdSeed    = 12345
)

func init() {
	register(Scenario{
		Name:        "bat1",
		Description: "SmallCrush on the LCG m=2^31-1, a=16807, c=0",
		defaults: func() Params {
			return Params{
				Source:  Source{Kind: "lcg", LCG: u01.LCG{M: minstdModulus, A: 16807, C: 0, S: minstdSeed}},
				Battery: u01.SmallCrush,
			}
		},
		run: runBattery,
	})
	register(Scenario{
		Name:        "bat3",
		Description: "Alphabit on the first 2^20 bits of vax.bin, then on Java's 48-bit generator",
		defaults: func() Params {
			return Params{
				File:    "vax.bin",
				Source:  Source{Kind: "java48", Seed: 1234567, JFlag: 1},
				Battery: u01.Alphabit,
				Bits:    u01.BatteryParams{NBits: 1024 * 1024, R: 0, S: 32},
			}
		},
		run: runBat3,
	})
	register(Scenario{
		Name:        "birth2",
		Description: "two birthday spacings tests sharing one Poisson accumulator",
		defaults: func() Params {
			return Params{
				Quiet:  true,
				Source: Source{Kind: "lcg", LCG: u01.LCG{M: minstdModulus, A: 397204094, C: 0, S: minstdSeed}},
				Birthday: []u01.BirthdayParams{
					{N: 1, Size: 1000, R: 0, D: 10000, T: 2, P: 1},
					{N: 1, Size: 10000, R: 0, D: 1000000, T: 2, P: 1},
				},
			}
		},
		run: runBirthday,
	})
	register(Scenario{
		Name:        "fbirth",
		Description: "birthday spacings over the family of LCGs with modulus 2^10..2^30",
		defaults: func() Params {
			return Params{
				Family: Family{
					LCGPow2:    u01.LCGPow2Family{I1: 10, I2: 30, IStep: 1},
					SampleSize: u01.SampleSizeChooser{A: 1.0 / 3.0, B: 1, C: 0, Name: "n"},
					BirthEC:    u01.BirthECChooser{T: 1, P: 2, EC: 1.0},
					Test:       u01.FamilyBirthdayParams{N: 1, R: 0, T: 2, P: 1, Nr: 21, J1: 1, J2: 5, JStep: 1},
				},
			}
		},
		run: runFamilyBirthday,
	})
	register(Scenario{
		Name:        "scat",
		Description: "scatter plot of the uniforms stored as text in excel.pts",
		defaults: func() Params {
			return Params{
				Source: Source{Kind: "text", Path: "excel.pts", NBuf: 100000},
				Plot:   "excel",
			}
		},
		run: runScatter,
	})

	register(Scenario{
		Name:        "battery",
		Description: "any battery on any generator source",
		defaults: func() Params {
			return Params{
				Source:  Source{Kind: "pcg", Seed: 1, Stream: 2},
				Battery: u01.SmallCrush,
			}
		},
		run: runBattery,
	})
	register(Scenario{
		Name:        "filebattery",
		Description: "a battery on the bits of a binary file",
		defaults: func() Params {
			return Params{
				Battery: u01.Alphabit,
				Bits:    u01.BatteryParams{NBits: 1024 * 1024},
			}
		},
		run: runFileBattery,
	})
	register(Scenario{
		Name:        "birthday",
		Description: "one birthday spacings test",
		defaults: func() Params {
			return Params{
				Quiet:    true,
				Source:   Source{Kind: "lcg", LCG: u01.LCG{M: minstdModulus, A: 16807, C: 0, S: minstdSeed}},
				Birthday: []u01.BirthdayParams{{N: 1, Size: 1000, R: 0, D: 10000, T: 2, P: 1}},
			}
		},
		run: runBirthday,
	})
}

func runBattery(ctx context.Context, s *u01.Session, p Params, out *Outcome) error {
	gen, err := p.Source.Open(ctx, s)
	if err != nil {
		return err
	}
	res, err := s.Battery(ctx, p.Battery, gen, p.Bits)
	if err != nil {
		return err
	}
	out.Batteries = append(out.Batteries, *res)
	return gen.Close()
}

func runFileBattery(ctx context.Context, s *u01.Session, p Params, out *Outcome) error {
	res, err := s.BatteryFile(ctx, p.Battery, p.File, u01.BatteryParams{NBits: p.Bits.NBits})
	if err != nil {
		return err
	}
	out.Batteries = append(out.Batteries, *res)
	return nil
}

// runBat3 tests a file first, then a generator, with the same battery.
// An empty file skips the first part.
func runBat3(ctx context.Context, s *u01.Session, p Params, out *Outcome) error {
	if p.File != "" {
		if err := runFileBattery(ctx, s, p, out); err != nil {
			return err
		}
	}
	return runBattery(ctx, s, p, out)
}

func runBirthday(ctx context.Context, s *u01.Session, p Params, out *Outcome) error {
	if len(p.Birthday) == 0 {
		return errors.New("birthday: no parameter sets")
	}
	gen, err := p.Source.Open(ctx, s)
	if err != nil {
		return err
	}
	acc, err := s.CreatePoisson(ctx)
	if err != nil {
		return err
	}
	for _, bp := range p.Birthday {
		text, err := s.BirthdaySpacings(ctx, gen, acc, bp)
		if err != nil {
			return err
		}
		if text != "" {
			out.Outputs = append(out.Outputs, text)
		}
		st, err := acc.Stats(ctx)
		if err != nil {
			return err
		}
		out.Poisson = append(out.Poisson, PoissonSnapshot{Test: "BirthdaySpacings " + bp.String(), Stats: st})
	}
	if err := acc.Close(); err != nil {
		return err
	}
	return gen.Close()
}

func runFamilyBirthday(ctx context.Context, s *u01.Session, p Params, out *Outcome) error {
	fam, err := s.CreateLCGPow2Family(ctx, p.Family.LCGPow2)
	if err != nil {
		return err
	}
	chon, err := s.CreateSampleSizeChooser(ctx, p.Family.SampleSize)
	if err != nil {
		return err
	}
	chod, err := s.CreateBirthECChooser(ctx, p.Family.BirthEC)
	if err != nil {
		return err
	}
	cho, err := s.CreateChooserPair(ctx, chon, chod)
	if err != nil {
		return err
	}
	text, err := s.FamilyBirthday(ctx, fam, cho, p.Family.Test)
	if err != nil {
		return err
	}
	if text != "" {
		out.Outputs = append(out.Outputs, text)
	}
	return errors.Join(cho.Close(), chod.Close(), chon.Close(), fam.Close())
}

func runScatter(ctx context.Context, s *u01.Session, p Params, out *Outcome) error {
	gen, err := p.Source.Open(ctx, s)
	if err != nil {
		return err
	}
	text, err := s.PlotUnif(ctx, gen, p.Plot)
	if err != nil {
		return err
	}
	if text != "" {
		out.Outputs = append(out.Outputs, text)
	}
	out.Plots = append(out.Plots, p.Plot)
	return gen.Close()
}
