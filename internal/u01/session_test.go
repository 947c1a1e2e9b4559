package u01_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rng-u01/internal/u01"
	"rng-u01/internal/u01/dryrun"
)

var minstd = u01.LCG{M: 2147483647, A: 16807, C: 0, S: 12345}

func TestRunReleasesOnSuccess(t *testing.T) {
	b := dryrun.New()
	trace, err := u01.Run(context.Background(), b, func(ctx context.Context, s *u01.Session) error {
		g, err := s.CreateLCG(ctx, minstd)
		if err != nil {
			return err
		}
		_, err = s.Battery(ctx, u01.SmallCrush, g, u01.BatteryParams{})
		return err
	})
	require.NoError(t, err)
	require.NoError(t, trace.Verify())
	assert.Equal(t, []string{"CreateLCG", "SmallCrush", "DeleteLCG"}, b.Ops())
	assert.Zero(t, b.Live())
}

func TestRunReleasesOnError(t *testing.T) {
	b := dryrun.New()
	boom := errors.New("boom")
	trace, err := u01.Run(context.Background(), b, func(ctx context.Context, s *u01.Session) error {
		if _, err := s.CreateLCG(ctx, minstd); err != nil {
			return err
		}
		if _, err := s.CreatePoisson(ctx); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, trace.Verify())
	assert.Equal(t, []string{"CreateLCG", "CreatePoisson", "DeletePoisson", "DeleteLCG"}, b.Ops())
	assert.Zero(t, b.Live())
}

func TestRunReleasesOnPanic(t *testing.T) {
	b := dryrun.New()
	require.PanicsWithValue(t, "boom", func() {
		_, _ = u01.Run(context.Background(), b, func(ctx context.Context, s *u01.Session) error {
			if _, err := s.CreateLCG(ctx, minstd); err != nil {
				return err
			}
			panic("boom")
		})
	})
	assert.Equal(t, []string{"CreateLCG", "DeleteLCG"}, b.Ops())
	assert.Zero(t, b.Live())
}

func TestReleaseExactlyOnce(t *testing.T) {
	b := dryrun.New()
	s := u01.NewSession(b)
	ctx := context.Background()

	g, err := s.CreateLCG(ctx, minstd)
	require.NoError(t, err)
	require.NoError(t, g.Close())
	assert.True(t, g.Released())

	assert.ErrorIs(t, g.Close(), u01.ErrReleased)
	_, err = s.Battery(ctx, u01.SmallCrush, g, u01.BatteryParams{})
	assert.ErrorIs(t, err, u01.ErrReleased)
	require.NoError(t, s.Close())

	assert.Equal(t, []string{"CreateLCG", "DeleteLCG"}, b.Ops())
	require.NoError(t, s.Trace().Verify())
}

func TestFailedDeleteIsNotRetried(t *testing.T) {
	b := dryrun.New()
	broken := errors.New("broken")
	b.FailOn("DeleteLCG", broken)
	s := u01.NewSession(b)

	g, err := s.CreateLCG(context.Background(), minstd)
	require.NoError(t, err)
	require.ErrorIs(t, g.Close(), broken)
	assert.ErrorIs(t, g.Close(), u01.ErrReleased)
	require.NoError(t, s.Close())
	assert.Equal(t, []string{"CreateLCG", "DeleteLCG"}, b.Ops())
}

func TestFailedCreateAcquiresNothing(t *testing.T) {
	b := dryrun.New()
	b.FailOn("CreatePoisson", errors.New("no memory"))
	s := u01.NewSession(b)

	_, err := s.CreatePoisson(context.Background())
	require.Error(t, err)
	assert.Zero(t, s.Live())
	assert.Empty(t, s.Trace().Events)
	require.NoError(t, s.Close())
	assert.Equal(t, []string{"CreatePoisson"}, b.Ops())
}

func TestCloseReleasesNewestFirst(t *testing.T) {
	b := dryrun.New()
	s := u01.NewSession(b)
	ctx := context.Background()

	fam, err := s.CreateLCGPow2Family(ctx, u01.LCGPow2Family{I1: 10, I2: 30, IStep: 1})
	require.NoError(t, err)
	chon, err := s.CreateSampleSizeChooser(ctx, u01.SampleSizeChooser{A: 1.0 / 3.0, B: 1, Name: "n"})
	require.NoError(t, err)
	chod, err := s.CreateBirthECChooser(ctx, u01.BirthECChooser{T: 1, P: 2, EC: 1})
	require.NoError(t, err)
	_, err = s.CreateChooserPair(ctx, chon, chod)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Live())
	_ = fam

	b.Reset()
	require.NoError(t, s.Close())
	assert.Equal(t, []string{"DeleteCho2", "DeleteBirthEC", "DeleteSampleSize", "DeleteLCGPow2"}, b.Ops())
	assert.Zero(t, s.Live())
	assert.Zero(t, b.Live())
	require.NoError(t, s.Trace().Verify())

	// Idempotent.
	require.NoError(t, s.Close())
}

func TestChooserPairHoldsItsChoosers(t *testing.T) {
	b := dryrun.New()
	s := u01.NewSession(b)
	ctx := context.Background()

	chon, err := s.CreateSampleSizeChooser(ctx, u01.SampleSizeChooser{A: 1, B: 1, Name: "n"})
	require.NoError(t, err)
	chod, err := s.CreateBirthECChooser(ctx, u01.BirthECChooser{T: 1, P: 2, EC: 1})
	require.NoError(t, err)
	pair, err := s.CreateChooserPair(ctx, chon, chod)
	require.NoError(t, err)

	assert.ErrorIs(t, chon.Close(), u01.ErrInUse)
	assert.ErrorIs(t, chod.Close(), u01.ErrInUse)
	assert.False(t, chon.Released())

	require.NoError(t, pair.Close())
	require.NoError(t, chod.Close())
	require.NoError(t, chon.Close())
	require.NoError(t, s.Trace().Verify())
	assert.Equal(t, []string{
		"CreateSampleSize", "CreateBirthEC", "CreateCho2",
		"DeleteCho2", "DeleteBirthEC", "DeleteSampleSize",
	}, b.Ops())
}

func TestChooserPairRejectsReleasedChooser(t *testing.T) {
	s := u01.NewSession(dryrun.New())
	ctx := context.Background()
	chon, err := s.CreateSampleSizeChooser(ctx, u01.SampleSizeChooser{A: 1, B: 1, Name: "n"})
	require.NoError(t, err)
	chod, err := s.CreateBirthECChooser(ctx, u01.BirthECChooser{T: 1, P: 2, EC: 1})
	require.NoError(t, err)
	require.NoError(t, chod.Close())

	_, err = s.CreateChooserPair(ctx, chon, chod)
	assert.ErrorIs(t, err, u01.ErrReleased)
	_, err = s.CreateChooserPair(ctx, chon, nil)
	assert.ErrorIs(t, err, u01.ErrInvalidParam)
	require.NoError(t, s.Close())
}

func TestResourceFromAnotherSession(t *testing.T) {
	b := dryrun.New()
	ctx := context.Background()
	s1, s2 := u01.NewSession(b), u01.NewSession(b)
	g, err := s1.CreateLCG(ctx, minstd)
	require.NoError(t, err)

	_, err = s2.Battery(ctx, u01.SmallCrush, g, u01.BatteryParams{})
	assert.ErrorIs(t, err, u01.ErrInvalidParam)
	require.NoError(t, s1.Close())
	require.NoError(t, s2.Close())
}

func TestClosedSession(t *testing.T) {
	b := dryrun.New()
	s := u01.NewSession(b)
	require.NoError(t, s.Close())

	_, err := s.CreateLCG(context.Background(), minstd)
	assert.ErrorIs(t, err, u01.ErrSessionClosed)
	assert.ErrorIs(t, s.SetVerbose(true), u01.ErrSessionClosed)
	assert.Empty(t, b.Ops())
}

func TestCancelledContextStopsBeforeTheLibrary(t *testing.T) {
	b := dryrun.New()
	s := u01.NewSession(b)
	g, err := s.CreateLCG(context.Background(), minstd)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.CreatePoisson(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.Battery(ctx, u01.SmallCrush, g, u01.BatteryParams{})
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, s.Close())
	assert.Equal(t, []string{"CreateLCG", "DeleteLCG"}, b.Ops())
}

func TestParametersCheckedBeforeTheLibrary(t *testing.T) {
	b := dryrun.New()
	s := u01.NewSession(b)
	ctx := context.Background()
	t.Cleanup(func() { _ = s.Close() })

	_, err := s.CreateLCG(ctx, u01.LCG{M: 2147483647, A: 0, S: 1})
	assert.ErrorIs(t, err, u01.ErrInvalidParam)
	_, err = s.CreateJava48(ctx, 1, 2)
	assert.ErrorIs(t, err, u01.ErrInvalidParam)
	_, err = s.CreateReadText(ctx, filepath.Join(t.TempDir(), "missing.pts"), 100)
	assert.ErrorIs(t, err, u01.ErrInvalidParam)
	_, err = s.CreateReadBin(ctx, t.TempDir(), 100)
	assert.ErrorIs(t, err, u01.ErrInvalidParam)
	_, err = s.CreateExternBits(ctx, "", func() uint32 { return 0 })
	assert.ErrorIs(t, err, u01.ErrInvalidParam)
	_, err = s.CreateLCGPow2Family(ctx, u01.LCGPow2Family{I1: 30, I2: 10, IStep: 1})
	assert.ErrorIs(t, err, u01.ErrInvalidParam)

	g, err := s.CreateLCG(ctx, minstd)
	require.NoError(t, err)
	acc, err := s.CreatePoisson(ctx)
	require.NoError(t, err)

	_, err = s.Battery(ctx, u01.Alphabit, g, u01.BatteryParams{NBits: 0, R: 0, S: 32})
	assert.ErrorIs(t, err, u01.ErrInvalidParam)
	_, err = s.Battery(ctx, u01.Alphabit, g, u01.BatteryParams{NBits: 1 << 20, R: 8, S: 32})
	assert.ErrorIs(t, err, u01.ErrInvalidParam)
	_, err = s.BirthdaySpacings(ctx, g, acc, u01.BirthdayParams{N: 1, Size: 1000, D: 10000, T: 2, P: 3})
	assert.ErrorIs(t, err, u01.ErrInvalidParam)
	_, err = s.PlotUnif(ctx, g, filepath.Join(t.TempDir(), "noparams"))
	assert.ErrorIs(t, err, u01.ErrInvalidParam)

	assert.Equal(t, []string{"CreateLCG", "CreatePoisson"}, b.Ops())
}

func TestBirthdaySpacingsFillsAccumulator(t *testing.T) {
	b := dryrun.New()
	want := u01.PoissonStats{Lambda: 2.5, Mu: 2.5, Observed: 3, PValue: 0.46}
	b.SetPoisson(want)

	_, err := u01.Run(context.Background(), b, func(ctx context.Context, s *u01.Session) error {
		g, err := s.CreateLCG(ctx, minstd)
		require.NoError(t, err)
		acc, err := s.CreatePoisson(ctx)
		require.NoError(t, err)
		_, err = s.BirthdaySpacings(ctx, g, acc, u01.BirthdayParams{N: 1, Size: 1000, D: 10000, T: 2, P: 1})
		require.NoError(t, err)
		got, err := acc.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		require.NoError(t, acc.Close())
		_, err = acc.Stats(ctx)
		assert.ErrorIs(t, err, u01.ErrReleased)
		return g.Close()
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"CreateLCG", "CreatePoisson", "BirthdaySpacings", "ReadPoisson", "DeletePoisson", "DeleteLCG"}, b.Ops())
}

func TestOneExternGeneratorAtATime(t *testing.T) {
	b := dryrun.New()
	s := u01.NewSession(b)
	ctx := context.Background()
	next := func() uint32 { return 42 }

	g, err := s.CreateExternBits(ctx, "const", next)
	require.NoError(t, err)
	_, err = s.CreateExternBits(ctx, "const2", next)
	assert.ErrorIs(t, err, u01.ErrBusy)

	require.NoError(t, g.Close())
	_, err = s.CreateExternBits(ctx, "const3", next)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Trace().Verify())
}

func TestBatteryFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bits.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 16), 0o644))

	b := dryrun.New()
	s := u01.NewSession(b)
	ctx := context.Background()
	t.Cleanup(func() { _ = s.Close() })

	res, err := s.BatteryFile(ctx, u01.Alphabit, path, u01.BatteryParams{NBits: 128})
	require.NoError(t, err)
	assert.Equal(t, u01.Alphabit, res.Battery)
	assert.Equal(t, path, res.Source)

	_, err = s.BatteryFile(ctx, u01.Alphabit, path, u01.BatteryParams{NBits: 129})
	assert.ErrorIs(t, err, u01.ErrInvalidParam)
	_, err = s.BatteryFile(ctx, u01.Crush, path, u01.BatteryParams{})
	assert.ErrorIs(t, err, u01.ErrInvalidParam)

	assert.Equal(t, []string{"AlphabitFile"}, b.Ops())
}

func TestBatteryFileMinimum(t *testing.T) {
	dir := t.TempDir()
	short := filepath.Join(dir, "short.bin")
	require.NoError(t, os.WriteFile(short, []byte{0xAB, 0xCD}, 0o644))
	block := filepath.Join(dir, "block.bin")
	require.NoError(t, os.WriteFile(block, make([]byte, 2500), 0o644))
	few := filepath.Join(dir, "few.txt")
	require.NoError(t, os.WriteFile(few, []byte("0.1 0.2\n0.3\n"), 0o644))
	junk := filepath.Join(dir, "junk.txt")
	require.NoError(t, os.WriteFile(junk, []byte("0.1 1.5\n"), 0o644))

	b := dryrun.New()
	s := u01.NewSession(b)
	ctx := context.Background()
	t.Cleanup(func() { _ = s.Close() })

	_, err := s.BatteryFile(ctx, u01.FIPS1402, short, u01.BatteryParams{})
	require.ErrorIs(t, err, u01.ErrInvalidParam)
	assert.Contains(t, err.Error(), "needs 20000 bits")
	_, err = s.BatteryFile(ctx, u01.FIPS1402, block, u01.BatteryParams{})
	require.NoError(t, err)

	_, err = s.BatteryFile(ctx, u01.SmallCrush, few, u01.BatteryParams{})
	require.ErrorIs(t, err, u01.ErrInvalidParam)
	assert.Contains(t, err.Error(), "needs 51320000 uniforms")
	_, err = s.BatteryFile(ctx, u01.SmallCrush, junk, u01.BatteryParams{})
	require.ErrorIs(t, err, u01.ErrInvalidParam)
	assert.Contains(t, err.Error(), `"1.5"`)

	assert.Equal(t, []string{"FIPS-140-2File"}, b.Ops())

	bits, uniforms := u01.Rabbit.FileMinimum()
	assert.Zero(t, bits)
	assert.Zero(t, uniforms)
}

func TestReadTextNeedsUniforms(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.pts")
	require.NoError(t, os.WriteFile(empty, []byte(" \n"), 0o644))
	words := filepath.Join(dir, "words.pts")
	require.NoError(t, os.WriteFile(words, []byte("x y\n"), 0o644))

	b := dryrun.New()
	s := u01.NewSession(b)
	ctx := context.Background()
	t.Cleanup(func() { _ = s.Close() })

	_, err := s.CreateReadText(ctx, empty, 100)
	assert.ErrorIs(t, err, u01.ErrInvalidParam)
	_, err = s.CreateReadText(ctx, words, 100)
	assert.ErrorIs(t, err, u01.ErrInvalidParam)
	assert.Empty(t, b.Ops())
}

func TestPlotUnifNeedsParameterFile(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "excel")
	require.NoError(t, os.WriteFile(name+".dat", []byte("params"), 0o644))
	pts := filepath.Join(dir, "excel.pts")
	require.NoError(t, os.WriteFile(pts, []byte("0.5 0.25\n"), 0o644))

	b := dryrun.New()
	trace, err := u01.Run(context.Background(), b, func(ctx context.Context, s *u01.Session) error {
		g, err := s.CreateReadText(ctx, pts, 100000)
		if err != nil {
			return err
		}
		_, err = s.PlotUnif(ctx, g, name)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, trace.Verify())
	assert.Equal(t, []string{"CreateReadText", "PlotUnif", "DeleteReadText"}, b.Ops())
}

func TestTraceRecordsDependencies(t *testing.T) {
	s := u01.NewSession(dryrun.New())
	ctx := context.Background()
	chon, err := s.CreateSampleSizeChooser(ctx, u01.SampleSizeChooser{A: 1, B: 1, Name: "n"})
	require.NoError(t, err)
	chod, err := s.CreateBirthECChooser(ctx, u01.BirthECChooser{T: 1, P: 2, EC: 1})
	require.NoError(t, err)
	pair, err := s.CreateChooserPair(ctx, chon, chod)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	var held []string
	for _, e := range s.Trace().Events {
		if e.Op == u01.OpUse {
			held = append(held, e.Name+": "+e.Call)
		}
	}
	assert.Equal(t, []string{
		"SampleSize(n): held by " + pair.Name(),
		"BirthEC(t=1, p=2, ec=1): held by " + pair.Name(),
	}, held)
}
