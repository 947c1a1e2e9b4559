package u01

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// ErrSessionClosed is returned by a Session after Close.
var ErrSessionClosed = errors.New("u01: session closed")

type resource struct {
	s        *Session
	id       int
	kind     Kind
	name     string
	h        Handle
	released bool
	refs     int // live resources holding this one
	deps     []*resource
	free     func(Handle) error
}

// Name is the human readable description given at acquisition.
func (r *resource) Name() string { return r.name }

// Released reports whether Close already ran.
func (r *resource) Released() bool { return r.released }

// Close releases the resource. The backend is reached at most once; later
// calls return ErrReleased.
func (r *resource) Close() error { return r.s.release(r) }

// Gen is an owned generator handle.
type Gen struct{ *resource }

// Poisson is an owned accumulator for tests whose statistic is a Poisson count.
type Poisson struct{ *resource }

// Family is an owned family of generators of increasing period.
type Family struct{ *resource }

// Chooser is an owned parameter chooser for family tests.
type Chooser struct{ *resource }

// ChooserPair combines a sample size chooser and a parameter chooser. It
// keeps both alive until it is released.
type ChooserPair struct{ *resource }

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used for acquisitions and releases.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// Session owns every resource acquired through it. A Session is meant to be
// used by one goroutine; it is not safe for concurrent use.
type Session struct {
	backend Backend
	log     zerolog.Logger
	trace   Trace
	owned   []*resource
	next    int
	closed  bool
}

func NewSession(b Backend, opts ...Option) *Session {
	s := &Session{backend: b, log: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run opens a Session, hands it to fn and closes it whatever fn does. A
// panic in fn propagates after every resource has been released.
func Run(ctx context.Context, b Backend, fn func(context.Context, *Session) error, opts ...Option) (trace *Trace, err error) {
	s := NewSession(b, opts...)
	defer func() {
		rec := recover()
		if cerr := s.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		trace = s.Trace()
		if rec != nil {
			panic(rec)
		}
	}()
	err = fn(ctx, s)
	return s.Trace(), err
}

func (s *Session) Backend() Backend { return s.backend }

// Trace returns the events recorded so far.
func (s *Session) Trace() *Trace { return &s.trace }

// Live returns the number of resources not yet released.
func (s *Session) Live() int {
	n := 0
	for _, r := range s.owned {
		if !r.released {
			n++
		}
	}
	return n
}

// Close releases every live resource, newest first.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	var errs []error
	for i := len(s.owned) - 1; i >= 0; i-- {
		r := s.owned[i]
		if r.released {
			continue
		}
		if err := s.release(r); err != nil {
			errs = append(errs, err)
		}
	}
	s.closed = true
	return errors.Join(errs...)
}

func (s *Session) check(r *resource) error {
	if r == nil {
		return invalidf("nil resource")
	}
	if r.s != s {
		return invalidf("%s belongs to another session", r.name)
	}
	if r.released {
		return fmt.Errorf("%s: %w", r.name, ErrReleased)
	}
	return nil
}

func (s *Session) acquire(ctx context.Context, kind Kind, name string, create func() (Handle, error), free func(Handle) error, deps ...*resource) (*resource, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, d := range deps {
		if err := s.check(d); err != nil {
			return nil, err
		}
	}
	h, err := create()
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	s.next++
	r := &resource{s: s, id: s.next, kind: kind, name: name, h: h, deps: deps, free: free}
	for _, d := range deps {
		d.refs++
		s.trace.record(OpUse, d, "held by "+name)
	}
	s.owned = append(s.owned, r)
	s.trace.record(OpAcquire, r, "")
	s.log.Debug().Int("id", r.id).Str("kind", kind.String()).Str("name", name).Msg("acquired")
	return r, nil
}

func (s *Session) use(ctx context.Context, call string, rs ...*resource) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, r := range rs {
		if err := s.check(r); err != nil {
			return err
		}
	}
	for _, r := range rs {
		s.trace.record(OpUse, r, call)
	}
	return nil
}

func (s *Session) release(r *resource) error {
	if err := s.check(r); err != nil {
		return err
	}
	if r.refs > 0 {
		return fmt.Errorf("%s: %w by %d resource(s)", r.name, ErrInUse, r.refs)
	}
	// Marked first: a failing backend delete must not be retried.
	r.released = true
	for _, d := range r.deps {
		d.refs--
	}
	s.trace.record(OpRelease, r, "")
	if err := r.free(r.h); err != nil {
		s.log.Error().Err(err).Int("id", r.id).Str("name", r.name).Msg("release failed")
		return fmt.Errorf("release %s: %w", r.name, err)
	}
	s.log.Debug().Int("id", r.id).Str("kind", r.kind.String()).Str("name", r.name).Msg("released")
	return nil
}

func res[T interface{ ~struct{ *resource } }](v *T) *resource {
	if v == nil {
		return nil
	}
	return struct{ *resource }(*v).resource
}

// checkFile stands in for the library's own check, which ends the process.
func checkFile(path string) (os.FileInfo, error) {
	if strings.TrimSpace(path) == "" {
		return nil, invalidf("file path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParam, err)
	}
	if !info.Mode().IsRegular() {
		return nil, invalidf("%s is not a regular file", path)
	}
	return info, nil
}

// countUniforms counts the numbers in [0, 1) of a text file, stopping at
// limit. Anything else in the file is an error.
func countUniforms(path string, limit int64) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidParam, err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Split(bufio.ScanWords)
	var n int64
	for n < limit && sc.Scan() {
		u, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil || u < 0 || u >= 1 {
			return n, invalidf("%s: value #%d %q is not a uniform in [0, 1)", path, n+1, sc.Text())
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("%w: %s: %v", ErrInvalidParam, path, err)
	}
	return n, nil
}

// SetVerbose switches the library's detailed report on or off for the
// calls that follow.
func (s *Session) SetVerbose(on bool) error {
	if s.closed {
		return ErrSessionClosed
	}
	return s.backend.SetVerbose(on)
}

// CreateLCG acquires a linear congruential generator.
func (s *Session) CreateLCG(ctx context.Context, p LCG) (*Gen, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("LCG(m=%d, a=%d, c=%d, s=%d)", p.M, p.A, p.C, p.S)
	r, err := s.acquire(ctx, KindGen, name, func() (Handle, error) { return s.backend.CreateLCG(p) }, s.backend.DeleteGen)
	if err != nil {
		return nil, err
	}
	return &Gen{r}, nil
}

// CreateJava48 acquires the 48-bit generator of java.util.Random. With jflag
// set the seed is scrambled the way Java does it.
func (s *Session) CreateJava48(ctx context.Context, seed uint64, jflag int) (*Gen, error) {
	if jflag != 0 && jflag != 1 {
		return nil, invalidf("java48: jflag must be 0 or 1, got %d", jflag)
	}
	name := fmt.Sprintf("Java48(s=%d, jflag=%d)", seed, jflag)
	r, err := s.acquire(ctx, KindGen, name, func() (Handle, error) { return s.backend.CreateJava48(seed, jflag) }, s.backend.DeleteGen)
	if err != nil {
		return nil, err
	}
	return &Gen{r}, nil
}

// CreateReadText acquires a generator returning the uniforms written as text
// in path, buffering nbuf of them at a time.
func (s *Session) CreateReadText(ctx context.Context, path string, nbuf int64) (*Gen, error) {
	if _, err := checkFile(path); err != nil {
		return nil, err
	}
	if nbuf < 1 {
		return nil, invalidf("readtext: nbuf must be positive, got %d", nbuf)
	}
	if n, err := countUniforms(path, 1); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, invalidf("readtext: %s holds no uniforms", path)
	}
	name := fmt.Sprintf("ReadText(%s)", path)
	r, err := s.acquire(ctx, KindGen, name, func() (Handle, error) { return s.backend.CreateReadText(path, nbuf) }, s.backend.DeleteGen)
	if err != nil {
		return nil, err
	}
	return &Gen{r}, nil
}

// CreateReadBin acquires a generator returning the bits of a binary file.
func (s *Session) CreateReadBin(ctx context.Context, path string, nbuf int64) (*Gen, error) {
	if _, err := checkFile(path); err != nil {
		return nil, err
	}
	if nbuf < 1 {
		return nil, invalidf("readbin: nbuf must be positive, got %d", nbuf)
	}
	name := fmt.Sprintf("ReadBin(%s)", path)
	r, err := s.acquire(ctx, KindGen, name, func() (Handle, error) { return s.backend.CreateReadBin(path, nbuf) }, s.backend.DeleteGen)
	if err != nil {
		return nil, err
	}
	return &Gen{r}, nil
}

// CreateExternBits acquires a generator whose 32-bit outputs come from next.
func (s *Session) CreateExternBits(ctx context.Context, name string, next func() uint32) (*Gen, error) {
	if strings.TrimSpace(name) == "" {
		return nil, invalidf("extern: name is required")
	}
	if next == nil {
		return nil, invalidf("extern: nil source")
	}
	r, err := s.acquire(ctx, KindGen, name, func() (Handle, error) { return s.backend.CreateExternBits(name, next) }, s.backend.DeleteGen)
	if err != nil {
		return nil, err
	}
	return &Gen{r}, nil
}

func (s *Session) CreatePoisson(ctx context.Context) (*Poisson, error) {
	r, err := s.acquire(ctx, KindPoisson, "Poisson", s.backend.CreatePoisson, s.backend.DeletePoisson)
	if err != nil {
		return nil, err
	}
	return &Poisson{r}, nil
}

func (s *Session) CreateLCGPow2Family(ctx context.Context, p LCGPow2Family) (*Family, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("LCGPow2(i=%d..%d by %d)", p.I1, p.I2, p.IStep)
	r, err := s.acquire(ctx, KindFamily, name, func() (Handle, error) { return s.backend.CreateLCGPow2Family(p) }, s.backend.DeleteFamily)
	if err != nil {
		return nil, err
	}
	return &Family{r}, nil
}

func (s *Session) CreateSampleSizeChooser(ctx context.Context, p SampleSizeChooser) (*Chooser, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("SampleSize(%s)", p.Name)
	r, err := s.acquire(ctx, KindChooser, name, func() (Handle, error) { return s.backend.CreateSampleSizeChooser(p) }, s.backend.DeleteChooser)
	if err != nil {
		return nil, err
	}
	return &Chooser{r}, nil
}

func (s *Session) CreateBirthECChooser(ctx context.Context, p BirthECChooser) (*Chooser, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("BirthEC(t=%d, p=%d, ec=%g)", p.T, p.P, p.EC)
	r, err := s.acquire(ctx, KindChooser, name, func() (Handle, error) { return s.backend.CreateBirthECChooser(p) }, s.backend.DeleteChooser)
	if err != nil {
		return nil, err
	}
	return &Chooser{r}, nil
}

// CreateChooserPair acquires a pair that references n and d. Neither can be
// released before the pair.
func (s *Session) CreateChooserPair(ctx context.Context, n, d *Chooser) (*ChooserPair, error) {
	rn, rd := res(n), res(d)
	if rn == nil || rd == nil {
		return nil, invalidf("chooser pair: nil chooser")
	}
	name := fmt.Sprintf("Pair(%s, %s)", rn.name, rd.name)
	r, err := s.acquire(ctx, KindChooserPair, name, func() (Handle, error) { return s.backend.CreateChooserPair(rn.h, rd.h) }, s.backend.DeleteChooserPair, rn, rd)
	if err != nil {
		return nil, err
	}
	return &ChooserPair{r}, nil
}

// Battery runs battery b on g.
func (s *Session) Battery(ctx context.Context, b Battery, g *Gen, p BatteryParams) (*BatteryResult, error) {
	if err := p.Validate(b, false); err != nil {
		return nil, err
	}
	rg := res(g)
	if err := s.use(ctx, b.Title(), rg); err != nil {
		return nil, err
	}
	out, err := s.backend.RunBattery(b, rg.h, p)
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", b.Title(), rg.name, err)
	}
	out.Battery = b
	out.Source = rg.name
	return &out, nil
}

// BatteryFile runs the file variant of battery b on the bits of path.
func (s *Session) BatteryFile(ctx context.Context, b Battery, path string, p BatteryParams) (*BatteryResult, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if err := p.Validate(b, true); err != nil {
		return nil, err
	}
	info, err := checkFile(path)
	if err != nil {
		return nil, err
	}
	avail := float64(info.Size()) * 8
	if p.NBits > avail {
		return nil, invalidf("%s holds %g bits, %g requested", path, avail, p.NBits)
	}
	minBits, minUniforms := b.FileMinimum()
	if avail < minBits {
		return nil, invalidf("%s on a file needs %g bits, %s holds %g", b.Title(), minBits, path, avail)
	}
	if minUniforms > 0 {
		n, err := countUniforms(path, minUniforms)
		if err != nil {
			return nil, err
		}
		if n < minUniforms {
			return nil, invalidf("%s on a file needs %d uniforms, %s holds %d", b.Title(), minUniforms, path, n)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := s.backend.RunBatteryFile(b, path, p)
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", b.Title(), path, err)
	}
	out.Battery = b
	out.Source = path
	return &out, nil
}

// BirthdaySpacings runs the birthday spacings test on g and leaves its
// statistics in acc.
func (s *Session) BirthdaySpacings(ctx context.Context, g *Gen, acc *Poisson, p BirthdayParams) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	rg, ra := res(g), res(acc)
	if err := s.use(ctx, "BirthdaySpacings "+p.String(), rg, ra); err != nil {
		return "", err
	}
	out, err := s.backend.BirthdaySpacings(rg.h, ra.h, p)
	if err != nil {
		return out, fmt.Errorf("birthday spacings on %s: %w", rg.name, err)
	}
	return out, nil
}

// Stats reads the accumulator's current statistics.
func (p *Poisson) Stats(ctx context.Context) (PoissonStats, error) {
	r := res(p)
	if r == nil {
		return PoissonStats{}, invalidf("nil accumulator")
	}
	if err := r.s.use(ctx, "read", r); err != nil {
		return PoissonStats{}, err
	}
	return r.s.backend.ReadPoisson(r.h)
}

// PlotUnif draws the scatter plot configured by name from g's outputs. The
// plot parameters are read from name.dat; the plot is written next to it.
func (s *Session) PlotUnif(ctx context.Context, g *Gen, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", invalidf("scatter: plot name is required")
	}
	if _, err := checkFile(name + ".dat"); err != nil {
		return "", err
	}
	rg := res(g)
	if err := s.use(ctx, "PlotUnif "+name, rg); err != nil {
		return "", err
	}
	out, err := s.backend.PlotUnif(rg.h, name)
	if err != nil {
		return out, fmt.Errorf("scatter plot %s: %w", name, err)
	}
	return out, nil
}

// FamilyBirthday runs the birthday test over every member of fam with sample
// sizes and d picked by pair.
func (s *Session) FamilyBirthday(ctx context.Context, fam *Family, pair *ChooserPair, p FamilyBirthdayParams) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	rf, rp := res(fam), res(pair)
	if err := s.use(ctx, "BirthdayS1", rf, rp); err != nil {
		return "", err
	}
	out, err := s.backend.FamilyBirthday(rf.h, rp.h, p)
	if err != nil {
		return out, fmt.Errorf("family birthday on %s: %w", rf.name, err)
	}
	return out, nil
}
