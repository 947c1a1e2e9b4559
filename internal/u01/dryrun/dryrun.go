// Package dryrun provides a u01.Backend that records the calls it receives
// instead of running them. It shows what a scenario would ask of the test
// library and serves as the library double in tests.
package dryrun

import (
	"fmt"
	"strings"
	"sync"

	"rng-u01/internal/u01"
)

// Call is one recorded backend call.
type Call struct {
	Op     string     `json:"op"`
	Args   []any      `json:"args,omitempty"`
	Handle u01.Handle `json:"handle,omitempty"`
}

func (c Call) String() string {
	var b strings.Builder
	b.WriteString(c.Op)
	b.WriteByte('(')
	for i, a := range c.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprint(&b, a)
	}
	b.WriteByte(')')
	if c.Handle != 0 {
		fmt.Fprintf(&b, " -> #%d", c.Handle)
	}
	return b.String()
}

type object struct {
	kind   u01.Kind
	delete string // op expected to free it
}

// Backend records calls. It is safe for concurrent use.
type Backend struct {
	mu      sync.Mutex
	calls   []Call
	next    u01.Handle
	live    map[u01.Handle]object
	fail    map[string]error
	poisson u01.PoissonStats
	extern  bool
}

func New() *Backend {
	return &Backend{live: make(map[u01.Handle]object), fail: make(map[string]error)}
}

// FailOn makes every later call to op return err.
func (b *Backend) FailOn(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail[op] = err
}

// SetPoisson sets what ReadPoisson reports.
func (b *Backend) SetPoisson(st u01.PoissonStats) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.poisson = st
}

// Calls returns a copy of the recorded calls.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// Ops returns the recorded operation names in order.
func (b *Backend) Ops() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.calls))
	for i, c := range b.calls {
		out[i] = c.Op
	}
	return out
}

// Live returns the number of objects created and not yet deleted.
func (b *Backend) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live)
}

// Reset forgets recorded calls; live objects stay.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

func (b *Backend) Name() string { return "dryrun" }

func (b *Backend) call(op string, args ...any) error {
	b.calls = append(b.calls, Call{Op: op, Args: args})
	return b.fail[op]
}

func (b *Backend) create(kind u01.Kind, del, op string, args ...any) (u01.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.call(op, args...); err != nil {
		return 0, err
	}
	b.next++
	b.live[b.next] = object{kind: kind, delete: del}
	b.calls[len(b.calls)-1].Handle = b.next
	return b.next, nil
}

func (b *Backend) destroy(kind u01.Kind, h u01.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.live[h]
	op := obj.delete
	if !ok || obj.kind != kind {
		op = "Delete(" + kind.String() + ")"
		b.calls = append(b.calls, Call{Op: op, Handle: h})
		return fmt.Errorf("%w: #%d", u01.ErrUnknownHandle, h)
	}
	b.calls = append(b.calls, Call{Op: op, Handle: h})
	if obj.delete == "DeleteExternGenBits" {
		b.extern = false
	}
	delete(b.live, h)
	return b.fail[op]
}

func (b *Backend) lookup(kind u01.Kind, hs ...u01.Handle) error {
	for _, h := range hs {
		if obj, ok := b.live[h]; !ok || obj.kind != kind {
			return fmt.Errorf("%w: #%d", u01.ErrUnknownHandle, h)
		}
	}
	return nil
}

func (b *Backend) SetVerbose(on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.call("SetVerbose", on)
}

func (b *Backend) CreateLCG(p u01.LCG) (u01.Handle, error) {
	return b.create(u01.KindGen, "DeleteLCG", "CreateLCG", p.M, p.A, p.C, p.S)
}

func (b *Backend) CreateJava48(seed uint64, jflag int) (u01.Handle, error) {
	return b.create(u01.KindGen, "DeleteJava48", "CreateJava48", seed, jflag)
}

func (b *Backend) CreateReadText(path string, nbuf int64) (u01.Handle, error) {
	return b.create(u01.KindGen, "DeleteReadText", "CreateReadText", path, nbuf)
}

func (b *Backend) CreateReadBin(path string, nbuf int64) (u01.Handle, error) {
	return b.create(u01.KindGen, "DeleteReadBin", "CreateReadBin", path, nbuf)
}

func (b *Backend) CreateExternBits(name string, next func() uint32) (u01.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.extern {
		return 0, fmt.Errorf("%w: an extern generator is already alive", u01.ErrBusy)
	}
	if err := b.call("CreateExternGenBits", name); err != nil {
		return 0, err
	}
	b.next++
	b.live[b.next] = object{kind: u01.KindGen, delete: "DeleteExternGenBits"}
	b.calls[len(b.calls)-1].Handle = b.next
	b.extern = true
	return b.next, nil
}

func (b *Backend) DeleteGen(h u01.Handle) error { return b.destroy(u01.KindGen, h) }

func (b *Backend) CreatePoisson() (u01.Handle, error) {
	return b.create(u01.KindPoisson, "DeletePoisson", "CreatePoisson")
}

func (b *Backend) ReadPoisson(h u01.Handle) (u01.PoissonStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.lookup(u01.KindPoisson, h); err != nil {
		return u01.PoissonStats{}, err
	}
	if err := b.call("ReadPoisson", h); err != nil {
		return u01.PoissonStats{}, err
	}
	return b.poisson, nil
}

func (b *Backend) DeletePoisson(h u01.Handle) error { return b.destroy(u01.KindPoisson, h) }

func (b *Backend) CreateLCGPow2Family(p u01.LCGPow2Family) (u01.Handle, error) {
	return b.create(u01.KindFamily, "DeleteLCGPow2", "CreateLCGPow2", p.I1, p.I2, p.IStep)
}

func (b *Backend) DeleteFamily(h u01.Handle) error { return b.destroy(u01.KindFamily, h) }

func (b *Backend) CreateSampleSizeChooser(p u01.SampleSizeChooser) (u01.Handle, error) {
	return b.create(u01.KindChooser, "DeleteSampleSize", "CreateSampleSize", p.A, p.B, p.C, p.Name)
}

func (b *Backend) CreateBirthECChooser(p u01.BirthECChooser) (u01.Handle, error) {
	return b.create(u01.KindChooser, "DeleteBirthEC", "CreateBirthEC", p.T, p.P, p.EC)
}

func (b *Backend) DeleteChooser(h u01.Handle) error { return b.destroy(u01.KindChooser, h) }

func (b *Backend) CreateChooserPair(n, d u01.Handle) (u01.Handle, error) {
	b.mu.Lock()
	err := b.lookup(u01.KindChooser, n, d)
	b.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return b.create(u01.KindChooserPair, "DeleteCho2", "CreateCho2", n, d)
}

func (b *Backend) DeleteChooserPair(h u01.Handle) error { return b.destroy(u01.KindChooserPair, h) }

func (b *Backend) RunBattery(bat u01.Battery, gen u01.Handle, p u01.BatteryParams) (u01.BatteryResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.lookup(u01.KindGen, gen); err != nil {
		return u01.BatteryResult{}, err
	}
	if err := b.call(bat.Title(), gen, p.NBits, p.R, p.S); err != nil {
		return u01.BatteryResult{}, err
	}
	return u01.BatteryResult{Output: fmt.Sprintf("dry run: %s not executed\n", bat.Title())}, nil
}

func (b *Backend) RunBatteryFile(bat u01.Battery, path string, p u01.BatteryParams) (u01.BatteryResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.call(bat.Title()+"File", path, p.NBits); err != nil {
		return u01.BatteryResult{}, err
	}
	return u01.BatteryResult{Output: fmt.Sprintf("dry run: %sFile not executed\n", bat.Title())}, nil
}

func (b *Backend) BirthdaySpacings(gen, res u01.Handle, p u01.BirthdayParams) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.lookup(u01.KindGen, gen); err != nil {
		return "", err
	}
	if err := b.lookup(u01.KindPoisson, res); err != nil {
		return "", err
	}
	if err := b.call("BirthdaySpacings", gen, res, p.N, p.Size, p.R, p.D, p.T, p.P); err != nil {
		return "", err
	}
	return "", nil
}

func (b *Backend) PlotUnif(gen u01.Handle, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.lookup(u01.KindGen, gen); err != nil {
		return "", err
	}
	return "", b.call("PlotUnif", gen, name)
}

func (b *Backend) FamilyBirthday(fam, pair u01.Handle, p u01.FamilyBirthdayParams) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.lookup(u01.KindFamily, fam); err != nil {
		return "", err
	}
	if err := b.lookup(u01.KindChooserPair, pair); err != nil {
		return "", err
	}
	return "", b.call("BirthdayS1", fam, pair, p.N, p.R, p.T, p.P, p.Nr, p.J1, p.J2, p.JStep)
}
