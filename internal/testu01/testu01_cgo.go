//go:build cgo && testu01

package testu01

/*
#cgo CFLAGS: -I${SRCDIR}/../../third_party/TestU01/include
#cgo LDFLAGS: -L${SRCDIR}/../../third_party/TestU01/lib -ltestu01 -lprobdist -lmylib -lm
#include <stdio.h>
#include <stdlib.h>
#include "unif01.h"
#include "ulcg.h"
#include "usoft.h"
#include "ufile.h"
#include "swrite.h"
#include "sres.h"
#include "smarsa.h"
#include "bbattery.h"
#include "scatter.h"
#include "ffam.h"
#include "fcong.h"
#include "fcho.h"
#include "fmarsa.h"

extern unsigned int u01GoBits(void);

static unif01_Gen *u01_create_extern(char *name) {
	return unif01_CreateExternGenBits(name, u01GoBits);
}
static void u01_set_verbose(int on) { swrite_Basic = on ? TRUE : FALSE; }
static int u01_ntests(void) { return bbattery_NTests; }
static double u01_pval(int i) { return bbattery_pVal[i]; }
static char *u01_test_name(int i) { return bbattery_TestNames[i]; }
static void u01_flush(void) { fflush(stdout); }
*/
import "C"

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"rng-u01/internal/u01"
)

type object struct {
	kind u01.Kind
	ptr  unsafe.Pointer
	free func()
}

// Backend calls TestU01. The library keeps global state (the battery
// p-value table, the verbosity switch), so every call holds one mutex and
// there is a single Backend per process.
type Backend struct {
	mu     sync.Mutex
	objs   map[u01.Handle]*object
	next   u01.Handle
	extern u01.Handle
}

var (
	once   sync.Once
	shared *Backend
)

// New returns the process-wide backend.
func New() *Backend {
	once.Do(func() {
		shared = &Backend{objs: make(map[u01.Handle]*object)}
	})
	return shared
}

func (b *Backend) Name() string { return Name }

func (b *Backend) put(kind u01.Kind, ptr unsafe.Pointer, free func()) (u01.Handle, error) {
	if ptr == nil {
		return 0, fmt.Errorf("testu01: %s creation returned NULL", kind)
	}
	b.next++
	b.objs[b.next] = &object{kind: kind, ptr: ptr, free: free}
	return b.next, nil
}

func (b *Backend) get(kind u01.Kind, h u01.Handle) (unsafe.Pointer, error) {
	o, ok := b.objs[h]
	if !ok || o.kind != kind {
		return nil, fmt.Errorf("%w: %s #%d", u01.ErrUnknownHandle, kind, h)
	}
	return o.ptr, nil
}

func (b *Backend) drop(kind u01.Kind, h u01.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.objs[h]
	if !ok || o.kind != kind {
		return fmt.Errorf("%w: %s #%d", u01.ErrUnknownHandle, kind, h)
	}
	delete(b.objs, h)
	o.free()
	if h == b.extern {
		b.extern = 0
		externNext = nil
	}
	return nil
}

// capture runs fn with the process stdout redirected into a pipe and
// returns what the library printed.
func capture(fn func()) (string, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return "", fmt.Errorf("testu01: capture pipe: %w", err)
	}
	saved, err := unix.Dup(1)
	if err != nil {
		r.Close()
		w.Close()
		return "", fmt.Errorf("testu01: dup stdout: %w", err)
	}
	C.u01_flush()
	if err := unix.Dup2(int(w.Fd()), 1); err != nil {
		unix.Close(saved)
		r.Close()
		w.Close()
		return "", fmt.Errorf("testu01: redirect stdout: %w", err)
	}
	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(&buf, r)
		close(done)
	}()

	fn()

	C.u01_flush()
	err = unix.Dup2(saved, 1)
	unix.Close(saved)
	w.Close()
	<-done
	r.Close()
	if err != nil {
		return buf.String(), fmt.Errorf("testu01: restore stdout: %w", err)
	}
	return buf.String(), nil
}

func (b *Backend) SetVerbose(on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := 0
	if on {
		v = 1
	}
	C.u01_set_verbose(C.int(v))
	return nil
}

func (b *Backend) CreateLCG(p u01.LCG) (u01.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g := C.ulcg_CreateLCG(C.long(p.M), C.long(p.A), C.long(p.C), C.long(p.S))
	return b.put(u01.KindGen, unsafe.Pointer(g), func() { C.ulcg_DeleteGen(g) })
}

func (b *Backend) CreateJava48(seed uint64, jflag int) (u01.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g := C.usoft_CreateJava48(C.ulonglong(seed), C.int(jflag))
	return b.put(u01.KindGen, unsafe.Pointer(g), func() { C.usoft_DeleteGen(g) })
}

func (b *Backend) CreateReadText(path string, nbuf int64) (u01.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cpath := C.CString(path)
	g := C.ufile_CreateReadText(cpath, C.long(nbuf))
	h, err := b.put(u01.KindGen, unsafe.Pointer(g), func() {
		C.ufile_DeleteReadText(g)
		C.free(unsafe.Pointer(cpath))
	})
	if err != nil {
		C.free(unsafe.Pointer(cpath))
	}
	return h, err
}

func (b *Backend) CreateReadBin(path string, nbuf int64) (u01.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cpath := C.CString(path)
	g := C.ufile_CreateReadBin(cpath, C.long(nbuf))
	h, err := b.put(u01.KindGen, unsafe.Pointer(g), func() {
		C.ufile_DeleteReadBin(g)
		C.free(unsafe.Pointer(cpath))
	})
	if err != nil {
		C.free(unsafe.Pointer(cpath))
	}
	return h, err
}

// CreateExternBits wraps next as a library generator. The library calls
// back through a single C function, so only one can be alive at a time.
func (b *Backend) CreateExternBits(name string, next func() uint32) (u01.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.extern != 0 {
		return 0, fmt.Errorf("%w: extern generator #%d still alive", u01.ErrBusy, b.extern)
	}
	externNext = next
	cname := C.CString(name)
	g := C.u01_create_extern(cname)
	h, err := b.put(u01.KindGen, unsafe.Pointer(g), func() {
		C.unif01_DeleteExternGenBits(g)
		C.free(unsafe.Pointer(cname))
	})
	if err != nil {
		externNext = nil
		C.free(unsafe.Pointer(cname))
		return 0, err
	}
	b.extern = h
	return h, nil
}

func (b *Backend) DeleteGen(h u01.Handle) error { return b.drop(u01.KindGen, h) }

func (b *Backend) CreatePoisson() (u01.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := C.sres_CreatePoisson()
	return b.put(u01.KindPoisson, unsafe.Pointer(r), func() { C.sres_DeletePoisson(r) })
}

func (b *Backend) ReadPoisson(h u01.Handle) (u01.PoissonStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ptr, err := b.get(u01.KindPoisson, h)
	if err != nil {
		return u01.PoissonStats{}, err
	}
	r := (*C.sres_Poisson)(ptr)
	return u01.PoissonStats{
		Lambda:   float64(r.Lambda),
		Mu:       float64(r.Mu),
		Observed: float64(r.sVal2),
		PValue:   float64(r.pVal2),
	}, nil
}

func (b *Backend) DeletePoisson(h u01.Handle) error { return b.drop(u01.KindPoisson, h) }

func (b *Backend) CreateLCGPow2Family(p u01.LCGPow2Family) (u01.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f := C.fcong_CreateLCGPow2(nil, C.int(p.I1), C.int(p.I2), C.int(p.IStep))
	return b.put(u01.KindFamily, unsafe.Pointer(f), func() { C.fcong_DeleteLCGPow2(f) })
}

func (b *Backend) DeleteFamily(h u01.Handle) error { return b.drop(u01.KindFamily, h) }

func (b *Backend) CreateSampleSizeChooser(p u01.SampleSizeChooser) (u01.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cname := C.CString(p.Name)
	c := C.fcho_CreateSampleSize(C.double(p.A), C.double(p.B), C.double(p.C), nil, cname)
	h, err := b.put(u01.KindChooser, unsafe.Pointer(c), func() {
		C.fcho_DeleteSampleSize(c)
		C.free(unsafe.Pointer(cname))
	})
	if err != nil {
		C.free(unsafe.Pointer(cname))
	}
	return h, err
}

func (b *Backend) CreateBirthECChooser(p u01.BirthECChooser) (u01.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := C.fmarsa_CreateBirthEC(C.int(p.T), C.int(p.P), C.double(p.EC))
	return b.put(u01.KindChooser, unsafe.Pointer(c), func() { C.fmarsa_DeleteBirthEC(c) })
}

func (b *Backend) DeleteChooser(h u01.Handle) error { return b.drop(u01.KindChooser, h) }

func (b *Backend) CreateChooserPair(n, d u01.Handle) (u01.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pn, err := b.get(u01.KindChooser, n)
	if err != nil {
		return 0, err
	}
	pd, err := b.get(u01.KindChooser, d)
	if err != nil {
		return 0, err
	}
	c := C.fcho_CreateCho2((*C.fcho_Cho)(pn), (*C.fcho_Cho)(pd))
	return b.put(u01.KindChooserPair, unsafe.Pointer(c), func() { C.fcho_DeleteCho2(c) })
}

func (b *Backend) DeleteChooserPair(h u01.Handle) error { return b.drop(u01.KindChooserPair, h) }

func collectPValues() []u01.TestPValue {
	n := int(C.u01_ntests())
	out := make([]u01.TestPValue, 0, n)
	for i := 0; i < n; i++ {
		name := C.u01_test_name(C.int(i))
		if name == nil {
			continue
		}
		out = append(out, u01.TestPValue{Name: C.GoString(name), PValue: float64(C.u01_pval(C.int(i)))})
	}
	return out
}

func (b *Backend) RunBattery(bat u01.Battery, gen u01.Handle, p u01.BatteryParams) (u01.BatteryResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ptr, err := b.get(u01.KindGen, gen)
	if err != nil {
		return u01.BatteryResult{}, err
	}
	g := (*C.unif01_Gen)(ptr)
	var run func()
	switch bat {
	case u01.SmallCrush:
		run = func() { C.bbattery_SmallCrush(g) }
	case u01.Crush:
		run = func() { C.bbattery_Crush(g) }
	case u01.BigCrush:
		run = func() { C.bbattery_BigCrush(g) }
	case u01.Rabbit:
		run = func() { C.bbattery_Rabbit(g, C.double(p.NBits)) }
	case u01.Alphabit:
		run = func() { C.bbattery_Alphabit(g, C.double(p.NBits), C.int(p.R), C.int(p.S)) }
	case u01.BlockAlphabit:
		run = func() { C.bbattery_BlockAlphabit(g, C.double(p.NBits), C.int(p.R), C.int(p.S)) }
	case u01.FIPS1402:
		run = func() { C.bbattery_FIPS_140_2(g) }
	default:
		return u01.BatteryResult{}, fmt.Errorf("%w: battery %q", u01.ErrInvalidParam, bat)
	}
	out, err := capture(run)
	res := u01.BatteryResult{Tests: collectPValues(), Output: out}
	return res, err
}

func (b *Backend) RunBatteryFile(bat u01.Battery, path string, p u01.BatteryParams) (u01.BatteryResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	var run func()
	switch bat {
	case u01.SmallCrush:
		run = func() { C.bbattery_SmallCrushFile(cpath) }
	case u01.Rabbit:
		run = func() { C.bbattery_RabbitFile(cpath, C.double(p.NBits)) }
	case u01.Alphabit:
		run = func() { C.bbattery_AlphabitFile(cpath, C.double(p.NBits)) }
	case u01.BlockAlphabit:
		run = func() { C.bbattery_BlockAlphabitFile(cpath, C.double(p.NBits)) }
	case u01.FIPS1402:
		run = func() { C.bbattery_FIPS_140_2File(cpath) }
	default:
		return u01.BatteryResult{}, fmt.Errorf("%w: battery %q has no file variant", u01.ErrInvalidParam, bat)
	}
	out, err := capture(run)
	return u01.BatteryResult{Tests: collectPValues(), Output: out}, err
}

func (b *Backend) BirthdaySpacings(gen, res u01.Handle, p u01.BirthdayParams) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pg, err := b.get(u01.KindGen, gen)
	if err != nil {
		return "", err
	}
	pr, err := b.get(u01.KindPoisson, res)
	if err != nil {
		return "", err
	}
	return capture(func() {
		C.smarsa_BirthdaySpacings((*C.unif01_Gen)(pg), (*C.sres_Poisson)(pr),
			C.long(p.N), C.long(p.Size), C.int(p.R), C.long(p.D), C.int(p.T), C.int(p.P))
	})
}

func (b *Backend) PlotUnif(gen u01.Handle, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pg, err := b.get(u01.KindGen, gen)
	if err != nil {
		return "", err
	}
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return capture(func() { C.scatter_PlotUnif((*C.unif01_Gen)(pg), cname) })
}

func (b *Backend) FamilyBirthday(fam, pair u01.Handle, p u01.FamilyBirthdayParams) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pf, err := b.get(u01.KindFamily, fam)
	if err != nil {
		return "", err
	}
	pp, err := b.get(u01.KindChooserPair, pair)
	if err != nil {
		return "", err
	}
	return capture(func() {
		C.fmarsa_BirthdayS1((*C.ffam_Fam)(pf), nil, (*C.fcho_Cho2)(pp),
			C.long(p.N), C.int(p.R), C.int(p.T), C.int(p.P), C.int(p.Nr), C.int(p.J1), C.int(p.J2), C.int(p.JStep))
	})
}
