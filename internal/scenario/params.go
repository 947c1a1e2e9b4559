package scenario

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"

	"rng-u01/internal/u01"
)

// Source describes the generator a scenario tests.
//
// Kinds: lcg, java48, text (uniforms written as text), bin (raw bits),
// pcg and chacha8 (Go's math/rand/v2 sources fed to the library bit by bit).
type Source struct {
	Kind   string  `json:"kind"`
	LCG    u01.LCG `json:"lcg"`
	Seed   uint64  `json:"seed,omitempty"`
	Stream uint64  `json:"stream,omitempty"`
	JFlag  int     `json:"jflag,omitempty"`
	Path   string  `json:"path,omitempty"`
	NBuf   int64   `json:"nbuf,omitempty"`
}

// Open acquires the generator from s.
func (src Source) Open(ctx context.Context, s *u01.Session) (*u01.Gen, error) {
	switch strings.ToLower(src.Kind) {
	case "lcg":
		return s.CreateLCG(ctx, src.LCG)
	case "java48":
		return s.CreateJava48(ctx, src.Seed, src.JFlag)
	case "text":
		return s.CreateReadText(ctx, src.Path, src.NBuf)
	case "bin":
		return s.CreateReadBin(ctx, src.Path, src.NBuf)
	case "pcg":
		r := rand.New(rand.NewPCG(src.Seed, src.Stream))
		name := fmt.Sprintf("PCG(seed=%d, stream=%d)", src.Seed, src.Stream)
		return s.CreateExternBits(ctx, name, r.Uint32)
	case "chacha8":
		var seed [32]byte
		binary.LittleEndian.PutUint64(seed[0:8], src.Seed)
		binary.LittleEndian.PutUint64(seed[8:16], src.Stream)
		c := rand.NewChaCha8(seed)
		name := fmt.Sprintf("ChaCha8(seed=%d, stream=%d)", src.Seed, src.Stream)
		return s.CreateExternBits(ctx, name, func() uint32 { return uint32(c.Uint64() >> 32) })
	default:
		return nil, fmt.Errorf("%w: unknown source kind %q", u01.ErrInvalidParam, src.Kind)
	}
}

// Family groups the objects of a family test.
type Family struct {
	LCGPow2    u01.LCGPow2Family        `json:"lcgpow2"`
	SampleSize u01.SampleSizeChooser    `json:"sample_size"`
	BirthEC    u01.BirthECChooser       `json:"birth_ec"`
	Test       u01.FamilyBirthdayParams `json:"test"`
}

// Params configure one scenario run. Each scenario reads the fields it needs
// and ignores the rest.
type Params struct {
	Quiet    bool                 `json:"quiet"`
	Source   Source               `json:"source"`
	File     string               `json:"file,omitempty"`
	Battery  u01.Battery          `json:"battery,omitempty"`
	Bits     u01.BatteryParams    `json:"bits"`
	Birthday []u01.BirthdayParams `json:"birthday,omitempty"`
	Plot     string               `json:"plot,omitempty"`
	Family   Family               `json:"family"`
}

// Apply merges a JSON document onto p. Unknown fields are rejected.
func (p *Params) Apply(raw json.RawMessage) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return fmt.Errorf("%w: params: %v", u01.ErrInvalidParam, err)
	}
	return nil
}

// Set merges key=value assignments onto p. Keys are dotted JSON paths
// ("source.lcg.a"); values are JSON, or plain strings when they do not parse.
func (p *Params) Set(assignments []string) error {
	if len(assignments) == 0 {
		return nil
	}
	root := map[string]any{}
	for _, a := range assignments {
		key, val, ok := strings.Cut(a, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return fmt.Errorf("%w: assignment %q is not key=value", u01.ErrInvalidParam, a)
		}
		var v any = val
		if json.Valid([]byte(val)) {
			v = json.RawMessage(val)
		}
		parts := strings.Split(key, ".")
		m := root
		for _, part := range parts[:len(parts)-1] {
			next, ok := m[part].(map[string]any)
			if !ok {
				next = map[string]any{}
				m[part] = next
			}
			m = next
		}
		m[parts[len(parts)-1]] = v
	}
	raw, err := json.Marshal(root)
	if err != nil {
		return err
	}
	return p.Apply(raw)
}

// Confine resolves the file paths of p (file, source.path, plot) against dir
// and rejects any that lead outside it, symlinks included.
func (p *Params) Confine(dir string) error {
	root, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("%w: work dir %s: %v", u01.ErrInvalidParam, dir, err)
	}
	if r, err := filepath.EvalSymlinks(root); err == nil {
		root = r
	}
	for _, f := range []*string{&p.File, &p.Source.Path, &p.Plot} {
		if *f == "" {
			continue
		}
		path, err := within(root, *f)
		if err != nil {
			return err
		}
		*f = path
	}
	if p.Plot != "" {
		// The library reads the plot parameters from here.
		if _, err := within(root, p.Plot+".dat"); err != nil {
			return err
		}
	}
	return nil
}

func within(root, name string) (string, error) {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)
	resolved := path
	if r, err := filepath.EvalSymlinks(path); err == nil {
		resolved = r
	} else if d, err := filepath.EvalSymlinks(filepath.Dir(path)); err == nil {
		resolved = filepath.Join(d, filepath.Base(path))
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside the work directory", u01.ErrInvalidParam, name)
	}
	return path, nil
}
