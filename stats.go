package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"rng-u01/internal/runner"
	"rng-u01/internal/u01"
)

/* ===========================
   BIT FORMATS
   =========================== */

type FileMode int

const (
	FileModeTXT          FileMode = iota // text '0'/'1', whitespace ignored
	FileModeBinBytes01                   // one byte 0x00/0x01 per bit
	FileModeBinPackedMSB                 // packed bits, MSB first
)

func modeFromString(s string) FileMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "txt":
		return FileModeTXT
	case "bin01":
		return FileModeBinBytes01
	case "binpacked":
		return FileModeBinPackedMSB
	default:
		return -1
	}
}

func looksLikeBitsString(s string) bool {
	if s == "" {
		return false
	}
	count := 0
	for _, r := range s {
		if r == '0' || r == '1' {
			count++
		} else if !unicode.IsSpace(r) {
			return false
		}
	}
	return count > 0
}

// guessBinMode: all bytes in {0x00, 0x01} means bin01, anything else packed.
func guessBinMode(b []byte) FileMode {
	if len(b) == 0 {
		return FileModeBinPackedMSB
	}
	for _, by := range b {
		if by != 0 && by != 1 {
			return FileModeBinPackedMSB
		}
	}
	return FileModeBinBytes01
}

func detectMode(filename string, data []byte) FileMode {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt":
		return FileModeTXT
	case ".bin", ".dat", ".raw":
		return guessBinMode(data)
	}
	if looksLikeBitsString(string(data)) {
		return FileModeTXT
	}
	return guessBinMode(data)
}

// packBits converts data to the packed MSB-first layout the library reads.
// It returns the packed bytes and the number of meaningful bits.
func packBits(data []byte, mode FileMode) ([]byte, int64, error) {
	switch mode {
	case FileModeBinPackedMSB:
		if len(data) == 0 {
			return nil, 0, errors.New("empty file")
		}
		return data, int64(len(data)) * 8, nil
	case FileModeTXT, FileModeBinBytes01:
	default:
		return nil, 0, fmt.Errorf("unknown mode %d", mode)
	}
	out := make([]byte, 0, len(data)/8+1)
	var cur byte
	var n int64
	for i, by := range data {
		var bit byte
		switch {
		case mode == FileModeTXT && by == '0', mode == FileModeBinBytes01 && by == 0x00:
		case mode == FileModeTXT && by == '1', mode == FileModeBinBytes01 && by == 0x01:
			bit = 1
		case mode == FileModeTXT && unicode.IsSpace(rune(by)):
			continue
		default:
			return nil, 0, fmt.Errorf("byte #%d=0x%02X is not a bit", i, by)
		}
		cur = cur<<1 | bit
		n++
		if n%8 == 0 {
			out = append(out, cur)
			cur = 0
		}
	}
	if n == 0 {
		return nil, 0, errors.New("no bits found")
	}
	if rem := n % 8; rem != 0 {
		out = append(out, cur<<(8-rem))
	}
	return out, n, nil
}

/* ===========================
   UPLOADS
   =========================== */

// formFile returns the upload in field, or the first file when field is
// absent.
func formFile(r *http.Request, field string) (*multipart.FileHeader, error) {
	if r.MultipartForm == nil || r.MultipartForm.File == nil {
		return nil, errors.New("no file provided")
	}
	if files := r.MultipartForm.File[field]; len(files) > 0 {
		return files[0], nil
	}
	for _, arr := range r.MultipartForm.File {
		if len(arr) > 0 {
			return arr[0], nil
		}
	}
	return nil, errors.New("no file provided")
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *server) parseUpload(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.UploadLimit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return fmt.Errorf("%w: multipart: %v", u01.ErrInvalidParam, err)
	}
	return nil
}

// writeTemp stores data under the work directory; the caller removes it.
func (s *server) writeTemp(pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp(s.cfg.WorkDir, pattern)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func rawParams(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// fileBatteryHandler runs a battery on the bits of an uploaded file.
// Query: battery (default alphabit), nbits (default and at most: every bit of the file),
// mode (txt | bin01 | binpacked, guessed when absent).
func (s *server) fileBatteryHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bat := u01.Alphabit
	if v := q.Get("battery"); v != "" {
		b, err := u01.ParseBattery(v)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		bat = b
	}
	if err := s.parseUpload(w, r); err != nil {
		s.writeError(w, r, err)
		return
	}
	fh, err := formFile(r, "file")
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", u01.ErrInvalidParam, err))
		return
	}
	data, err := readFormFile(fh)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// SmallCrush reads its file as text uniforms, every other file
	// battery as packed bits.
	var n int64
	payload := data
	if bat != u01.SmallCrush {
		mode := modeFromString(q.Get("mode"))
		if mode == -1 {
			mode = detectMode(fh.Filename, data)
		}
		payload, n, err = packBits(data, mode)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: %s: %v", u01.ErrInvalidParam, fh.Filename, err))
			return
		}
	}
	path, err := s.writeTemp("upload-*.bin", payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer os.Remove(path)

	nbits := atof(q.Get("nbits"), float64(n))
	if n > 0 && nbits > float64(n) {
		// Packing pads the last byte with zeros; they are not data.
		nbits = float64(n)
	}
	s.log.Info().Str("file", fh.Filename).Int64("bits", n).Str("battery", string(bat)).Msg("file battery upload")
	s.run(w, r, runner.Request{
		Scenario: "filebattery",
		Params: rawParams(map[string]any{
			"file":    path,
			"battery": bat,
			"bits":    map[string]any{"nbits": nbits},
		}),
	})
}

var plotName = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// scatterHandler plots uniforms uploaded as text. Query: name (plot name,
// default "upload"), nbuf (default 100000). The plot parameters come from
// the "params" upload, or from an existing <name>.dat in the work directory.
func (s *server) scatterHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("name")
	if name == "" {
		name = "upload"
	}
	if !plotName.MatchString(name) {
		s.writeError(w, r, fmt.Errorf("%w: plot name %q", u01.ErrInvalidParam, name))
		return
	}
	nbuf := atoi(q.Get("nbuf"), 100000)
	if err := s.parseUpload(w, r); err != nil {
		s.writeError(w, r, err)
		return
	}
	fh, err := formFile(r, "file")
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", u01.ErrInvalidParam, err))
		return
	}
	data, err := readFormFile(fh)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	base := filepath.Join(s.cfg.WorkDir, name)
	if files := r.MultipartForm.File["params"]; len(files) > 0 {
		params, err := readFormFile(files[0])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := os.WriteFile(base+".dat", params, 0o644); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	path, err := s.writeTemp("upload-*.pts", data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer os.Remove(path)

	s.run(w, r, runner.Request{
		Scenario: "scat",
		Params: rawParams(map[string]any{
			"source": map[string]any{"kind": "text", "path": path, "nbuf": nbuf},
			"plot":   base,
		}),
	})
}
