// Package dump writes scalar fields of the finest grid level to disk for
// surface extraction and inspection.
package dump

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"
)

var (
	ErrShape  = errors.New("field data does not match dimensions")
	ErrHeader = errors.New("invalid field header")
)

// maxCells bounds the size a header may announce when reading.
const maxCells = 1 << 31

// Field is a dense scalar field in x-fastest order.
type Field struct {
	Nx, Ny, Nz int
	Data       []float32
}

// NewField allocates a zeroed field.
func NewField(nx, ny, nz int) Field {
	return Field{Nx: nx, Ny: ny, Nz: nz, Data: make([]float32, nx*ny*nz)}
}

// Index returns the flat index of (i, j, k).
func (f Field) Index(i, j, k int) int { return i + f.Nx*(j+f.Ny*k) }

// At returns the value at (i, j, k).
func (f Field) At(i, j, k int) float32 { return f.Data[f.Index(i, j, k)] }

// Range returns the smallest and largest value of the field.
func (f Field) Range() (lo, hi float32) {
	if len(f.Data) == 0 {
		return 0, 0
	}
	lo, hi = f.Data[0], f.Data[0]
	for _, v := range f.Data[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi
}

func (f Field) validate() error {
	if f.Nx < 0 || f.Ny < 0 || f.Nz < 0 || len(f.Data) != f.Nx*f.Ny*f.Nz {
		return fmt.Errorf("%dx%dx%d with %d values: %w", f.Nx, f.Ny, f.Nz, len(f.Data), ErrShape)
	}
	return nil
}

// Write encodes f as three little-endian uint32 dimensions followed by the
// float32 values, gzip-compressed if compress is set.
func Write(w io.Writer, f Field, compress bool) error {
	if err := f.validate(); err != nil {
		return err
	}
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(w)
		w = gz
	}
	bw := bufio.NewWriter(w)
	hdr := [3]uint32{uint32(f.Nx), uint32(f.Ny), uint32(f.Nz)}
	if err := binary.Write(bw, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	var buf [4]byte
	for _, v := range f.Data {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		if _, err := bw.Write(buf[:]); err != nil {
			return fmt.Errorf("writing data: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing data: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("closing gzip stream: %w", err)
		}
	}
	return nil
}

// Read decodes a field written by Write.
func Read(r io.Reader, compressed bool) (Field, error) {
	if compressed {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return Field{}, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	br := bufio.NewReader(r)
	var hdr [3]uint32
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return Field{}, fmt.Errorf("reading header: %w", err)
	}
	n := uint64(hdr[0]) * uint64(hdr[1]) * uint64(hdr[2])
	if n > maxCells {
		return Field{}, fmt.Errorf("%d cells: %w", n, ErrHeader)
	}
	f := NewField(int(hdr[0]), int(hdr[1]), int(hdr[2]))
	if err := binary.Read(br, binary.LittleEndian, f.Data); err != nil {
		return Field{}, fmt.Errorf("reading data: %w", err)
	}
	return f, nil
}

// WriteFile writes f to path. A ".gz" suffix enables compression.
func WriteFile(path string, f Field) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating dump: %w", err)
	}
	if err := Write(file, f, strings.HasSuffix(path, ".gz")); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return file.Close()
}

// ReadFile reads a field from path. A ".gz" suffix selects decompression.
func ReadFile(path string) (Field, error) {
	file, err := os.Open(path)
	if err != nil {
		return Field{}, fmt.Errorf("opening dump: %w", err)
	}
	defer file.Close()
	return Read(file, strings.HasSuffix(path, ".gz"))
}

// WriteAll writes every field into dir concurrently, naming each file after
// its map key with a ".bin" or ".bin.gz" extension.
func WriteAll(dir string, fields map[string]Field, compress bool) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating dump directory: %w", err)
	}
	ext := ".bin"
	if compress {
		ext += ".gz"
	}
	var g errgroup.Group
	for name, f := range fields {
		path := filepath.Join(dir, name+ext)
		g.Go(func() error { return WriteFile(path, f) })
	}
	return g.Wait()
}
