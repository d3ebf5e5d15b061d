package dump

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testField() Field {
	f := NewField(3, 2, 2)
	for i := range f.Data {
		f.Data[i] = float32(i) * 0.5
	}
	return f
}

func TestWrite_Layout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, testField(), false))

	b := buf.Bytes()
	require.Len(t, b, 12+12*4)
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(b[0:]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(b[4:]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(b[8:]))
	// value 1 is 0.5
	assert.Equal(t, uint32(0x3f000000), binary.LittleEndian.Uint32(b[16:]))
}

func TestRead_Compressed(t *testing.T) {
	for _, compress := range []bool{false, true} {
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, testField(), compress))
		got, err := Read(&buf, compress)
		require.NoError(t, err)
		assert.Equal(t, testField(), got)
	}
}

func TestWrite_ShapeMismatch(t *testing.T) {
	f := Field{Nx: 2, Ny: 2, Nz: 2, Data: make([]float32, 7)}
	err := Write(&bytes.Buffer{}, f, false)
	assert.ErrorIs(t, err, ErrShape)
}

func TestRead_Truncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, testField(), false))
	_, err := Read(bytes.NewReader(buf.Bytes()[:20]), false)
	assert.Error(t, err)
}

func TestField_Range(t *testing.T) {
	lo, hi := testField().Range()
	assert.Equal(t, float32(0), lo)
	assert.Equal(t, float32(5.5), hi)
	assert.Equal(t, float32(2.5), testField().At(2, 1, 0))
}

func TestWriteAll(t *testing.T) {
	dir := t.TempDir()
	fields := map[string]Field{"fill": testField(), "iso": NewField(1, 1, 1)}
	require.NoError(t, WriteAll(dir, fields, true))

	got, err := ReadFile(filepath.Join(dir, "fill.bin.gz"))
	require.NoError(t, err)
	assert.Equal(t, testField(), got)

	got, err = ReadFile(filepath.Join(dir, "iso.bin.gz"))
	require.NoError(t, err)
	assert.Equal(t, 1, len(got.Data))
}
