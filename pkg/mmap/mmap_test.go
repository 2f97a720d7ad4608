package mmap

import (
	"encoding/binary"
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backingFile creates a file of the given number of pages whose every word
// holds its own byte offset.
func backingFile(t *testing.T, pages int) (string, int) {
	t.Helper()

	ps, err := PageSize()
	require.NoError(t, err)

	data := make([]byte, pages*ps)
	for off := 0; off+4 <= len(data); off += 4 {
		binary.NativeEndian.PutUint32(data[off:], uint32(off))
	}

	path := filepath.Join(t.TempDir(), "mem")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path, ps
}

func TestOpenMapsContainingPage(t *testing.T) {
	path, ps := backingFile(t, 3)
	addr := uint64(ps) + 16

	m, err := Open(path, addr, ProtRead)
	require.NoError(t, err)
	defer m.Close()

	assert.NotZero(t, m.Base())
	assert.Equal(t, ps, m.Len())
	assert.Equal(t, uint64(ps), m.PhysBase())

	got, err := m.Read32(addr)
	require.NoError(t, err)
	assert.Equal(t, uint32(addr), got)
}

func TestOffsetMatchesMappedBase(t *testing.T) {
	path, ps := backingFile(t, 2)

	for _, addr := range []uint64{0, 4, 16, 0x7fc, uint64(ps) + 8, uint64(2*ps) - 4} {
		m, err := Open(path, addr, ProtRead)
		require.NoError(t, err)

		off, err := m.offset(addr)
		require.NoError(t, err)

		mask := uint64(ps - 1)
		assert.Equal(t, (uint64(m.Base())+addr)&mask, uint64(off), "addr 0x%x", addr)
		assert.Equal(t, addr&mask, uint64(off), "addr 0x%x", addr)
		assert.Equal(t, addr&^mask, m.PhysBase(), "addr 0x%x", addr)

		require.NoError(t, m.Close())
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	path, ps := backingFile(t, 1)

	tests := []struct {
		name  string
		addr  uint64
		value uint32
	}{
		{name: "first word", addr: 0, value: 0xdeadbeef},
		{name: "middle", addr: 0x100, value: 0x12345678},
		{name: "zero", addr: 0x104, value: 0},
		{name: "all ones", addr: 0x108, value: math.MaxUint32},
		{name: "unaligned", addr: 0x201, value: 0xa5a55a5a},
		{name: "last word", addr: uint64(ps) - 4, value: 0xcafef00d},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := Open(path, tt.addr, ProtWrite)
			require.NoError(t, err)
			require.NoError(t, w.Write32(tt.addr, tt.value))
			require.NoError(t, w.Close())

			r, err := Open(path, tt.addr, ProtRead)
			require.NoError(t, err)
			defer r.Close()

			got, err := r.Read32(tt.addr)
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
		})
	}
}

func TestWriteVisibleToOtherMapping(t *testing.T) {
	path, _ := backingFile(t, 1)

	r, err := Open(path, 0x40, ProtRead)
	require.NoError(t, err)
	defer r.Close()

	w, err := Open(path, 0x40, ProtWrite)
	require.NoError(t, err)
	require.NoError(t, w.Write32(0x40, 0x0badf00d))
	require.NoError(t, w.Close())

	got, err := r.Read32(0x40)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x0badf00d), got)
}

func TestCrossPageWord(t *testing.T) {
	path, ps := backingFile(t, 2)

	tests := []struct {
		name    string
		addr    uint64
		wantErr error
	}{
		{name: "last full word", addr: uint64(ps) - 4},
		{name: "three bytes left", addr: uint64(ps) - 3, wantErr: ErrCrossesPage},
		{name: "two bytes left", addr: uint64(ps) - 2, wantErr: ErrCrossesPage},
		{name: "one byte left", addr: uint64(ps) - 1, wantErr: ErrCrossesPage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Open(path, tt.addr, ProtRead)
			require.NoError(t, err)
			defer r.Close()

			w, err := Open(path, tt.addr, ProtWrite)
			require.NoError(t, err)
			defer w.Close()

			_, rerr := r.Read32(tt.addr)
			werr := w.Write32(tt.addr, 1)
			if tt.wantErr == nil {
				assert.NoError(t, rerr)
				assert.NoError(t, werr)
			} else {
				assert.ErrorIs(t, rerr, tt.wantErr)
				assert.ErrorIs(t, werr, tt.wantErr)
			}
		})
	}
}

func TestProtectionMismatch(t *testing.T) {
	path, _ := backingFile(t, 1)

	r, err := Open(path, 0x20, ProtRead)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, ProtRead, r.Protection())

	err = r.Write32(0x20, 0xffffffff)
	var merr *Error
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, "write", merr.Op)
	assert.ErrorIs(t, err, ErrProtection)

	w, err := Open(path, 0x20, ProtWrite)
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, ProtWrite, w.Protection())

	_, err = w.Read32(0x20)
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, "read", merr.Op)
	assert.ErrorIs(t, err, ErrProtection)

	// The rejected write left the word untouched
	got, err := r.Read32(0x20)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x20), got)
}

func TestWrongPage(t *testing.T) {
	path, ps := backingFile(t, 2)

	m, err := Open(path, 8, ProtRead)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Read32(uint64(ps) + 8)
	assert.ErrorIs(t, err, ErrWrongPage)
}

func TestOpenErrors(t *testing.T) {
	path, _ := backingFile(t, 1)

	t.Run("missing device", func(t *testing.T) {
		_, err := Open(filepath.Join(t.TempDir(), "missing"), 0, ProtRead)
		require.Error(t, err)

		var merr *Error
		require.True(t, errors.As(err, &merr))
		assert.Equal(t, "open", merr.Op)
		assert.ErrorIs(t, err, fs.ErrNotExist)
	})

	t.Run("address out of range", func(t *testing.T) {
		_, err := Open(path, math.MaxUint64, ProtRead)
		assert.ErrorIs(t, err, ErrAddressRange)
	})

	t.Run("invalid protection", func(t *testing.T) {
		_, err := Open(path, 0, Protection(7))
		var merr *Error
		require.True(t, errors.As(err, &merr))
		assert.Equal(t, "mmap", merr.Op)
	})

	t.Run("not mappable", func(t *testing.T) {
		_, err := Open(t.TempDir(), 0, ProtRead)
		assert.Error(t, err)
	})
}

func TestCloseIdempotent(t *testing.T) {
	path, _ := backingFile(t, 1)

	m, err := Open(path, 0, ProtRead)
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Zero(t, m.Base())

	_, err = m.Read32(0)
	assert.ErrorIs(t, err, ErrNotMapped)
	assert.ErrorIs(t, m.Write32(0, 1), ErrNotMapped)
}

func TestCloseReportsTeardownFailure(t *testing.T) {
	path, _ := backingFile(t, 1)

	m, err := Open(path, 0x10, ProtRead)
	require.NoError(t, err)

	// Release the descriptor behind the mapping's back
	require.NoError(t, m.file.Close())

	err = m.Close()
	require.Error(t, err)

	var merr *Error
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, "close", merr.Op)
	assert.Zero(t, m.Base())

	assert.NoError(t, m.Close())
}

func TestErrorString(t *testing.T) {
	err := &Error{Op: "open", Path: "/dev/mem", Addr: 0x3f200000, Err: fs.ErrPermission}
	assert.Equal(t, "mmap: open /dev/mem at 0x3f200000: permission denied", err.Error())

	err = &Error{Op: "read", Addr: 0x10, Err: ErrNotMapped}
	assert.Equal(t, "mmap: read 0x10: not mapped", err.Error())
}

func TestProtectionString(t *testing.T) {
	assert.Equal(t, "read", ProtRead.String())
	assert.Equal(t, "write", ProtWrite.String())
	assert.Equal(t, "Protection(9)", Protection(9).String())
}
