// Package mmap maps single pages of a physical memory device file.
package mmap

import (
	"fmt"
	"math"
	"os"
	"unsafe"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// Protection selects how a page is mapped.
type Protection int

const (
	// ProtRead maps the page read-only.
	ProtRead Protection = iota
	// ProtWrite maps the page write-only.
	ProtWrite
)

func (p Protection) String() string {
	switch p {
	case ProtRead:
		return "read"
	case ProtWrite:
		return "write"
	default:
		return fmt.Sprintf("Protection(%d)", int(p))
	}
}

func (p Protection) flags() (int, error) {
	switch p {
	case ProtRead:
		return unix.PROT_READ, nil
	case ProtWrite:
		return unix.PROT_WRITE, nil
	default:
		return 0, fmt.Errorf("invalid protection %d", int(p))
	}
}

// PageMap owns an open device file and one shared mapping of the page that
// contains a target address. It must not be copied; pass the pointer.
type PageMap struct {
	path   string
	file   *os.File
	region []byte
	phys   uint64 // physical address of the first mapped byte
	size   int
	prot   Protection
}

// Open maps the page of the device file at path that contains addr.
func Open(path string, addr uint64, prot Protection) (*PageMap, error) {
	flags, err := prot.flags()
	if err != nil {
		return nil, &Error{Op: "mmap", Path: path, Addr: addr, Err: err}
	}
	if addr > math.MaxInt64 {
		return nil, &Error{Op: "mmap", Path: path, Addr: addr, Err: ErrAddressRange}
	}

	// Open the device
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0o600)
	if err != nil {
		return nil, &Error{Op: "open", Path: path, Addr: addr, Err: err}
	}

	ps, err := PageSize()
	if err != nil {
		f.Close()
		return nil, &Error{Op: "pagesize", Path: path, Addr: addr, Err: err}
	}

	// Map the page containing addr
	phys := PageBase(addr, ps)
	region, err := unix.Mmap(int(f.Fd()), int64(phys), ps, flags, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, &Error{Op: "mmap", Path: path, Addr: addr, Err: err}
	}

	return &PageMap{
		path:   path,
		file:   f,
		region: region,
		phys:   phys,
		size:   ps,
		prot:   prot,
	}, nil
}

// Base returns the virtual address of the mapped page, or 0 once closed.
func (m *PageMap) Base() uintptr {
	if m.region == nil {
		return 0
	}
	return uintptr(unsafe.Pointer(&m.region[0]))
}

// Len returns the mapped length, which is the page size.
func (m *PageMap) Len() int {
	return m.size
}

// Protection returns the protection the page was mapped with.
func (m *PageMap) Protection() Protection {
	return m.prot
}

// PhysBase returns the page-aligned physical address the mapping starts at.
func (m *PageMap) PhysBase() uint64 {
	return m.phys
}

// access translates addr into a byte offset inside the mapped page and
// checks that the mapping permits prot.
func (m *PageMap) access(addr uint64, prot Protection) (uintptr, error) {
	off, err := m.offset(addr)
	if err != nil {
		return 0, err
	}
	if m.prot != prot {
		return 0, ErrProtection
	}
	return off, nil
}

// offset translates addr into a byte offset inside the mapped page.
func (m *PageMap) offset(addr uint64) (uintptr, error) {
	if m.region == nil {
		return 0, ErrNotMapped
	}
	if PageBase(addr, m.size) != m.phys {
		return 0, ErrWrongPage
	}
	off := PageOffset(addr, m.size)
	if off+4 > uint64(m.size) {
		return 0, ErrCrossesPage
	}
	return uintptr(off), nil
}

// Read32 reads the native-endian 32-bit word at physical address addr. The
// page must be mapped with ProtRead.
func (m *PageMap) Read32(addr uint64) (uint32, error) {
	off, err := m.access(addr, ProtRead)
	if err != nil {
		return 0, &Error{Op: "read", Path: m.path, Addr: addr, Err: err}
	}
	return *(*uint32)(unsafe.Pointer(&m.region[off])), nil
}

// Write32 stores value as a native-endian 32-bit word at physical address
// addr. The page must be mapped with ProtWrite.
func (m *PageMap) Write32(addr uint64, value uint32) error {
	off, err := m.access(addr, ProtWrite)
	if err != nil {
		return &Error{Op: "write", Path: m.path, Addr: addr, Err: err}
	}
	*(*uint32)(unsafe.Pointer(&m.region[off])) = value
	return nil
}

// Close unmaps the page and closes the device. Both steps are always
// attempted; their failures are combined. Calling Close again is a no-op.
func (m *PageMap) Close() error {
	var err error

	if m.region != nil {
		if uerr := unix.Munmap(m.region); uerr != nil {
			err = multierr.Append(err, &Error{Op: "munmap", Path: m.path, Addr: m.phys, Err: uerr})
		}
		m.region = nil
	}

	if m.file != nil {
		// Only close a descriptor that is still open
		if _, ferr := unix.FcntlInt(m.file.Fd(), unix.F_GETFD, 0); ferr != nil {
			err = multierr.Append(err, &Error{Op: "close", Path: m.path, Addr: m.phys, Err: ferr})
		} else if cerr := m.file.Close(); cerr != nil {
			err = multierr.Append(err, &Error{Op: "close", Path: m.path, Addr: m.phys, Err: cerr})
		}
		m.file = nil
	}

	return err
}
