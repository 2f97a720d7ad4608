package mmap

import "fmt"

// Error describes a failure of one step of a page mapping's lifecycle.
type Error struct {
	Op   string // open, pagesize, mmap, munmap, close
	Path string
	Addr uint64
	Err  error
}

// Error formats the failed step, the device and the address.
func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("mmap: %s 0x%x: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("mmap: %s %s at 0x%x: %v", e.Op, e.Path, e.Addr, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

type sentinel string

func (s sentinel) Error() string { return string(s) }

// Common errors
const (
	ErrPageSize     = sentinel("unsupported page size")
	ErrAddressRange = sentinel("address out of range")
	ErrCrossesPage  = sentinel("word crosses page boundary")
	ErrWrongPage    = sentinel("address outside mapped page")
	ErrNotMapped    = sentinel("not mapped")
	ErrProtection   = sentinel("access not permitted by mapping protection")
)
