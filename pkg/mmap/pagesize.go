package mmap

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

var (
	pageSizeOnce sync.Once
	pageSize     int
	pageSizeErr  error
)

// PageSize returns the system page size. It is queried once per process.
func PageSize() (int, error) {
	pageSizeOnce.Do(func() {
		pageSize = unix.Getpagesize()
		pageSizeErr = validatePageSize(pageSize)
	})
	return pageSize, pageSizeErr
}

func validatePageSize(ps int) error {
	if ps <= 0 || ps&(ps-1) != 0 {
		return fmt.Errorf("%w: %d", ErrPageSize, ps)
	}
	return nil
}

// PageBase returns the start of the page of size ps containing addr.
func PageBase(addr uint64, ps int) uint64 {
	return addr &^ (uint64(ps) - 1)
}

// PageOffset returns the byte offset of addr within its page.
func PageOffset(addr uint64, ps int) uint64 {
	return addr & (uint64(ps) - 1)
}
