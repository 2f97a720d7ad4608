// Package cli turns command-line arguments into a validated access request.
package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUsage marks errors caused by malformed arguments.
var ErrUsage = errors.New("usage")

// Request is one memory access. A request with a value is a write.
type Request struct {
	Address  uint64
	Value    uint32
	HasValue bool
}

// Parse validates the positional arguments ADDRESS [VALUE].
func Parse(args []string) (Request, error) {
	if len(args) < 1 || len(args) > 2 {
		return Request{}, fmt.Errorf("%w: expected ADDRESS [VALUE], got %d arguments", ErrUsage, len(args))
	}

	addr, err := ParseNumber(args[0], 64)
	if err != nil {
		return Request{}, fmt.Errorf("%w: invalid address %q: %v", ErrUsage, args[0], err)
	}
	req := Request{Address: addr}

	if len(args) == 2 {
		value, err := ParseNumber(args[1], 32)
		if err != nil {
			return Request{}, fmt.Errorf("%w: invalid value %q: %v", ErrUsage, args[1], err)
		}
		req.Value = uint32(value)
		req.HasValue = true
	}

	return req, nil
}

// Merge combines the -address and -value flags with the positional
// arguments into the ADDRESS [VALUE] form Parse expects. Flags and
// positional arguments cannot be mixed.
func Merge(address, value string, positional []string) ([]string, error) {
	if address == "" {
		if value != "" {
			return nil, fmt.Errorf("%w: -value requires -address", ErrUsage)
		}
		return positional, nil
	}
	if len(positional) > 0 {
		return nil, fmt.Errorf("%w: -address given together with positional arguments", ErrUsage)
	}
	if value == "" {
		return []string{address}, nil
	}
	return []string{address, value}, nil
}

// ParseNumber parses a decimal or 0x-prefixed hexadecimal unsigned number
// that fits in bits.
func ParseNumber(s string, bits int) (uint64, error) {
	base := 10
	digits := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		digits = s[2:]
	}

	n, err := strconv.ParseUint(digits, base, bits)
	if err != nil {
		var nerr *strconv.NumError
		if errors.As(err, &nerr) {
			return 0, nerr.Err
		}
		return 0, err
	}
	return n, nil
}
