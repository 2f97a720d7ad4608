// Package devmem reads and writes single 32-bit words of physical memory
// through a memory device file such as /dev/mem.
//
// Every call opens the device, maps the page holding the address, performs
// exactly one access and releases the mapping before returning. Nothing is
// cached between calls.
package devmem

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/AndreyLalaev/mem/pkg/mmap"
)

// DefaultDevice is the conventional physical memory device.
const DefaultDevice = "/dev/mem"

// pageMapping is the part of *mmap.PageMap an access needs.
type pageMapping interface {
	Read32(addr uint64) (uint32, error)
	Write32(addr uint64, value uint32) error
	PhysBase() uint64
	Close() error
}

var openMapping = func(path string, addr uint64, prot mmap.Protection) (pageMapping, error) {
	m, err := mmap.Open(path, addr, prot)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Client performs accesses against one device file.
type Client struct {
	// Device is the path of the memory device file. Empty means DefaultDevice.
	Device string
	// Logger receives debug traces and teardown warnings. Nil means zap.L().
	Logger *zap.Logger
}

// Read returns the 32-bit word at physical address addr of the device at path.
func Read(path string, addr uint64) (uint32, error) {
	return (&Client{Device: path}).Read(addr)
}

// Write stores value at physical address addr of the device at path.
func Write(path string, addr uint64, value uint32) error {
	return (&Client{Device: path}).Write(addr, value)
}

// Read returns the 32-bit word at physical address addr.
func (c *Client) Read(addr uint64) (uint32, error) {
	m, err := openMapping(c.device(), addr, mmap.ProtRead)
	if err != nil {
		return 0, errors.Wrapf(err, "read 0x%x", addr)
	}
	defer c.release(m)

	value, err := m.Read32(addr)
	if err != nil {
		return 0, errors.Wrapf(err, "read 0x%x", addr)
	}

	c.logger().Debug("read word",
		zap.String("device", c.device()),
		zap.String("addr", hex(addr)),
		zap.String("value", hex(uint64(value))),
	)
	return value, nil
}

// Write stores value at physical address addr.
func (c *Client) Write(addr uint64, value uint32) error {
	m, err := openMapping(c.device(), addr, mmap.ProtWrite)
	if err != nil {
		return errors.Wrapf(err, "write 0x%x", addr)
	}
	defer c.release(m)

	if err := m.Write32(addr, value); err != nil {
		return errors.Wrapf(err, "write 0x%x", addr)
	}

	c.logger().Debug("wrote word",
		zap.String("device", c.device()),
		zap.String("addr", hex(addr)),
		zap.String("value", hex(uint64(value))),
	)
	return nil
}

// release tears the mapping down. Failures never replace the outcome of the
// access, they are only logged.
func (c *Client) release(m pageMapping) {
	if err := m.Close(); err != nil {
		c.logger().Warn("failed to release mapping",
			zap.String("device", c.device()),
			zap.String("page", hex(m.PhysBase())),
			zap.Error(err),
		)
	}
}

func (c *Client) device() string {
	if c.Device == "" {
		return DefaultDevice
	}
	return c.Device
}

func (c *Client) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.L()
	}
	return c.Logger
}

func hex(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}
