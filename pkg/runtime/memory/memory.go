// Package memory implements guest address translation for the TOS VM.
//
// Guest programs see a small set of non-overlapping virtual memory regions
// (program code, stack, heap, input). Every host access on behalf of the
// guest goes through Translate, which enforces region membership, bounds
// and access mode, and optionally alignment for fixed-width scalars.
// Translation is the sandbox boundary: a returned slice is valid only for
// the single syscall invocation that requested it and must never be
// retained across calls.
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

// Virtual memory region base addresses for the standard guest layout.
const (
	VaddrProgram = uint64(0x1_0000_0000) // Read-only program code
	VaddrStack   = uint64(0x2_0000_0000) // Stack memory
	VaddrHeap    = uint64(0x3_0000_0000) // Heap memory
	VaddrInput   = uint64(0x4_0000_0000) // Input parameters (read-only)
)

// Translation errors.
var (
	// ErrAddressOverflow is returned when addr+size wraps the address space.
	ErrAddressOverflow = errors.New("guest address overflow")

	// ErrOutOfBounds is returned when a range is not fully contained in a
	// single region.
	ErrOutOfBounds = errors.New("guest address out of bounds")

	// ErrAccessViolation is returned for a store into a load-only region.
	ErrAccessViolation = errors.New("memory access violation")

	// ErrUnalignedAccess is returned for a misaligned fixed-width access.
	ErrUnalignedAccess = errors.New("unaligned memory access")

	// ErrRegionOverlap is returned when building a region set with
	// overlapping guest ranges.
	ErrRegionOverlap = errors.New("overlapping memory regions")
)

// AccessMode describes the permitted access for a region.
type AccessMode uint8

const (
	// Load permits guest reads only.
	Load AccessMode = iota

	// Store permits guest reads and writes.
	Store
)

// String returns the mode name.
func (m AccessMode) String() string {
	if m == Store {
		return "store"
	}
	return "load"
}

// Region is one guest-visible memory segment backed by host memory.
type Region struct {
	// Vaddr is the guest base address.
	Vaddr uint64

	// Mode is the permitted access mode.
	Mode AccessMode

	// host is the backing host buffer; its length is the region length.
	host []byte
}

// NewRegion creates a region over the given host buffer.
func NewRegion(vaddr uint64, mode AccessMode, host []byte) Region {
	return Region{Vaddr: vaddr, Mode: mode, host: host}
}

// Len returns the region length in bytes.
func (r *Region) Len() uint64 {
	return uint64(len(r.host))
}

// contains reports whether [addr, addr+size) lies entirely in the region.
// size must already be overflow-checked.
func (r *Region) contains(addr, size uint64) bool {
	return addr >= r.Vaddr && addr-r.Vaddr+size <= r.Len()
}

// RegionSet is an ordered set of non-overlapping regions. It implements the
// VM memory interface consumed by syscall handlers, so hosts and tests can
// use it directly as the guest memory of an execution.
type RegionSet struct {
	regions []Region
}

// NewRegionSet builds a region set, rejecting overlapping guest ranges.
func NewRegionSet(regions ...Region) (*RegionSet, error) {
	rs := &RegionSet{regions: make([]Region, len(regions))}
	copy(rs.regions, regions)
	sort.Slice(rs.regions, func(i, j int) bool {
		return rs.regions[i].Vaddr < rs.regions[j].Vaddr
	})
	for i := 1; i < len(rs.regions); i++ {
		prev := &rs.regions[i-1]
		if prev.Vaddr+prev.Len() > rs.regions[i].Vaddr {
			return nil, fmt.Errorf("%w: 0x%x and 0x%x", ErrRegionOverlap, prev.Vaddr, rs.regions[i].Vaddr)
		}
	}
	return rs, nil
}

// NewStandardLayout builds the conventional four-region guest map: read-only
// program code, writable stack and heap, and read-only input.
func NewStandardLayout(ro, stack, heap, input []byte) *RegionSet {
	// The fixed bases are 4 GiB apart; overlap is impossible.
	rs, _ := NewRegionSet(
		NewRegion(VaddrProgram, Load, ro),
		NewRegion(VaddrStack, Store, stack),
		NewRegion(VaddrHeap, Store, heap),
		NewRegion(VaddrInput, Load, input),
	)
	return rs
}

// Translate converts a guest address range into a host slice.
//
// The range must lie entirely within one region; a range spanning region
// boundaries fails with ErrOutOfBounds even if both regions exist. Writes
// require a Store region. Zero-length translations succeed with an empty
// slice. The returned slice aliases host memory and is valid only for the
// current syscall.
func (rs *RegionSet) Translate(addr, size uint64, write bool) ([]byte, error) {
	if size > math.MaxUint64-addr {
		return nil, fmt.Errorf("%w: 0x%x + %d", ErrAddressOverflow, addr, size)
	}

	// Binary search for the last region with Vaddr <= addr.
	i := sort.Search(len(rs.regions), func(i int) bool {
		return rs.regions[i].Vaddr > addr
	})
	if i == 0 {
		return nil, fmt.Errorf("%w: 0x%x (size %d)", ErrOutOfBounds, addr, size)
	}
	region := &rs.regions[i-1]
	if !region.contains(addr, size) {
		return nil, fmt.Errorf("%w: 0x%x (size %d)", ErrOutOfBounds, addr, size)
	}
	if write && region.Mode != Store {
		return nil, fmt.Errorf("%w: write to %s region at 0x%x", ErrAccessViolation, region.Mode, addr)
	}

	off := addr - region.Vaddr
	return region.host[off : off+size : off+size], nil
}

// translateAligned translates a fixed-width scalar access. Alignment is
// checked on the guest address: the host base of every region is under host
// control, while the guest address is what must be identical on every node.
func (rs *RegionSet) translateAligned(addr, size uint64, write bool) ([]byte, error) {
	if addr%size != 0 {
		return nil, fmt.Errorf("%w: 0x%x (size %d)", ErrUnalignedAccess, addr, size)
	}
	return rs.Translate(addr, size, write)
}

// Read copies len(p) bytes from guest memory into p.
func (rs *RegionSet) Read(addr uint64, p []byte) error {
	mem, err := rs.Translate(addr, uint64(len(p)), false)
	if err != nil {
		return err
	}
	copy(p, mem)
	return nil
}

// Write copies p into guest memory.
func (rs *RegionSet) Write(addr uint64, p []byte) error {
	mem, err := rs.Translate(addr, uint64(len(p)), true)
	if err != nil {
		return err
	}
	copy(mem, p)
	return nil
}

// Read8 reads a byte from guest memory.
func (rs *RegionSet) Read8(addr uint64) (uint8, error) {
	mem, err := rs.Translate(addr, 1, false)
	if err != nil {
		return 0, err
	}
	return mem[0], nil
}

// Read16 reads an aligned 16-bit little-endian value.
func (rs *RegionSet) Read16(addr uint64) (uint16, error) {
	mem, err := rs.translateAligned(addr, 2, false)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(mem), nil
}

// Read32 reads an aligned 32-bit little-endian value.
func (rs *RegionSet) Read32(addr uint64) (uint32, error) {
	mem, err := rs.translateAligned(addr, 4, false)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(mem), nil
}

// Read64 reads an aligned 64-bit little-endian value.
func (rs *RegionSet) Read64(addr uint64) (uint64, error) {
	mem, err := rs.translateAligned(addr, 8, false)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(mem), nil
}

// Write8 writes a byte to guest memory.
func (rs *RegionSet) Write8(addr uint64, x uint8) error {
	mem, err := rs.Translate(addr, 1, true)
	if err != nil {
		return err
	}
	mem[0] = x
	return nil
}

// Write16 writes an aligned 16-bit little-endian value.
func (rs *RegionSet) Write16(addr uint64, x uint16) error {
	mem, err := rs.translateAligned(addr, 2, true)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(mem, x)
	return nil
}

// Write32 writes an aligned 32-bit little-endian value.
func (rs *RegionSet) Write32(addr uint64, x uint32) error {
	mem, err := rs.translateAligned(addr, 4, true)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(mem, x)
	return nil
}

// Write64 writes an aligned 64-bit little-endian value.
func (rs *RegionSet) Write64(addr uint64, x uint64) error {
	mem, err := rs.translateAligned(addr, 8, true)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(mem, x)
	return nil
}
