package vm

import "sort"

// Permission is a set of R/W/X bits attached to a Segment.
type Permission byte

const (
	PermNone    Permission = 0
	PermRead    Permission = 1 << 0
	PermWrite   Permission = 1 << 1
	PermExecute Permission = 1 << 2
)

func (p Permission) String() string {
	s := [3]byte{'-', '-', '-'}
	if p&PermRead != 0 {
		s[0] = 'r'
	}
	if p&PermWrite != 0 {
		s[1] = 'w'
	}
	if p&PermExecute != 0 {
		s[2] = 'x'
	}
	return string(s[:])
}

// Segment is a contiguous, owned byte buffer at a fixed base address
// with R/W/X permission bits. Segments never overlap.
type Segment struct {
	Base  uint64
	Data  []byte
	Perms Permission
	Dirty bool
	Name  string // diagnostic only, not semantically load-bearing
}

func (s *Segment) Len() uint64 { return uint64(len(s.Data)) }
func (s *Segment) End() uint64 { return s.Base + s.Len() }
func (s *Segment) contains(addr uint64) bool {
	return addr >= s.Base && addr < s.End()
}

// Memory is the segmented address space: a mapping from half-open
// address intervals [base, base+len) to segments, keyed so a lookup by
// address resolves at most one segment. Segments are created by the
// ELF loader, by the emulator shell (stack, argv strings) and by the
// mmap syscall stub; freeing a segment is not supported.
type Memory struct {
	segments      []*Segment
	nextAllocBase uint64
}

const defaultBumpBase = 0x0000_7000_0000_0000

// NewMemory creates an empty address space. The bump allocator used by
// alloc(0, ...) starts high in the 64-bit space, well clear of typical
// ELF load addresses and the fixed stack region the emulator shell
// sets up, mirroring how a real mmap area sits above the program break.
func NewMemory() *Memory {
	return &Memory{nextAllocBase: defaultBumpBase}
}

// findSegment returns the segment containing addr, or nil.
func (m *Memory) findSegment(addr uint64) *Segment {
	for _, seg := range m.segments {
		if seg.contains(addr) {
			return seg
		}
	}
	return nil
}

func overlaps(base, end uint64, seg *Segment) bool {
	return base < seg.End() && end > seg.Base
}

// Alloc creates a new segment. If base == 0 the segment is placed at
// the internal bump pointer, which is then advanced past it; otherwise
// the caller's address is honored. It fails if any byte of
// [base, base+len) intersects an existing segment.
func (m *Memory) Alloc(base uint64, length uint64, perms Permission, name string) (uint64, error) {
	if base == 0 {
		base = m.nextAllocBase
	}
	end := base + length
	for _, seg := range m.segments {
		if overlaps(base, end, seg) {
			return 0, &SegFault{Addr: base}
		}
	}
	seg := &Segment{
		Base:  base,
		Data:  make([]byte, length),
		Perms: perms,
		Name:  name,
	}
	m.segments = append(m.segments, seg)
	sort.Slice(m.segments, func(i, j int) bool { return m.segments[i].Base < m.segments[j].Base })
	if base+length > m.nextAllocBase {
		m.nextAllocBase = base + length
	}
	return base, nil
}

// rangeSegment locates the single segment that fully contains
// [addr, addr+size), failing if the address is unmapped or the access
// straddles a segment boundary.
func (m *Memory) rangeSegment(addr uint64, size uint64) (*Segment, uint64, error) {
	seg := m.findSegment(addr)
	if seg == nil {
		return nil, 0, &SegFault{Addr: addr}
	}
	offset := addr - seg.Base
	if offset+size > seg.Len() {
		return nil, 0, &SegFault{Addr: addr}
	}
	return seg, offset, nil
}

func (m *Memory) checkRead(addr uint64, size uint64) (*Segment, uint64, error) {
	seg, offset, err := m.rangeSegment(addr, size)
	if err != nil {
		return nil, 0, err
	}
	if seg.Perms&PermRead == 0 {
		return nil, 0, &PermDenied{Addr: addr, Needed: PermRead}
	}
	return seg, offset, nil
}

func (m *Memory) checkWrite(addr uint64, size uint64) (*Segment, uint64, error) {
	seg, offset, err := m.rangeSegment(addr, size)
	if err != nil {
		return nil, 0, err
	}
	if seg.Perms&PermWrite == 0 {
		return nil, 0, &PermDenied{Addr: addr, Needed: PermWrite}
	}
	return seg, offset, nil
}

// ReadByte/ReadHalf/ReadWord/ReadDoubleWord assemble little-endian
// unsigned values of the given width from guest memory.

func (m *Memory) ReadByte(addr uint64) (uint8, error) {
	seg, off, err := m.checkRead(addr, 1)
	if err != nil {
		return 0, err
	}
	return seg.Data[off], nil
}

func (m *Memory) ReadHalf(addr uint64) (uint16, error) {
	seg, off, err := m.checkRead(addr, 2)
	if err != nil {
		return 0, err
	}
	return uint16(seg.Data[off]) | uint16(seg.Data[off+1])<<8, nil
}

func (m *Memory) ReadWord(addr uint64) (uint32, error) {
	seg, off, err := m.checkRead(addr, 4)
	if err != nil {
		return 0, err
	}
	return uint32(seg.Data[off]) |
		uint32(seg.Data[off+1])<<8 |
		uint32(seg.Data[off+2])<<16 |
		uint32(seg.Data[off+3])<<24, nil
}

func (m *Memory) ReadDoubleWord(addr uint64) (uint64, error) {
	seg, off, err := m.checkRead(addr, 8)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(seg.Data[off+uint64(i)]) << (8 * i)
	}
	return v, nil
}

// WriteByte/WriteHalf/WriteWord/WriteDoubleWord store little-endian
// values. The segment's dirty flag is set before any byte is written.

func (m *Memory) WriteByte(addr uint64, v uint8) error {
	seg, off, err := m.checkWrite(addr, 1)
	if err != nil {
		return err
	}
	seg.Dirty = true
	seg.Data[off] = v
	return nil
}

func (m *Memory) WriteHalf(addr uint64, v uint16) error {
	seg, off, err := m.checkWrite(addr, 2)
	if err != nil {
		return err
	}
	seg.Dirty = true
	seg.Data[off] = byte(v)
	seg.Data[off+1] = byte(v >> 8)
	return nil
}

func (m *Memory) WriteWord(addr uint64, v uint32) error {
	seg, off, err := m.checkWrite(addr, 4)
	if err != nil {
		return err
	}
	seg.Dirty = true
	seg.Data[off] = byte(v)
	seg.Data[off+1] = byte(v >> 8)
	seg.Data[off+2] = byte(v >> 16)
	seg.Data[off+3] = byte(v >> 24)
	return nil
}

func (m *Memory) WriteDoubleWord(addr uint64, v uint64) error {
	seg, off, err := m.checkWrite(addr, 8)
	if err != nil {
		return err
	}
	seg.Dirty = true
	for i := 0; i < 8; i++ {
		seg.Data[off+uint64(i)] = byte(v >> (8 * i))
	}
	return nil
}

// ReadString scans forward from addr accumulating bytes until a zero
// byte or the end of the owning segment; it never crosses segments.
func (m *Memory) ReadString(addr uint64) ([]byte, error) {
	seg := m.findSegment(addr)
	if seg == nil {
		return nil, &SegFault{Addr: addr}
	}
	if seg.Perms&PermRead == 0 {
		return nil, &PermDenied{Addr: addr, Needed: PermRead}
	}
	start := addr - seg.Base
	end := start
	for end < seg.Len() && seg.Data[end] != 0 {
		end++
	}
	out := make([]byte, end-start)
	copy(out, seg.Data[start:end])
	return out, nil
}

// GetBytes returns a bounds-checked view into a single segment's data,
// used by syscall implementations (write, writev) to read a guest
// buffer without a byte-at-a-time copy.
func (m *Memory) GetBytes(addr uint64, length uint64) ([]byte, error) {
	seg, off, err := m.checkRead(addr, length)
	if err != nil {
		return nil, err
	}
	return seg.Data[off : off+length], nil
}

// PutBytes writes data into guest memory starting at addr, subject to
// the segment's write permission, and marks the segment dirty. The
// fuzzing harness's default InputWriter in main.go uses it.
func (m *Memory) PutBytes(addr uint64, data []byte) error {
	seg, off, err := m.checkWrite(addr, uint64(len(data)))
	if err != nil {
		return err
	}
	seg.Dirty = true
	copy(seg.Data[off:], data)
	return nil
}

// WriteRaw copies data into guest memory ignoring the segment's
// permission bits, used only by the ELF loader to populate PT_LOAD
// segments, the argv strings and the initial stack before the guest's own reads/writes are
// subject to its declared R/W/X flags. It does not mark the segment
// dirty: load-time content is the snapshot baseline, not a guest write.
func (m *Memory) WriteRaw(addr uint64, data []byte) error {
	seg, off, err := m.rangeSegment(addr, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(seg.Data[off:], data)
	return nil
}

// DirtySegments returns the base addresses of every segment with at
// least one successful write since the last snapshot/restore cycle.
func (m *Memory) DirtySegments() []uint64 {
	var bases []uint64
	for _, seg := range m.segments {
		if seg.Dirty {
			bases = append(bases, seg.Base)
		}
	}
	return bases
}

// ClearDirty clears every segment's dirty flag. RestoreFrom does not
// call it; it clears the flag of each segment it restores itself.
func (m *Memory) ClearDirty() {
	for _, seg := range m.segments {
		seg.Dirty = false
	}
}

// Segments exposes the live segment list for diagnostics and restore.
func (m *Memory) Segments() []*Segment { return m.segments }

// FindWritableDataSegment returns the lowest-addressed writable,
// non-executable segment that isn't the stack, the argv string table,
// or an mmap arena -- in practice the loader's PT_LOAD .data/.bss
// segment. This is the fuzzing harness's default convention for where
// mutated input bytes land when the target doesn't get its own
// bespoke InputWriter.
func (m *Memory) FindWritableDataSegment() (*Segment, bool) {
	for _, seg := range m.segments {
		if seg.Perms&PermWrite == 0 || seg.Perms&PermExecute != 0 {
			continue
		}
		if seg.Name == "stack" || seg.Name == "mmap" || seg.Name == "argv" {
			continue
		}
		return seg, true
	}
	return nil, false
}

// CheckExecute reports whether addr may be fetched from.
func (m *Memory) CheckExecute(addr uint64) error {
	seg := m.findSegment(addr)
	if seg == nil {
		return &SegFault{Addr: addr}
	}
	if seg.Perms&PermExecute == 0 {
		return &PermDenied{Addr: addr, Needed: PermExecute}
	}
	return nil
}

// RestoreFrom resets m to look like baseline: every segment present in
// baseline is copied back (data and permissions) when dirty, segments
// allocated after the snapshot was taken are dropped, and the bump
// allocator is rewound. This is the "drop post-snapshot allocations"
// discipline spec.md's open question on restore leaves as acceptable;
// it is the simplest of the two and is what this implementation uses
// throughout.
func (m *Memory) RestoreFrom(baseline *Memory) {
	byBase := make(map[uint64]*Segment, len(baseline.segments))
	for _, seg := range baseline.segments {
		byBase[seg.Base] = seg
	}

	kept := m.segments[:0]
	for _, seg := range m.segments {
		base, ok := byBase[seg.Base]
		if !ok {
			continue // post-snapshot allocation, drop it
		}
		if seg.Dirty {
			copy(seg.Data, base.Data)
			seg.Perms = base.Perms
			seg.Dirty = false
		}
		kept = append(kept, seg)
	}
	m.segments = kept
	m.nextAllocBase = baseline.nextAllocBase
}

// Clone deep-copies the full segment set for Executor.Snapshot.
func (m *Memory) Clone() *Memory {
	clone := &Memory{nextAllocBase: m.nextAllocBase}
	clone.segments = make([]*Segment, len(m.segments))
	for i, seg := range m.segments {
		data := make([]byte, len(seg.Data))
		copy(data, seg.Data)
		clone.segments[i] = &Segment{
			Base:  seg.Base,
			Data:  data,
			Perms: seg.Perms,
			Dirty: seg.Dirty,
			Name:  seg.Name,
		}
	}
	return clone
}
