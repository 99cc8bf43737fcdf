// Package loader parses a static RV64 ELF executable and populates a
// vm.Memory with its PT_LOAD segments, mirroring what a kernel's execve
// does for a statically linked binary. Dynamic linking, PT_INTERP and
// PT_NOTE are out of scope -- only PT_LOAD is honored.
package loader

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/rv64fuzz/emu/vm"
)

const (
	elfMagic    = "\x7fELF"
	elfClass64  = 2
	elfDataLSB  = 1
	emRISCV     = 243
	etExec      = 2
	etDyn       = 3
	ptLoad      = 1
	phEntrySize = 56
)

// elf64Header mirrors Elf64_Ehdr. Field order and widths are fixed by
// the ELF64 spec; binary.Read decodes it directly off the file bytes
// rather than through an unsafe pointer cast.
type elf64Header struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// elf64ProgramHeader mirrors Elf64_Phdr.
type elf64ProgramHeader struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

const (
	pfX = 0x1
	pfW = 0x2
	pfR = 0x4
)

// LoadedProgram is everything the emulator shell needs to start a hart
// after a successful load.
type LoadedProgram struct {
	EntryPoint uint64
	StackTop   uint64
}

// Load reads path and loads it into mem, setting up an initial stack
// containing argv and envp in the System V AMD64-style layout RISC-V
// Linux also uses (argc, argv pointers, NULL, envp pointers, NULL).
func Load(mem *vm.Memory, path string, argv, envp []string) (*LoadedProgram, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: read %s: %w", path, err)
	}
	return LoadBytes(mem, data, argv, envp)
}

// LoadBytes is Load's in-memory counterpart, used directly by tests
// and by the fuzzing harness's ExecutorFactory (which loads the target
// once per worker rather than re-reading the file from disk).
func LoadBytes(mem *vm.Memory, data []byte, argv, envp []string) (*LoadedProgram, error) {
	hdr, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	if hdr.Type != etExec && hdr.Type != etDyn {
		return nil, fmt.Errorf("loader: unsupported e_type %d (only ET_EXEC/ET_DYN statically linked binaries)", hdr.Type)
	}

	for i := 0; i < int(hdr.Phnum); i++ {
		ph, err := parseProgramHeader(data, hdr, i)
		if err != nil {
			return nil, err
		}
		if ph.Type != ptLoad {
			continue
		}
		if err := loadSegment(mem, data, ph); err != nil {
			return nil, fmt.Errorf("loader: PT_LOAD segment %d: %w", i, err)
		}
	}

	stackTop, err := setupStack(mem, argv, envp)
	if err != nil {
		return nil, err
	}

	return &LoadedProgram{EntryPoint: hdr.Entry, StackTop: stackTop}, nil
}

func parseHeader(data []byte) (*elf64Header, error) {
	if len(data) < 64 {
		return nil, fmt.Errorf("loader: file too small to contain an ELF64 header")
	}
	var hdr elf64Header
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("loader: decode ELF header: %w", err)
	}
	if string(hdr.Ident[:4]) != elfMagic {
		return nil, fmt.Errorf("loader: missing ELF magic")
	}
	if hdr.Ident[4] != elfClass64 {
		return nil, fmt.Errorf("loader: not a 64-bit ELF (EI_CLASS=%d)", hdr.Ident[4])
	}
	if hdr.Ident[5] != elfDataLSB {
		return nil, fmt.Errorf("loader: not little-endian (EI_DATA=%d)", hdr.Ident[5])
	}
	if hdr.Machine != emRISCV {
		return nil, fmt.Errorf("loader: not a RISC-V ELF (e_machine=%d)", hdr.Machine)
	}
	return &hdr, nil
}

func parseProgramHeader(data []byte, hdr *elf64Header, index int) (*elf64ProgramHeader, error) {
	off := hdr.Phoff + uint64(index)*uint64(hdr.Phentsize)
	if off+phEntrySize > uint64(len(data)) {
		return nil, fmt.Errorf("loader: program header %d out of file bounds", index)
	}
	var ph elf64ProgramHeader
	if err := binary.Read(bytes.NewReader(data[off:off+phEntrySize]), binary.LittleEndian, &ph); err != nil {
		return nil, fmt.Errorf("loader: decode program header %d: %w", index, err)
	}
	return &ph, nil
}

func loadSegment(mem *vm.Memory, data []byte, ph *elf64ProgramHeader) error {
	if ph.Filesz > ph.Memsz {
		return fmt.Errorf("p_filesz (%d) exceeds p_memsz (%d)", ph.Filesz, ph.Memsz)
	}
	if ph.Offset+ph.Filesz > uint64(len(data)) {
		return fmt.Errorf("segment file range out of bounds")
	}

	perms := vm.PermNone
	if ph.Flags&pfR != 0 {
		perms |= vm.PermRead
	}
	if ph.Flags&pfW != 0 {
		perms |= vm.PermWrite
	}
	if ph.Flags&pfX != 0 {
		perms |= vm.PermExecute
	}

	base, err := mem.Alloc(ph.Vaddr, ph.Memsz, perms, "PT_LOAD")
	if err != nil {
		return fmt.Errorf("allocate segment at 0x%x size 0x%x: %w", ph.Vaddr, ph.Memsz, err)
	}

	// p_memsz > p_filesz (.bss) is already zero-filled by Alloc's
	// make([]byte, length); only the file-backed prefix needs copying.
	if ph.Filesz > 0 {
		if err := mem.WriteRaw(base, data[ph.Offset:ph.Offset+ph.Filesz]); err != nil {
			return fmt.Errorf("populate segment contents: %w", err)
		}
	}
	return nil
}

// writeArgvSegment allocates a dedicated segment for the guest's argv
// strings, separate from the stack segment, so argv pointers resolve
// into memory that is never mistaken for stack-local data. Strings are
// packed back-to-back in argv order; an empty argv allocates nothing.
func writeArgvSegment(mem *vm.Memory, argv []string) ([]uint64, error) {
	var total uint64
	for _, s := range argv {
		n, err := vm.SafeIntToUint64(len(s) + 1)
		if err != nil {
			return nil, fmt.Errorf("loader: argv string: %w", err)
		}
		total += n
	}
	if total == 0 {
		return nil, nil
	}

	base, err := mem.Alloc(0, total, vm.PermRead|vm.PermWrite, "argv")
	if err != nil {
		return nil, fmt.Errorf("loader: allocate argv segment: %w", err)
	}

	ptrs := make([]uint64, 0, len(argv))
	offset := uint64(0)
	for _, s := range argv {
		addr := base + offset
		if err := mem.WriteRaw(addr, append([]byte(s), 0)); err != nil {
			return nil, fmt.Errorf("loader: write argv string: %w", err)
		}
		ptrs = append(ptrs, addr)
		offset += uint64(len(s)) + 1
	}
	return ptrs, nil
}

func setupStack(mem *vm.Memory, argv, envp []string) (uint64, error) {
	const stackSize uint64 = vm.DefaultStackSize
	const stackTop uint64 = vm.DefaultStackTop
	stackBase := stackTop - stackSize

	if _, err := mem.Alloc(stackBase, stackSize, vm.PermRead|vm.PermWrite, "stack"); err != nil {
		return 0, fmt.Errorf("loader: allocate stack: %w", err)
	}

	// argv strings live in their own segment, not the stack -- only the
	// pointer vector the psABI requires goes on the stack itself.
	argvPtrs, err := writeArgvSegment(mem, argv)
	if err != nil {
		return 0, err
	}

	// envp strings are written just below the stack top, then the
	// argc/argv/envp/auxv vector is built below them, both growing down.
	sp := stackTop
	var envpPtrs []uint64

	for _, s := range envp {
		n, err := vm.SafeIntToUint64(len(s) + 1)
		if err != nil {
			return 0, fmt.Errorf("loader: envp string: %w", err)
		}
		sp -= n
		if err := mem.WriteRaw(sp, append([]byte(s), 0)); err != nil {
			return 0, fmt.Errorf("loader: write envp string: %w", err)
		}
		envpPtrs = append(envpPtrs, sp)
	}

	// 16-byte align before laying down the pointer vector, matching the
	// RISC-V Linux ABI's initial-stack alignment requirement.
	sp &^= 0xF

	// The vector is built from the lowest address up: argc, argv
	// pointers, argv NULL, envp pointers, envp NULL, and the auxv
	// terminator (AT_NULL,0) at the highest addresses.
	words := make([]uint64, 0, len(argvPtrs)+len(envpPtrs)+4)
	words = append(words, uint64(len(argvPtrs)))
	for _, p := range argvPtrs {
		words = append(words, p)
	}
	words = append(words, 0)
	for _, p := range envpPtrs {
		words = append(words, p)
	}
	words = append(words, 0)
	words = append(words, 0, 0) // AT_NULL auxv entry

	sp -= uint64(len(words) * 8)
	sp &^= 0xF

	buf := make([]byte, len(words)*8)
	for i, w := range words {
		binary.LittleEndian.PutUint64(buf[i*8:], w)
	}
	if err := mem.WriteRaw(sp, buf); err != nil {
		return 0, fmt.Errorf("loader: write initial stack vector: %w", err)
	}

	return sp, nil
}
