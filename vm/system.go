package vm

// ExecuteSystem dispatches the SYSTEM opcode: ECALL, EBREAK, and the
// Zicsr instructions. Only ECALL/EBREAK are meaningful to this
// emulator; any CSR access surfaces as Unsupported since no guest code
// this harness targets is expected to touch machine/supervisor state.
func ExecuteSystem(cpu *CPU, mem *Memory, syscalls *SyscallTable, ins Instruction32) error {
	if ins.Funct3 != Funct3ECALLBREAK {
		return &Unsupported{Feature: "Zicsr instruction"}
	}
	switch ins.ImmI {
	case 0: // ECALL
		return syscalls.Dispatch(cpu, mem)
	case 1: // EBREAK
		return &Unsupported{Feature: "EBREAK"}
	default:
		return &Unsupported{Feature: "SYSTEM encoding"}
	}
}

// ExecuteAMO handles the A-extension opcode. This emulator runs
// single-threaded guest code only, so every AMO op is implemented as a
// plain load-modify-store with no actual atomicity guarantee beyond
// "nothing else touches memory between the read and the write" -- true
// by construction since there is exactly one hart. LR/SC are treated
// as plain load/store: the reservation always succeeds, which is
// sound for single-threaded guests and out of scope otherwise (see
// the concurrency non-goal).
const (
	amoFunct5LR      = 0x02
	amoFunct5SC      = 0x03
	amoFunct5SWAP    = 0x01
	amoFunct5ADD     = 0x00
	amoFunct5XOR     = 0x04
	amoFunct5AND     = 0x0C
	amoFunct5OR      = 0x08
	amoFunct5MIN     = 0x10
	amoFunct5MAX     = 0x14
	amoFunct5MINU    = 0x18
	amoFunct5MAXU    = 0x1C
	amoWidthWordFlag = 0x2
	amoWidthDWord    = 0x3
)

func ExecuteAMO(cpu *CPU, mem *Memory, ins Instruction32) error {
	addr := cpu.GetX(ins.RS1)
	is64 := ins.Funct3 == amoWidthDWord
	if ins.Funct3 != amoWidthWordFlag && !is64 {
		return &Unsupported{Feature: "AMO width"}
	}

	switch ins.Funct5 {
	case amoFunct5LR:
		return amoLoad(cpu, mem, ins, addr, is64)
	case amoFunct5SC:
		if err := amoStore(cpu, mem, addr, cpu.GetX(ins.RS2), is64); err != nil {
			return err
		}
		cpu.SetX(ins.RD, 0) // reservation always succeeds
		return nil
	default:
		return amoReadModifyWrite(cpu, mem, ins, addr, is64)
	}
}

func amoLoad(cpu *CPU, mem *Memory, ins Instruction32, addr uint64, is64 bool) error {
	if is64 {
		v, err := mem.ReadDoubleWord(addr)
		if err != nil {
			return err
		}
		cpu.SetX(ins.RD, v)
		return nil
	}
	v, err := mem.ReadWord(addr)
	if err != nil {
		return err
	}
	cpu.SetX(ins.RD, uint64(int64(int32(v))))
	return nil
}

func amoStore(cpu *CPU, mem *Memory, addr, value uint64, is64 bool) error {
	if is64 {
		return mem.WriteDoubleWord(addr, value)
	}
	return mem.WriteWord(addr, uint32(value))
}

func amoReadModifyWrite(cpu *CPU, mem *Memory, ins Instruction32, addr uint64, is64 bool) error {
	var old uint64
	var err error
	if is64 {
		old, err = mem.ReadDoubleWord(addr)
	} else {
		var w uint32
		w, err = mem.ReadWord(addr)
		old = uint64(int64(int32(w)))
	}
	if err != nil {
		return err
	}

	operand := cpu.GetX(ins.RS2)
	result := amoCombine(ins.Funct5, old, operand, is64)

	if err := amoStore(cpu, mem, addr, result, is64); err != nil {
		return err
	}
	cpu.SetX(ins.RD, old)
	return nil
}

func amoCombine(funct5 uint32, old, operand uint64, is64 bool) uint64 {
	switch funct5 {
	case amoFunct5SWAP:
		return operand
	case amoFunct5ADD:
		return old + operand
	case amoFunct5XOR:
		return old ^ operand
	case amoFunct5AND:
		return old & operand
	case amoFunct5OR:
		return old | operand
	case amoFunct5MIN:
		if signedAmo(old, is64) < signedAmo(operand, is64) {
			return old
		}
		return operand
	case amoFunct5MAX:
		if signedAmo(old, is64) > signedAmo(operand, is64) {
			return old
		}
		return operand
	case amoFunct5MINU:
		if old < operand {
			return old
		}
		return operand
	case amoFunct5MAXU:
		if old > operand {
			return old
		}
		return operand
	default:
		return old
	}
}

func signedAmo(v uint64, is64 bool) int64 {
	if is64 {
		return int64(v)
	}
	return int64(int32(v))
}
