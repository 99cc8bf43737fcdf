package vm

// ExecuteLoad dispatches the LOAD opcode family: LB, LH, LW, LD, LBU,
// LHU, LWU. The effective address is rs1 + immI.
func ExecuteLoad(cpu *CPU, mem *Memory, ins Instruction32) error {
	addr := cpu.GetX(ins.RS1) + uint64(ins.ImmI)

	switch ins.Funct3 {
	case Funct3LB:
		v, err := mem.ReadByte(addr)
		if err != nil {
			return err
		}
		cpu.SetX(ins.RD, uint64(int64(int8(v))))
	case Funct3LH:
		v, err := mem.ReadHalf(addr)
		if err != nil {
			return err
		}
		cpu.SetX(ins.RD, uint64(int64(int16(v))))
	case Funct3LW:
		v, err := mem.ReadWord(addr)
		if err != nil {
			return err
		}
		cpu.SetX(ins.RD, uint64(int64(int32(v))))
	case Funct3LD:
		v, err := mem.ReadDoubleWord(addr)
		if err != nil {
			return err
		}
		cpu.SetX(ins.RD, v)
	case Funct3LBU:
		v, err := mem.ReadByte(addr)
		if err != nil {
			return err
		}
		cpu.SetX(ins.RD, uint64(v))
	case Funct3LHU:
		v, err := mem.ReadHalf(addr)
		if err != nil {
			return err
		}
		cpu.SetX(ins.RD, uint64(v))
	case Funct3LWU:
		v, err := mem.ReadWord(addr)
		if err != nil {
			return err
		}
		cpu.SetX(ins.RD, uint64(v))
	default:
		return &Unsupported{Feature: "LOAD funct3"}
	}
	return nil
}

// STORE funct3 values (distinct from the LOAD family above: no
// unsigned/byte distinction is needed for stores).
const (
	Funct3SB = 0x0
	Funct3SH = 0x1
	Funct3SW = 0x2
	Funct3SD = 0x3
)

// ExecuteStore dispatches the STORE opcode family: SB, SH, SW, SD. The
// effective address is rs1 + immS.
func ExecuteStore(cpu *CPU, mem *Memory, ins Instruction32) error {
	addr := cpu.GetX(ins.RS1) + uint64(ins.ImmS)
	rs2 := cpu.GetX(ins.RS2)

	switch ins.Funct3 {
	case Funct3SB:
		return mem.WriteByte(addr, byte(rs2))
	case Funct3SH:
		return mem.WriteHalf(addr, uint16(rs2))
	case Funct3SW:
		return mem.WriteWord(addr, uint32(rs2))
	case Funct3SD:
		return mem.WriteDoubleWord(addr, rs2)
	default:
		return &Unsupported{Feature: "STORE funct3"}
	}
}
