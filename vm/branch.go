package vm

// ExecuteBranch evaluates a conditional branch and returns the target
// PC to jump to when taken, or taken=false when the branch falls through
// (caller advances PC by the instruction's natural size instead).
func ExecuteBranch(cpu *CPU, ins Instruction32, pc uint64) (target uint64, taken bool, err error) {
	rs1 := cpu.GetX(ins.RS1)
	rs2 := cpu.GetX(ins.RS2)

	switch ins.Funct3 {
	case Funct3BEQ:
		taken = rs1 == rs2
	case Funct3BNE:
		taken = rs1 != rs2
	case Funct3BLT:
		taken = int64(rs1) < int64(rs2)
	case Funct3BGE:
		taken = int64(rs1) >= int64(rs2)
	case Funct3BLTU:
		taken = rs1 < rs2
	case Funct3BGEU:
		taken = rs1 >= rs2
	default:
		return 0, false, &Unsupported{Feature: "BRANCH funct3"}
	}

	if !taken {
		return 0, false, nil
	}
	return pc + uint64(ins.ImmB), true, nil
}

// ExecuteJAL performs an unconditional jump-and-link: rd = pc + insLen,
// new PC = pc + immJ. The caller records the call-trace entry.
func ExecuteJAL(cpu *CPU, ins Instruction32, pc uint64, insLen uint64) uint64 {
	cpu.SetX(ins.RD, pc+insLen)
	return pc + uint64(ins.ImmJ)
}

// ExecuteJALR performs an indirect jump-and-link: target is
// (rs1 + immI) with bit 0 cleared, rd = pc + insLen.
func ExecuteJALR(cpu *CPU, ins Instruction32, pc uint64, insLen uint64) uint64 {
	target := (cpu.GetX(ins.RS1) + uint64(ins.ImmI)) &^ 1
	cpu.SetX(ins.RD, pc+insLen)
	return target
}
