package vm

// ExecuteCompressed decodes and executes a 16-bit RVC instruction.
// It returns the PC of the next instruction to fetch; branches and
// jumps compute it directly, everything else falls through to pc+2.
// cpu.LastWasCompressed is the caller's (Executor's) responsibility to
// set, not this function's.
func ExecuteCompressed(cpu *CPU, mem *Memory, ins Instruction16, pc uint64) (uint64, error) {
	raw := uint32(ins.Raw)
	fallthroughPC := pc + InstSize16

	switch ins.Quadrant {
	case Quadrant0:
		return fallthroughPC, executeQuadrant0(cpu, mem, raw, ins)
	case Quadrant1:
		return executeQuadrant1(cpu, raw, ins, pc, fallthroughPC)
	case Quadrant2:
		return executeQuadrant2(cpu, mem, raw, ins, pc, fallthroughPC)
	default:
		return fallthroughPC, &Unsupported{Feature: "compressed quadrant 3 (not compressed)"}
	}
}

func executeQuadrant0(cpu *CPU, mem *Memory, raw uint32, ins Instruction16) error {
	switch ins.Funct3 {
	case 0x0: // C.ADDI4SPN
		b12_11 := (raw >> 11) & 0x3
		b10_7 := (raw >> 7) & 0xF
		b6 := (raw >> 6) & 0x1
		b5 := (raw >> 5) & 0x1
		nzuimm := (b12_11 << 4) | (b10_7 << 6) | (b6 << 2) | (b5 << 3)
		if nzuimm == 0 {
			return &Unsupported{Feature: "compressed reserved encoding (C.ADDI4SPN nzuimm=0)"}
		}
		cpu.SetX(ins.RDp, cpu.GetX(RegSP)+uint64(nzuimm))
		return nil
	case 0x2: // C.LW
		addr := cpu.GetX(ins.RS1p) + uint64(cLwSdImm(raw))
		v, err := mem.ReadWord(addr)
		if err != nil {
			return err
		}
		cpu.SetX(ins.RDp, uint64(int64(int32(v))))
		return nil
	case 0x3: // C.LD
		addr := cpu.GetX(ins.RS1p) + uint64(cLdImm(raw))
		v, err := mem.ReadDoubleWord(addr)
		if err != nil {
			return err
		}
		cpu.SetX(ins.RDp, v)
		return nil
	case 0x6: // C.SW
		addr := cpu.GetX(ins.RS1p) + uint64(cLwSdImm(raw))
		return mem.WriteWord(addr, uint32(cpu.GetX(ins.RS2p)))
	case 0x7: // C.SD
		addr := cpu.GetX(ins.RS1p) + uint64(cLdImm(raw))
		return mem.WriteDoubleWord(addr, cpu.GetX(ins.RS2p))
	default:
		return &Unsupported{Feature: "compressed quadrant 0 funct3"}
	}
}

func cLwSdImm(raw uint32) uint32 {
	b12_10 := (raw >> 10) & 0x7
	b6 := (raw >> 6) & 0x1
	b5 := (raw >> 5) & 0x1
	return (b12_10 << 3) | (b6 << 2) | (b5 << 6)
}

func cLdImm(raw uint32) uint32 {
	b12_10 := (raw >> 10) & 0x7
	b6_5 := (raw >> 5) & 0x3
	return (b12_10 << 3) | (b6_5 << 6)
}

func executeQuadrant1(cpu *CPU, raw uint32, ins Instruction16, pc, fallthroughPC uint64) (uint64, error) {
	switch ins.Funct3 {
	case 0x0: // C.ADDI (C.NOP when rd==0)
		imm := cAddiImm(raw)
		cpu.SetX(ins.RD, cpu.GetX(ins.RD)+uint64(imm))
		return fallthroughPC, nil
	case 0x1: // C.ADDIW
		if ins.RD == RegZero {
			return fallthroughPC, &Unsupported{Feature: "compressed reserved encoding (C.ADDIW rd=0)"}
		}
		imm := cAddiImm(raw)
		result := uint32(cpu.GetX(ins.RD)) + uint32(imm)
		cpu.SetX(ins.RD, uint64(int64(int32(result))))
		return fallthroughPC, nil
	case 0x2: // C.LI
		imm := cAddiImm(raw)
		cpu.SetX(ins.RD, uint64(imm))
		return fallthroughPC, nil
	case 0x3:
		if ins.RD == RegSP { // C.ADDI16SP
			b12 := (raw >> 12) & 0x1
			b6 := (raw >> 6) & 0x1
			b5 := (raw >> 5) & 0x1
			b4_3 := (raw >> 3) & 0x3
			b2 := (raw >> 2) & 0x1
			nzimm := (b12 << 9) | (b4_3 << 7) | (b6 << 4) | (b2 << 5) | (b5 << 6)
			signed := signExtend(uint64(nzimm), 10)
			if signed == 0 {
				return fallthroughPC, &Unsupported{Feature: "compressed reserved encoding (C.ADDI16SP nzimm=0)"}
			}
			cpu.SetX(RegSP, cpu.GetX(RegSP)+uint64(signed))
			return fallthroughPC, nil
		}
		// C.LUI
		if ins.RD == RegZero {
			return fallthroughPC, &Unsupported{Feature: "compressed reserved encoding (C.LUI rd=0)"}
		}
		b12 := (raw >> 12) & 0x1
		b6_2 := (raw >> 2) & 0x1F
		nzimm := (b12 << 17) | (b6_2 << 12)
		if nzimm == 0 {
			return fallthroughPC, &Unsupported{Feature: "compressed reserved encoding (C.LUI nzimm=0)"}
		}
		cpu.SetX(ins.RD, uint64(signExtend(uint64(nzimm), 18)))
		return fallthroughPC, nil
	case 0x4:
		return fallthroughPC, executeQuadrant1Misc(cpu, raw, ins)
	case 0x5: // C.J
		offset := cJImm(raw)
		return uint64(int64(pc) + offset), nil
	case 0x6: // C.BEQZ
		offset := cBImm(raw)
		if cpu.GetX(ins.RS1p) == 0 {
			return uint64(int64(pc) + offset), nil
		}
		return fallthroughPC, nil
	case 0x7: // C.BNEZ
		offset := cBImm(raw)
		if cpu.GetX(ins.RS1p) != 0 {
			return uint64(int64(pc) + offset), nil
		}
		return fallthroughPC, nil
	default:
		return fallthroughPC, &Unsupported{Feature: "compressed quadrant 1 funct3"}
	}
}

func cAddiImm(raw uint32) int64 {
	b12 := (raw >> 12) & 0x1
	b6_2 := (raw >> 2) & 0x1F
	return signExtend(uint64((b12<<5)|b6_2), 6)
}

func cJImm(raw uint32) int64 {
	b11 := (raw >> 12) & 0x1
	b4 := (raw >> 11) & 0x1
	b9_8 := (raw >> 9) & 0x3
	b10 := (raw >> 8) & 0x1
	b6 := (raw >> 7) & 0x1
	b7 := (raw >> 6) & 0x1
	b3_1 := (raw >> 3) & 0x7
	b5 := (raw >> 2) & 0x1
	imm := (b11 << 11) | (b4 << 4) | (b9_8 << 8) | (b10 << 10) |
		(b6 << 6) | (b7 << 7) | (b3_1 << 1) | (b5 << 5)
	return signExtend(uint64(imm), 12)
}

func cBImm(raw uint32) int64 {
	b8 := (raw >> 12) & 0x1
	b4_3 := (raw >> 10) & 0x3
	b7_6 := (raw >> 5) & 0x3
	b2_1 := (raw >> 3) & 0x3
	b5 := (raw >> 2) & 0x1
	imm := (b8 << 8) | (b4_3 << 3) | (b7_6 << 6) | (b2_1 << 1) | (b5 << 5)
	return signExtend(uint64(imm), 9)
}

func executeQuadrant1Misc(cpu *CPU, raw uint32, ins Instruction16) error {
	bits11_10 := (raw >> 10) & 0x3
	shamt := ((raw >> 12) & 0x1 << 5) | ((raw >> 2) & 0x1F)

	switch bits11_10 {
	case 0x0: // C.SRLI
		cpu.SetX(ins.RS1p, cpu.GetX(ins.RS1p)>>shamt)
		return nil
	case 0x1: // C.SRAI
		cpu.SetX(ins.RS1p, uint64(int64(cpu.GetX(ins.RS1p))>>shamt))
		return nil
	case 0x2: // C.ANDI
		imm := cAddiImm(raw)
		cpu.SetX(ins.RS1p, cpu.GetX(ins.RS1p)&uint64(imm))
		return nil
	case 0x3:
		bits6_5 := (raw >> 5) & 0x3
		rs1 := cpu.GetX(ins.RS1p)
		rs2 := cpu.GetX(ins.RS2p)
		is32 := (raw>>12)&0x1 == 1
		switch bits6_5 {
		case 0x0:
			if is32 {
				cpu.SetX(ins.RS1p, uint64(int64(int32(uint32(rs1)-uint32(rs2)))))
			} else {
				cpu.SetX(ins.RS1p, rs1-rs2)
			}
		case 0x1:
			if is32 {
				cpu.SetX(ins.RS1p, uint64(int64(int32(uint32(rs1)+uint32(rs2)))))
			} else {
				cpu.SetX(ins.RS1p, rs1^rs2)
			}
		case 0x2:
			if is32 {
				return &Unsupported{Feature: "compressed reserved encoding (quadrant1 misc 11/6:5=10, bit12=1)"}
			}
			cpu.SetX(ins.RS1p, rs1|rs2)
		case 0x3:
			if is32 {
				return &Unsupported{Feature: "compressed reserved encoding (quadrant1 misc 11/6:5=11, bit12=1)"}
			}
			cpu.SetX(ins.RS1p, rs1&rs2)
		}
		return nil
	}
	return &Unsupported{Feature: "compressed quadrant 1 misc-alu"}
}

func executeQuadrant2(cpu *CPU, mem *Memory, raw uint32, ins Instruction16, pc, fallthroughPC uint64) (uint64, error) {
	switch ins.Funct3 {
	case 0x0: // C.SLLI
		shamt := ((raw>>12)&0x1)<<5 | ((raw >> 2) & 0x1F)
		cpu.SetX(ins.RD, cpu.GetX(ins.RD)<<shamt)
		return fallthroughPC, nil
	case 0x2: // C.LWSP
		if ins.RD == RegZero {
			return fallthroughPC, &Unsupported{Feature: "compressed reserved encoding (C.LWSP rd=0)"}
		}
		b5 := (raw >> 12) & 0x1
		b4_2 := (raw >> 4) & 0x7
		b7_6 := (raw >> 2) & 0x3
		uimm := (b5 << 5) | (b4_2 << 2) | (b7_6 << 6)
		v, err := mem.ReadWord(cpu.GetX(RegSP) + uint64(uimm))
		if err != nil {
			return fallthroughPC, err
		}
		cpu.SetX(ins.RD, uint64(int64(int32(v))))
		return fallthroughPC, nil
	case 0x3: // C.LDSP
		if ins.RD == RegZero {
			return fallthroughPC, &Unsupported{Feature: "compressed reserved encoding (C.LDSP rd=0)"}
		}
		b5 := (raw >> 12) & 0x1
		b4_3 := (raw >> 5) & 0x3
		b8_6 := (raw >> 2) & 0x7
		uimm := (b5 << 5) | (b4_3 << 3) | (b8_6 << 6)
		v, err := mem.ReadDoubleWord(cpu.GetX(RegSP) + uint64(uimm))
		if err != nil {
			return fallthroughPC, err
		}
		cpu.SetX(ins.RD, v)
		return fallthroughPC, nil
	case 0x4:
		return executeQuadrant2JumpAlu(cpu, raw, ins, pc, fallthroughPC)
	case 0x6: // C.SWSP
		b5_2 := (raw >> 9) & 0xF
		b7_6 := (raw >> 7) & 0x3
		uimm := (b5_2 << 2) | (b7_6 << 6)
		return fallthroughPC, mem.WriteWord(cpu.GetX(RegSP)+uint64(uimm), uint32(cpu.GetX(ins.RS2)))
	case 0x7: // C.SDSP
		b5_3 := (raw >> 10) & 0x7
		b8_6 := (raw >> 7) & 0x7
		uimm := (b5_3 << 3) | (b8_6 << 6)
		return fallthroughPC, mem.WriteDoubleWord(cpu.GetX(RegSP)+uint64(uimm), cpu.GetX(ins.RS2))
	default:
		return fallthroughPC, &Unsupported{Feature: "compressed quadrant 2 funct3"}
	}
}

func executeQuadrant2JumpAlu(cpu *CPU, raw uint32, ins Instruction16, pc, fallthroughPC uint64) (uint64, error) {
	bit12 := (raw >> 12) & 0x1
	if bit12 == 0 {
		if ins.RS2 == 0 { // C.JR
			if ins.RD == RegZero {
				return fallthroughPC, &Unsupported{Feature: "compressed reserved encoding (C.JR rs1=0)"}
			}
			return cpu.GetX(ins.RD) &^ 1, nil
		}
		// C.MV
		cpu.SetX(ins.RD, cpu.GetX(ins.RS2))
		return fallthroughPC, nil
	}
	if ins.RD == RegZero && ins.RS2 == 0 { // C.EBREAK
		return fallthroughPC, &Unsupported{Feature: "EBREAK"}
	}
	if ins.RS2 == 0 { // C.JALR
		target := cpu.GetX(ins.RD) &^ 1
		cpu.SetX(RegRA, fallthroughPC)
		return target, nil
	}
	// C.ADD
	cpu.SetX(ins.RD, cpu.GetX(ins.RD)+cpu.GetX(ins.RS2))
	return fallthroughPC, nil
}
