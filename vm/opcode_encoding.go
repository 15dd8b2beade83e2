package vm

import (
	"barn/db"
	"barn/types"
	"fmt"
)

// Byte-encoding for the opcode vector persisted to the binary database
// (core spec §4.5, §6), matching original_source/coldsrc/netpack.c's
// packInt/unpackInt byte-for-byte: each tier's lead byte carries the
// value's high bits literally (not an offset continuing from the
// previous tier's range), so the trailing bytes after the lead are the
// value's low bits directly:
//
//	0x00-0x7E  1 byte,  value is the lead byte itself (0..126)
//	0x80-0xBF  2 bytes, value = (lead&0x7F)<<8 | next
//	0xC0-0xDF  3 bytes, value = (lead&0x3F)<<16 | next16
//	0xE0-0xEF  4 bytes, value = (lead&0x1F)<<24 | next24
//	0xF0       5 bytes, explicit 32-bit big-endian value follows
//	0xF1       negative of the value encoded by what follows
//
// Branch targets (jump offsets, exception-handler IPs) are not stored as
// raw addresses: each is first turned into a signed delta from its own
// operand's on-disk byte position, with the magnitude shifted left one bit
// and the sign folded into the low bit, and *that* packed number is what
// gets run through the encoding above. DisassembleCode/AssembleCode use
// this for every forward jump, backward loop, and absolute handler target
// alike, so a verb's in-memory fixed-width bytecode (vm.go's ReadByte/
// ReadShort fetch shapes) round-trips through one on-disk representation
// regardless of which of those three a given opcode happens to use.
const (
	opNegLead = 0xF1
	opRawLead = 0xF0
)

// EncodeOpcodeValue appends the on-disk encoding of v to buf.
func EncodeOpcodeValue(buf []byte, v int64) []byte {
	if v < 0 {
		buf = append(buf, opNegLead)
		return EncodeOpcodeValue(buf, -v)
	}
	switch {
	case v < 0x7F:
		return append(buf, byte(v))
	case v < 0x3FFF:
		return append(buf, byte(0x80|(v>>8)), byte(v))
	case v < 0x1FFFFF:
		return append(buf, byte(0xC0|(v>>16)), byte(v>>8), byte(v))
	case v < 0x0FFFFFFF:
		return append(buf, byte(0xE0|(v>>24)), byte(v>>16), byte(v>>8), byte(v))
	default:
		buf = append(buf, opRawLead)
		return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
}

// DecodeOpcodeValue reads one encoded value from buf at pos, returning the
// value and the number of bytes consumed.
func DecodeOpcodeValue(buf []byte, pos int) (int64, int, error) {
	if pos < 0 || pos >= len(buf) {
		return 0, 0, fmt.Errorf("opcode encoding: truncated value at %d", pos)
	}
	lead := buf[pos]
	if lead == opNegLead {
		v, n, err := DecodeOpcodeValue(buf, pos+1)
		if err != nil {
			return 0, 0, err
		}
		return -v, n + 1, nil
	}
	if lead < 0x7F {
		return int64(lead), 1, nil
	}
	switch lead & 0xF0 {
	case 0x80, 0x90, 0xA0, 0xB0:
		if pos+2 > len(buf) {
			return 0, 0, fmt.Errorf("opcode encoding: truncated 2-byte value at %d", pos)
		}
		v := int64(lead&0x7F)<<8 | int64(buf[pos+1])
		return v, 2, nil
	case 0xC0, 0xD0:
		if pos+3 > len(buf) {
			return 0, 0, fmt.Errorf("opcode encoding: truncated 3-byte value at %d", pos)
		}
		v := int64(lead&0x3F)<<16 | int64(buf[pos+1])<<8 | int64(buf[pos+2])
		return v, 3, nil
	case 0xE0:
		if pos+4 > len(buf) {
			return 0, 0, fmt.Errorf("opcode encoding: truncated 4-byte value at %d", pos)
		}
		v := int64(lead&0x1F)<<24 | int64(buf[pos+1])<<16 | int64(buf[pos+2])<<8 | int64(buf[pos+3])
		return v, 4, nil
	case 0xF0:
		if pos+5 > len(buf) {
			return 0, 0, fmt.Errorf("opcode encoding: truncated 5-byte value at %d", pos)
		}
		v := int64(buf[pos+1])<<24 | int64(buf[pos+2])<<16 | int64(buf[pos+3])<<8 | int64(buf[pos+4])
		return v, 5, nil
	default:
		return 0, 0, fmt.Errorf("opcode encoding: unrecognized lead byte 0x%02X at %d", lead, pos)
	}
}

// EncodeJumpDelta packs target (an absolute in-memory IP) as a signed delta
// from opPos (the on-disk byte position of this operand, i.e. len(buf) at
// the moment of the call) and appends it via EncodeOpcodeValue.
func EncodeJumpDelta(buf []byte, opPos, target int) []byte {
	delta := int64(target - opPos)
	sign := int64(0)
	mag := delta
	if delta < 0 {
		sign = 1
		mag = -delta
	}
	return EncodeOpcodeValue(buf, mag<<1|sign)
}

// DecodeJumpDelta is the inverse of EncodeJumpDelta.
func DecodeJumpDelta(buf []byte, opPos int) (target int, n int, err error) {
	packed, n, err := DecodeOpcodeValue(buf, opPos)
	if err != nil {
		return 0, 0, err
	}
	mag := packed >> 1
	if packed&1 != 0 {
		mag = -mag
	}
	return opPos + int(mag), n, nil
}

// encInstr is one abstracted instruction shared by both the fixed-width
// in-memory parse and the on-disk parse: exactly one of fields/hasJump/
// clauses is populated, according to op's shape.
type encInstr struct {
	atIP       int
	op         OpCode
	fields     []int64
	hasJump    bool
	jumpTarget int
	clauses    []teClause
}

type teClause struct {
	codes   []int64
	varByte int64
	target  int
}

// parseCode walks prog's fixed-width in-memory bytecode once, the same
// fetch shapes vm.go's Execute switch reads via ReadByte/ReadShort, turning
// it into the ordered instruction list DisassembleCode serializes.
func parseCode(code []byte) ([]encInstr, error) {
	var out []encInstr
	ip := 0
	for ip < len(code) {
		atIP := ip
		op := OpCode(code[ip])
		ip++
		instr := encInstr{atIP: atIP, op: op}

		if IsImmediateInt(op) {
			out = append(out, instr)
			continue
		}

		readByte := func() (int64, error) {
			if ip >= len(code) {
				return 0, fmt.Errorf("opcode encoding: truncated operand for %s at %d", op, atIP)
			}
			v := int64(code[ip])
			ip++
			return v, nil
		}
		readShort := func() (int, error) {
			if ip+2 > len(code) {
				return 0, fmt.Errorf("opcode encoding: truncated short operand for %s at %d", op, atIP)
			}
			v := int(code[ip])<<8 | int(code[ip+1])
			ip += 2
			return v, nil
		}

		switch op {
		case OP_PUSH, OP_GET_VAR, OP_SET_VAR, OP_MAKE_LIST, OP_MAKE_MAP,
			OP_RANGE_SET, OP_ITER_PREP, OP_INDEX_MARKER, OP_PASS:
			v, err := readByte()
			if err != nil {
				return nil, err
			}
			instr.fields = []int64{v}

		case OP_CALL_BUILTIN, OP_CALL_VERB:
			a, err := readByte()
			if err != nil {
				return nil, err
			}
			b, err := readByte()
			if err != nil {
				return nil, err
			}
			instr.fields = []int64{a, b}

		case OP_SCATTER:
			a, err := readByte()
			if err != nil {
				return nil, err
			}
			b, err := readByte()
			if err != nil {
				return nil, err
			}
			c, err := readByte()
			if err != nil {
				return nil, err
			}
			instr.fields = []int64{a, b, c}

		case OP_FORK:
			varIdx, err := readByte()
			if err != nil {
				return nil, err
			}
			bodyLen, err := readShort()
			if err != nil {
				return nil, err
			}
			instr.fields = []int64{varIdx, int64(bodyLen)}

		case OP_JUMP, OP_JUMP_IF_FALSE, OP_JUMP_IF_TRUE, OP_AND, OP_OR:
			offset, err := readShort()
			if err != nil {
				return nil, err
			}
			instr.hasJump = true
			instr.jumpTarget = ip + offset

		case OP_LOOP:
			offset, err := readShort()
			if err != nil {
				return nil, err
			}
			instr.hasJump = true
			instr.jumpTarget = ip - offset

		case OP_TRY_FINALLY:
			target, err := readShort()
			if err != nil {
				return nil, err
			}
			instr.hasJump = true
			instr.jumpTarget = target

		case OP_TRY_EXCEPT:
			numClauses, err := readByte()
			if err != nil {
				return nil, err
			}
			for i := int64(0); i < numClauses; i++ {
				numCodes, err := readByte()
				if err != nil {
					return nil, err
				}
				codes := make([]int64, numCodes)
				for j := range codes {
					v, err := readByte()
					if err != nil {
						return nil, err
					}
					codes[j] = v
				}
				varByte, err := readByte()
				if err != nil {
					return nil, err
				}
				target, err := readShort()
				if err != nil {
					return nil, err
				}
				instr.clauses = append(instr.clauses, teClause{codes: codes, varByte: varByte, target: target})
			}

		default:
			// No operand: stack/arith/compare/bitwise/return/end-handler ops.
		}

		out = append(out, instr)
	}
	return out, nil
}

// DisassembleCode converts a verb's fixed-width in-memory bytecode into the
// compact on-disk opcode vector: every field, including every branch
// target, is rewritten through EncodeOpcodeValue/EncodeJumpDelta.
func DisassembleCode(code []byte) ([]byte, error) {
	instrs, err := parseCode(code)
	if err != nil {
		return nil, err
	}

	var buf []byte
	for _, instr := range instrs {
		buf = EncodeOpcodeValue(buf, int64(instr.op))
		if IsImmediateInt(instr.op) {
			continue
		}

		if instr.op == OP_TRY_EXCEPT {
			buf = EncodeOpcodeValue(buf, int64(len(instr.clauses)))
			for _, cl := range instr.clauses {
				buf = EncodeOpcodeValue(buf, int64(len(cl.codes)))
				for _, c := range cl.codes {
					buf = EncodeOpcodeValue(buf, c)
				}
				buf = EncodeOpcodeValue(buf, cl.varByte)
				buf = EncodeJumpDelta(buf, len(buf), cl.target)
			}
			continue
		}

		for _, f := range instr.fields {
			buf = EncodeOpcodeValue(buf, f)
		}
		if instr.hasJump {
			buf = EncodeJumpDelta(buf, len(buf), instr.jumpTarget)
		}
	}
	return buf, nil
}

// parseEncoded is DisassembleCode's inverse direction of parseCode: it walks
// the on-disk opcode vector, recovering each instruction's operands and,
// for branch targets, the original absolute in-memory IP (DecodeJumpDelta
// needs only the on-disk position it is reading from, which is known
// immediately since decoding is sequential).
func parseEncoded(buf []byte) ([]encInstr, error) {
	var out []encInstr
	pos := 0
	for pos < len(buf) {
		opVal, n, err := DecodeOpcodeValue(buf, pos)
		if err != nil {
			return nil, err
		}
		pos += n
		op := OpCode(opVal)
		instr := encInstr{op: op}

		if IsImmediateInt(op) {
			out = append(out, instr)
			continue
		}

		readField := func() (int64, error) {
			v, n, err := DecodeOpcodeValue(buf, pos)
			pos += n
			return v, err
		}

		switch op {
		case OP_PUSH, OP_GET_VAR, OP_SET_VAR, OP_MAKE_LIST, OP_MAKE_MAP,
			OP_RANGE_SET, OP_ITER_PREP, OP_INDEX_MARKER, OP_PASS:
			v, err := readField()
			if err != nil {
				return nil, err
			}
			instr.fields = []int64{v}

		case OP_CALL_BUILTIN, OP_CALL_VERB:
			a, err := readField()
			if err != nil {
				return nil, err
			}
			b, err := readField()
			if err != nil {
				return nil, err
			}
			instr.fields = []int64{a, b}

		case OP_SCATTER:
			a, err := readField()
			if err != nil {
				return nil, err
			}
			b, err := readField()
			if err != nil {
				return nil, err
			}
			c, err := readField()
			if err != nil {
				return nil, err
			}
			instr.fields = []int64{a, b, c}

		case OP_FORK:
			varIdx, err := readField()
			if err != nil {
				return nil, err
			}
			bodyLen, err := readField()
			if err != nil {
				return nil, err
			}
			instr.fields = []int64{varIdx, bodyLen}

		case OP_JUMP, OP_JUMP_IF_FALSE, OP_JUMP_IF_TRUE, OP_AND, OP_OR, OP_LOOP, OP_TRY_FINALLY:
			target, n, err := DecodeJumpDelta(buf, pos)
			if err != nil {
				return nil, err
			}
			pos += n
			instr.hasJump = true
			instr.jumpTarget = target

		case OP_TRY_EXCEPT:
			numClauses, err := readField()
			if err != nil {
				return nil, err
			}
			for i := int64(0); i < numClauses; i++ {
				numCodes, err := readField()
				if err != nil {
					return nil, err
				}
				codes := make([]int64, numCodes)
				for j := range codes {
					v, err := readField()
					if err != nil {
						return nil, err
					}
					codes[j] = v
				}
				varByte, err := readField()
				if err != nil {
					return nil, err
				}
				target, n, err := DecodeJumpDelta(buf, pos)
				if err != nil {
					return nil, err
				}
				pos += n
				instr.clauses = append(instr.clauses, teClause{codes: codes, varByte: varByte, target: target})
			}

		default:
			// No operand.
		}

		out = append(out, instr)
	}
	return out, nil
}

// AssembleCode is DisassembleCode's inverse: it rebuilds the fixed-width
// in-memory bytecode vm.go's Execute switch expects. Because every
// opcode's fixed-width size is determined solely by its own kind (never by
// what follows), a single forward pass suffices -- each instruction's new
// atIP is just the output length so far, the same rule the compiler itself
// used to produce the original offsets, so a faithful encode/decode round
// trip reproduces the original Code exactly.
func AssembleCode(encoded []byte) ([]byte, error) {
	instrs, err := parseEncoded(encoded)
	if err != nil {
		return nil, err
	}

	var code []byte
	for _, instr := range instrs {
		atIP := len(code)
		code = append(code, byte(instr.op))
		if IsImmediateInt(instr.op) {
			continue
		}

		switch instr.op {
		case OP_PUSH, OP_GET_VAR, OP_SET_VAR, OP_MAKE_LIST, OP_MAKE_MAP,
			OP_RANGE_SET, OP_ITER_PREP, OP_INDEX_MARKER, OP_PASS:
			code = append(code, byte(instr.fields[0]))

		case OP_CALL_BUILTIN, OP_CALL_VERB:
			code = append(code, byte(instr.fields[0]), byte(instr.fields[1]))

		case OP_SCATTER:
			code = append(code, byte(instr.fields[0]), byte(instr.fields[1]), byte(instr.fields[2]))

		case OP_FORK:
			code = append(code, byte(instr.fields[0]))
			bodyLen := uint16(instr.fields[1])
			code = append(code, byte(bodyLen>>8), byte(bodyLen))

		case OP_JUMP, OP_JUMP_IF_FALSE, OP_JUMP_IF_TRUE, OP_AND, OP_OR:
			ipAfter := atIP + 1 + 2
			offset := uint16(instr.jumpTarget - ipAfter)
			code = append(code, byte(offset>>8), byte(offset))

		case OP_LOOP:
			ipAfter := atIP + 1 + 2
			offset := uint16(ipAfter - instr.jumpTarget)
			code = append(code, byte(offset>>8), byte(offset))

		case OP_TRY_FINALLY:
			target := uint16(instr.jumpTarget)
			code = append(code, byte(target>>8), byte(target))

		case OP_TRY_EXCEPT:
			code = append(code, byte(len(instr.clauses)))
			for _, cl := range instr.clauses {
				code = append(code, byte(len(cl.codes)))
				for _, c := range cl.codes {
					code = append(code, byte(c))
				}
				code = append(code, byte(cl.varByte))
				target := uint16(cl.target)
				code = append(code, byte(target>>8), byte(target))
			}

		default:
			// No operand.
		}
	}
	return code, nil
}

// OpcodeVector returns the program's raw fixed-width bytecode, satisfying
// db's compiledProgram interface so the object cache's writer can persist
// it without db importing vm.
func (p *Program) OpcodeVector() []byte { return p.Code }

// ProgramLiterals returns the constant pool, variable name table, and local
// count that accompany OpcodeVector() in a verb's persisted compiled form.
func (p *Program) ProgramLiterals() ([]types.Value, []string, int) {
	return p.Constants, p.VarNames, p.NumLocals
}

func init() {
	db.EncodeOpcodeVector = DisassembleCode
	db.DecodeOpcodeVector = AssembleCode
	db.BuildVerbProgram = func(code []byte, constants []types.Value, varNames []string, numLocals int) any {
		return &Program{Code: code, Constants: constants, VarNames: varNames, NumLocals: numLocals}
	}
}
