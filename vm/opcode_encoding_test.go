package vm

import (
	"bytes"
	"testing"

	"barn/db"
	"barn/types"
)

func TestEncodeDecodeOpcodeValueRoundTrip(t *testing.T) {
	values := []int64{
		0, 1, 63, 0x7E,
		0x7F, 0x3FFE,
		0x3FFF, 0x1FFFFE,
		0x1FFFFF, 0x0FFFFFFE,
		0x0FFFFFFF, 0x0FFFFFFF + 1000000,
		-1, -126, -5000, -70000,
	}
	for _, v := range values {
		buf := EncodeOpcodeValue(nil, v)
		got, n, err := DecodeOpcodeValue(buf, 0)
		if err != nil {
			t.Fatalf("decode %d: %v", v, err)
		}
		if n != len(buf) {
			t.Fatalf("value %d: decoded %d bytes, encoded %d", v, n, len(buf))
		}
		if got != v {
			t.Fatalf("value %d round-tripped as %d", v, got)
		}
	}
}

func TestEncodeDecodeJumpDeltaAcrossByteWidths(t *testing.T) {
	cases := []struct {
		name   string
		opPos  int
		target int
	}{
		{"tiny forward", 10, 12},
		{"zero delta", 5, 5},
		{"small backward", 50, 40},
		{"two-byte forward", 0, 200},
		{"two-byte backward", 500, 100},
		{"three-byte forward", 0, 50000},
		{"four-byte forward", 0, 9000000},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			buf := EncodeJumpDelta(nil, c.opPos, c.target)
			got, n, err := DecodeJumpDelta(buf, 0)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if n != len(buf) {
				t.Fatalf("consumed %d bytes, encoded %d", n, len(buf))
			}
			if got != c.target {
				t.Fatalf("target = %d, want %d", got, c.target)
			}
		})
	}
}

// buildCode assembles fixed-width in-memory bytecode from opcode/operand
// bytes, the same shapes vm.go's Execute switch reads via ReadByte/ReadShort.
func buildCode(bytesIn ...int) []byte {
	code := make([]byte, len(bytesIn))
	for i, b := range bytesIn {
		code[i] = byte(b)
	}
	return code
}

func roundTrip(t *testing.T, code []byte) {
	t.Helper()
	encoded, err := DisassembleCode(code)
	if err != nil {
		t.Fatalf("DisassembleCode: %v", err)
	}
	back, err := AssembleCode(encoded)
	if err != nil {
		t.Fatalf("AssembleCode: %v", err)
	}
	if !bytes.Equal(back, code) {
		t.Fatalf("round trip mismatch:\n  original: % x\n  got:      % x", code, back)
	}
}

func TestOpcodeVectorRoundTripStraightLine(t *testing.T) {
	// PUSH const#5; GET_VAR 0; ADD; POP; RETURN
	code := buildCode(
		int(OP_PUSH), 5,
		int(OP_GET_VAR), 0,
		int(OP_ADD),
		int(OP_POP),
		int(OP_RETURN),
	)
	roundTrip(t, code)
}

func TestOpcodeVectorRoundTripImmediateInts(t *testing.T) {
	imm, ok := MakeImmediateOpcode(7)
	if !ok {
		t.Fatal("MakeImmediateOpcode(7) not representable")
	}
	code := buildCode(int(imm), int(OP_POP), int(OP_RETURN))
	roundTrip(t, code)
}

func TestOpcodeVectorRoundTripForwardJumpShortDelta(t *testing.T) {
	// JUMP_IF_FALSE +1 (skip a single POP), short enough to stay within the
	// one-byte jump-delta encoding.
	code := buildCode(
		int(OP_JUMP_IF_FALSE), 0, 1,
		int(OP_POP),
		int(OP_RETURN),
	)
	roundTrip(t, code)
}

func TestOpcodeVectorRoundTripForwardJumpLongDelta(t *testing.T) {
	// A long run of filler POPs pushes the jump's on-disk delta magnitude
	// past the one-byte boundary, exercising the two/three-byte tiers.
	instrs := []int{int(OP_JUMP), 0, 0}
	fillerCount := 200
	for i := 0; i < fillerCount; i++ {
		instrs = append(instrs, int(OP_POP))
	}
	instrs = append(instrs, int(OP_RETURN))
	code := buildCode(instrs...)
	// Patch the short jump offset to land exactly on the trailing RETURN.
	target := len(code) - 1
	offset := target - 3
	code[1] = byte(offset >> 8)
	code[2] = byte(offset)
	roundTrip(t, code)
}

func TestOpcodeVectorRoundTripBackwardLoop(t *testing.T) {
	// POP; LOOP back to the start.
	code := buildCode(
		int(OP_POP),
		int(OP_LOOP), 0, 3,
	)
	roundTrip(t, code)
}

func TestOpcodeVectorRoundTripTryExceptClauses(t *testing.T) {
	// TRY_EXCEPT with two clauses (one error code each), body, END_EXCEPT.
	code := buildCode(
		int(OP_TRY_EXCEPT),
		2, // numClauses
		1, 11, 0, 0, 9, // clause 1: codes=[11], varByte=0, target=9
		1, 12, 1, 0, 9, // clause 2: codes=[12], varByte=1, target=9
		int(OP_POP),
		int(OP_END_EXCEPT),
	)
	roundTrip(t, code)
}

func TestProgramOpcodeVectorAndLiterals(t *testing.T) {
	code := buildCode(int(OP_PUSH), 0, int(OP_RETURN))
	p := &Program{
		Code:      code,
		Constants: []types.Value{types.NewInt(42)},
		VarNames:  []string{"x"},
		NumLocals: 1,
	}
	if !bytes.Equal(p.OpcodeVector(), code) {
		t.Fatal("OpcodeVector did not return Code")
	}
	constants, varNames, numLocals := p.ProgramLiterals()
	if len(constants) != 1 || len(varNames) != 1 || numLocals != 1 {
		t.Fatalf("ProgramLiterals mismatch: %v %v %d", constants, varNames, numLocals)
	}
}

func TestDatabaseHooksInstalledAtInit(t *testing.T) {
	if db.EncodeOpcodeVector == nil || db.DecodeOpcodeVector == nil || db.BuildVerbProgram == nil {
		t.Fatal("vm's init() did not install db's opcode-vector hooks")
	}
	code := buildCode(int(OP_PUSH), 3, int(OP_RETURN))
	encoded, err := db.EncodeOpcodeVector(code)
	if err != nil {
		t.Fatalf("db.EncodeOpcodeVector: %v", err)
	}
	back, err := db.DecodeOpcodeVector(encoded)
	if err != nil {
		t.Fatalf("db.DecodeOpcodeVector: %v", err)
	}
	if !bytes.Equal(back, code) {
		t.Fatalf("hook round trip mismatch: got % x, want % x", back, code)
	}
	built := db.BuildVerbProgram(code, nil, nil, 0)
	prog, ok := built.(*Program)
	if !ok {
		t.Fatalf("BuildVerbProgram returned %T, want *Program", built)
	}
	if !bytes.Equal(prog.Code, code) {
		t.Fatal("BuildVerbProgram did not preserve Code")
	}
}
