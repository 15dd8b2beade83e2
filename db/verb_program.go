package db

import "barn/types"

// EncodeOpcodeVector/DecodeOpcodeVector translate a verb's fixed-width
// in-memory bytecode to and from the compact on-disk opcode vector encoding
// (core spec §4.5/§6). The vm package installs both at init so db's object
// writer/reader can persist a verb's compiled form without importing vm.
var EncodeOpcodeVector func(code []byte) ([]byte, error)
var DecodeOpcodeVector func(data []byte) ([]byte, error)

// BuildVerbProgram reconstructs a verb's BytecodeCache payload from its
// persisted opcode vector and literal pool. Also installed by vm at init.
var BuildVerbProgram func(code []byte, constants []types.Value, varNames []string, numLocals int) any

// compiledProgram lets writeObject pull a verb's already-compiled bytecode
// and literal pool back out of the opaque BytecodeCache field without
// importing vm; *vm.Program satisfies it via OpcodeVector/ProgramLiterals.
type compiledProgram interface {
	OpcodeVector() []byte
	ProgramLiterals() ([]types.Value, []string, int)
}

func verbProgram(verb *Verb) (compiledProgram, bool) {
	cp, ok := verb.BytecodeCache.(compiledProgram)
	return cp, ok
}
