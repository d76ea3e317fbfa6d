package interp

import "github.com/embervm/ember/internal/image"

// cost returns how many reductions executing one instruction charges
// against the process's quantum budget (spec.md §4.6 Quantum: "one
// reduction, roughly, per bytecode instruction"). Spawn and send are
// charged extra since they touch the scheduler/another process's
// mailbox; the precise multipliers are this interpreter's own open
// design choice (recorded in DESIGN.md), not named by spec.md.
func cost(op image.Opcode, operands [4]int32) int {
	switch op {
	case image.OpSpawn:
		return 8
	case image.OpSend:
		return 4
	case image.OpAlloc:
		// Bulk allocation (fieldCount in Operands[2]) is charged
		// proportional to its size so a single instruction can't
		// allocate unboundedly for one reduction.
		n := int(operands[2])
		if n < 1 {
			n = 1
		}
		return n
	case image.OpFFICall:
		return 4
	case image.OpNop, image.OpSafepoint:
		return 0
	default:
		return 1
	}
}
