// Package permission defines the sandboxing tiers agents run under and the
// pure guard function that decides whether an operation is allowed at a tier.
package permission

// Level is the coarse sandboxing tier assigned to an agent at registration.
type Level string

const (
	// Isolated permits only side-effect-free operations.
	Isolated Level = "isolated"
	// Sandboxed additionally permits writes confined to the declared working scope.
	Sandboxed Level = "sandboxed"
	// Trusted permits every operation.
	Trusted Level = "trusted"
)

// Valid returns true if the level is a known value.
func (l Level) Valid() bool {
	switch l {
	case Isolated, Sandboxed, Trusted:
		return true
	default:
		return false
	}
}

// Operation names a kind of action a work function may request.
type Operation string

const (
	// OpInspect is a side-effect-free read or inspection.
	OpInspect Operation = "inspect"
	// OpWorkspaceWrite is a write confined to the declared working scope.
	OpWorkspaceWrite Operation = "workspace"
	// OpNetworkCall is a call to an external service.
	OpNetworkCall Operation = "network"
	// OpHostExec is arbitrary command execution on the host.
	OpHostExec Operation = "exec"
)

// Valid returns true if the operation is a known value.
func (o Operation) Valid() bool {
	switch o {
	case OpInspect, OpWorkspaceWrite, OpNetworkCall, OpHostExec:
		return true
	default:
		return false
	}
}

// rank orders levels by how much they permit. Unknown levels rank below
// Isolated so they never pass the guard.
func rank(l Level) int {
	switch l {
	case Isolated:
		return 1
	case Sandboxed:
		return 2
	case Trusted:
		return 3
	default:
		return 0
	}
}

// minLevel is the weakest level that may perform each operation.
var minLevel = map[Operation]Level{
	OpInspect:        Isolated,
	OpWorkspaceWrite: Sandboxed,
	OpNetworkCall:    Trusted,
	OpHostExec:       Trusted,
}

// Allowed reports whether an agent at the given level may perform op.
// Unknown operations are never allowed.
func Allowed(l Level, op Operation) bool {
	min, ok := minLevel[op]
	if !ok {
		return false
	}
	return rank(l) >= rank(min)
}

// FirstDenied returns the first operation in ops that the level does not
// permit, and true if one was found.
func FirstDenied(l Level, ops []Operation) (Operation, bool) {
	for _, op := range ops {
		if !Allowed(l, op) {
			return op, true
		}
	}
	return "", false
}

// Parse converts a string such as "sandboxed" to a Level.
func Parse(s string) (Level, bool) {
	l := Level(s)
	return l, l.Valid()
}

// ParseOperation converts a string such as "workspace" to an Operation.
func ParseOperation(s string) (Operation, bool) {
	o := Operation(s)
	return o, o.Valid()
}
