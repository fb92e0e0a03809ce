package types

// Operator identifies the mutation that produced a Mutant.
type Operator int

const (
	OpSubstitute Operator = iota // point substitution
	OpDelete                     // range deletion
	OpInsert                     // repeated-byte insertion
)

func (o Operator) String() string {
	switch o {
	case OpSubstitute:
		return "substitute"
	case OpDelete:
		return "delete"
	case OpInsert:
		return "insert"
	default:
		return "unknown"
	}
}

// Mutant is one variant of the seed, produced by exactly one operator application.
type Mutant struct {
	Index    int      // position in the batch
	Round    int      // mutation round the mutant belongs to
	Operator Operator // operator that produced Data
	Data     []byte
}
