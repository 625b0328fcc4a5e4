package blockchain

type ImportResult int

// ImportUnknown accompanies an error that prevented any decision about the block.
const (
	ImportUnknown ImportResult = iota
	ImportedBest
	ImportedNotBest
	Orphan
	Invalid
	Duplicate
)

func (r ImportResult) String() string {
	switch r {
	case ImportedBest:
		return "IMPORTED_BEST"
	case ImportedNotBest:
		return "IMPORTED_NOT_BEST"
	case Orphan:
		return "ORPHAN"
	case Invalid:
		return "INVALID"
	case Duplicate:
		return "DUPLICATE"
	default:
		return "UNKNOWN"
	}
}

// IsImported reports whether the block was stored by this call.
func (r ImportResult) IsImported() bool {
	return r == ImportedBest || r == ImportedNotBest
}
