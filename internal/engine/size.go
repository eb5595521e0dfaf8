package engine

// Sized is implemented by values that know their retained size
type Sized interface {
	SizeBytes() int64
}

const (
	// defaultValueSize is charged for values without a better estimate
	defaultValueSize = 64
	// entryOverhead is charged for the bookkeeping of a memo entry
	entryOverhead = 48
	// edgeSize is charged per recorded dependency edge
	edgeSize = 16
)

// SizeOf estimates the retained size of a value
func SizeOf(v any) int64 {
	switch x := v.(type) {
	case nil:
		return 0
	case Sized:
		return x.SizeBytes()
	case string:
		return int64(len(x)) + 16
	case []byte:
		return int64(len(x)) + 24
	default:
		return defaultValueSize
	}
}
