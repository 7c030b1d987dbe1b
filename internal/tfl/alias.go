package tfl

// aliasedModes maps each mode participating in an identity transition to a
// shared group key. During the tflrail to elizabeth-line transition the
// authority reported the same physical line under both labels, sometimes
// within overlapping windows.
var aliasedModes = map[string]string{
	"tflrail":        "tflrail/elizabeth-line",
	"elizabeth-line": "tflrail/elizabeth-line",
}

// AliasResolver reconciles entity labels that refer to the same physical
// line. It is built once per ingestion batch: the first label seen for a
// group becomes the canonical id for every later label in that group, which
// is deterministic because batches are processed in timestamp order.
type AliasResolver struct {
	firstSeen map[string]string // group key -> canonical entity id
}

func NewAliasResolver() *AliasResolver {
	return &AliasResolver{firstSeen: make(map[string]string)}
}

// Resolve returns the canonical entity id for a raw (id, mode) pair. Modes
// outside a transition group resolve to themselves.
func (a *AliasResolver) Resolve(id, mode string) string {
	group, ok := aliasedModes[mode]
	if !ok {
		return id
	}
	if canonical, seen := a.firstSeen[group]; seen {
		return canonical
	}
	a.firstSeen[group] = id
	return id
}

// Aliased reports whether the mode participates in an identity transition.
func Aliased(mode string) bool {
	_, ok := aliasedModes[mode]
	return ok
}
