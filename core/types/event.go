package types

// Event represents a structured state change emitted by the escrow node.
// Attributes carry the flattened record fields as decimal and hex strings.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attribute returns the named attribute and whether it is present.
func (e *Event) Attribute(key string) (string, bool) {
	if e == nil || e.Attributes == nil {
		return "", false
	}
	value, ok := e.Attributes[key]
	return value, ok
}

// CloneAttributes returns a defensive copy of the attribute map. The result
// is never nil, so callers can serialize it directly.
func (e *Event) CloneAttributes() map[string]string {
	out := make(map[string]string, attributeCount(e))
	if e != nil {
		for key, value := range e.Attributes {
			out[key] = value
		}
	}
	return out
}

func attributeCount(e *Event) int {
	if e == nil {
		return 0
	}
	return len(e.Attributes)
}
