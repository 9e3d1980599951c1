// mask.go — Key-name field masking for outgoing log entries.
// Replaces the value of any key whose name appears in the configured set with
// a fixed placeholder, recursively through nested mappings. Arrays are
// traversed; atoms are left untouched. The input record is never mutated:
// masking operates on a copy so the in-memory original stays intact.
package policy

import "github.com/Basillica/eaglet/internal/types"

// MaskReplacement is the placeholder written over masked values.
const MaskReplacement = "********"

// Masker replaces values of configured keys in context mappings.
// Safe for concurrent use after construction.
type Masker struct {
	keys map[string]struct{}
}

// NewMasker builds a masker for the given key names. A nil or empty list
// yields a masker whose Empty method reports true; callers skip masking
// entirely in that case.
func NewMasker(fields []string) *Masker {
	m := &Masker{keys: make(map[string]struct{}, len(fields))}
	for _, f := range fields {
		m.keys[f] = struct{}{}
	}
	return m
}

// Empty reports whether the masker has no keys configured.
func (m *Masker) Empty() bool { return len(m.keys) == 0 }

// MaskEntry returns a masked copy of the entry. The mapping-typed attribute
// groups (context, global/user context, breadcrumb data, user identity,
// structured reason) are walked; scalar wire fields are not key-addressable
// and pass through unchanged.
func (m *Masker) MaskEntry(e *types.LogEntry) *types.LogEntry {
	if m.Empty() || e == nil {
		return e
	}
	out := e.Clone()
	out.Context = m.maskContext(out.Context)
	out.GlobalContext = m.maskContext(out.GlobalContext)
	out.UserContext = m.maskContext(out.UserContext)
	out.Reason = m.maskValue(out.Reason)
	for i := range out.Breadcrumbs {
		out.Breadcrumbs[i].Data = m.maskContext(out.Breadcrumbs[i].Data)
	}
	if out.User != nil {
		if m.has("id") {
			out.User.ID = MaskReplacement
		}
		if m.has("username") {
			out.User.Username = MaskReplacement
		}
		if m.has("email") {
			out.User.Email = MaskReplacement
		}
	}
	return out
}

func (m *Masker) has(key string) bool {
	_, ok := m.keys[key]
	return ok
}

func (m *Masker) maskContext(c types.Context) types.Context {
	if c == nil {
		return nil
	}
	out := make(types.Context, len(c))
	for k, v := range c {
		if m.has(k) {
			out[k] = MaskReplacement
			continue
		}
		out[k] = m.maskValue(v)
	}
	return out
}

// maskValue copies and masks mapping and slice values; atoms are returned
// as-is.
func (m *Masker) maskValue(v any) any {
	switch val := v.(type) {
	case types.Context:
		return m.maskContext(val)
	case map[string]any:
		return map[string]any(m.maskContext(types.Context(val)))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = m.maskValue(item)
		}
		return out
	default:
		return v
	}
}
