package trials

import (
	"encoding/json"
	"reflect"
)

// identityKeys name the fields that identify an element of a metadata
// list. Patch elements carrying the same identity as a stored element are
// merged into it instead of being appended.
var identityKeys = []string{"cimac_participant_id", "cimac_id", "manifest_id", "upload_placeholder"}

// Merge applies patch on top of base and returns the result. Objects are
// merged key by key, lists are merged by element identity and scalars in
// patch win. Neither argument is modified.
func Merge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, pv := range patch {
		bv, ok := out[k]
		if !ok {
			out[k] = pv
			continue
		}
		switch p := pv.(type) {
		case map[string]any:
			if b, ok := bv.(map[string]any); ok {
				out[k] = Merge(b, p)
				continue
			}
		case []any:
			if b, ok := bv.([]any); ok {
				out[k] = mergeLists(b, p)
				continue
			}
		}
		out[k] = pv
	}
	return out
}

func identity(v any) (string, string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", "", false
	}
	for _, k := range identityKeys {
		if s, ok := m[k].(string); ok && s != "" {
			return k, s, true
		}
	}
	return "", "", false
}

func mergeLists(base, patch []any) []any {
	out := make([]any, len(base), len(base)+len(patch))
	copy(out, base)

next:
	for _, pv := range patch {
		if key, id, ok := identity(pv); ok {
			for i, bv := range out {
				if bm, ok := bv.(map[string]any); ok && bm[key] == id {
					out[i] = Merge(bm, pv.(map[string]any))
					continue next
				}
			}
		} else {
			for _, bv := range out {
				if reflect.DeepEqual(bv, pv) {
					continue next
				}
			}
		}
		out = append(out, pv)
	}
	return out
}

// normalize converts v to the generic shape produced by decoding JSON, so
// typed slices and maps built in Go merge like decoded ones.
func normalize(v map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
