package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrEmptyPayload is returned for bodies without any fields.
var ErrEmptyPayload = errors.New("empty webhook payload")

// Payload is a decoded webhook body in the nested encoding.
type Payload map[string]any

// Decode parses a raw JSON body. Bodies in the legacy flat bracket-key
// encoding ("leads[status][0][id]") are expanded into the nested encoding,
// so both historical shapes reach the probe table identically.
func Decode(raw []byte) (Payload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, ErrEmptyPayload
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil, err
	}
	if len(root) == 0 {
		return nil, ErrEmptyPayload
	}

	if hasBracketKeys(root) {
		root = expandBracketKeys(root)
	}
	for key, child := range root {
		root[key] = listify(child)
	}
	return Payload(root), nil
}

func hasBracketKeys(root map[string]any) bool {
	for key := range root {
		if strings.Contains(key, "[") {
			return true
		}
	}
	return false
}

// expandBracketKeys turns {"a[b][0][c]": v} into {"a": {"b": [{"c": v}]}}.
// Plain keys are kept as they are.
func expandBracketKeys(flat map[string]any) map[string]any {
	out := make(map[string]any)
	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		path := splitBracketKey(key)
		if len(path) == 0 {
			continue
		}
		node := out
		for i, segment := range path {
			if i == len(path)-1 {
				if _, exists := node[segment]; !exists {
					node[segment] = flat[key]
				}
				break
			}
			child, ok := node[segment].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[segment] = child
			}
			node = child
		}
	}

	return out
}

func splitBracketKey(key string) []string {
	head, rest, found := strings.Cut(key, "[")
	if head == "" {
		return nil
	}
	path := []string{head}
	if !found {
		return path
	}
	for _, part := range strings.Split(rest, "[") {
		segment := strings.TrimSuffix(part, "]")
		if segment == "" {
			continue
		}
		path = append(path, segment)
	}
	return path
}

// listify converts maps whose keys are all array indices into slices.
func listify(node any) any {
	m, ok := node.(map[string]any)
	if !ok {
		return node
	}
	for key, child := range m {
		m[key] = listify(child)
	}
	if len(m) == 0 {
		return m
	}

	indices := make([]int, 0, len(m))
	for key := range m {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 {
			return m
		}
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	list := make([]any, 0, len(indices))
	for _, idx := range indices {
		list = append(list, m[strconv.Itoa(idx)])
	}
	return list
}

// first returns the first entity under root[section][action], or nil.
func (p Payload) first(section, action string) map[string]any {
	group, ok := p[section].(map[string]any)
	if !ok {
		return nil
	}
	switch items := group[action].(type) {
	case []any:
		if len(items) == 0 {
			return nil
		}
		entity, _ := items[0].(map[string]any)
		return entity
	case map[string]any:
		return items
	default:
		return nil
	}
}

func field(m map[string]any, keys ...string) any {
	for _, key := range keys {
		if m == nil {
			return nil
		}
		if v, ok := m[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return int64(f)
		}
	case float64:
		return int64(t)
	case int64:
		return t
	case int:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func asUnixTime(v any) time.Time {
	secs := asInt64(v)
	if secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
