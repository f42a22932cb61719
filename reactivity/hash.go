package reactivity

import (
	"fmt"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// hashKey reduces a key to a stable string: strings, numbers, and booleans
// by their decimal form, everything else structurally.
func hashKey(k any) string {
	switch v := k.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.FormatInt(int64(v), 10)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint8:
		return strconv.FormatUint(uint64(v), 10)
	case uint16:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}

	// structural: canonical JSON (map keys sorted by the codec)
	b, err := json.Marshal(k)
	if err != nil {
		return fmt.Sprintf("%#v", k)
	}
	return string(b)
}

// registerHashes expands keys for registration. A record key registers its
// domain:id entries only.
func registerHashes(keys []any) []string {
	var out []string
	for _, k := range keys {
		if record, ok := k.(map[string][]any); ok {
			for domain, ids := range record {
				for _, id := range ids {
					out = append(out, domain+":"+hashKey(id))
				}
			}
			continue
		}
		out = append(out, hashKey(k))
	}
	return out
}

// invalidateHashes expands keys for invalidation. A record key touches its
// domain:id entries and the whole domain.
func invalidateHashes(keys []any) []string {
	var out []string
	for _, k := range keys {
		if record, ok := k.(map[string][]any); ok {
			for domain, ids := range record {
				out = append(out, hashKey(domain))
				for _, id := range ids {
					out = append(out, domain+":"+hashKey(id))
				}
			}
			continue
		}
		out = append(out, hashKey(k))
	}
	return out
}
