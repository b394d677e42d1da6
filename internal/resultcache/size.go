package resultcache

import "encoding/json"

// JSONSize estimates a value's footprint by its JSON encoding length. Values
// that cannot be encoded count as zero.
func JSONSize(v any) int64 {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return int64(len(data))
}
