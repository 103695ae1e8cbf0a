package internal

import "strconv"

// Flatten collapses a nested JSON object into a single-level map with
// dot-joined keys, so route expressions can reference payload fields like
// `payload.action` or `repository.full_name`. Array elements get indexed
// keys (`labels[0].name`) and the array itself stays reachable under its
// plain path.
func Flatten(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for key, value := range data {
		flattenInto(out, key, value)
	}
	return out
}

func flattenInto(out map[string]interface{}, path string, value interface{}) {
	switch typed := value.(type) {
	case map[string]interface{}:
		for key, child := range typed {
			flattenInto(out, path+"."+key, child)
		}
	case []interface{}:
		out[path] = typed
		for i, child := range typed {
			flattenInto(out, path+"["+strconv.Itoa(i)+"]", child)
		}
	default:
		out[path] = value
	}
}
