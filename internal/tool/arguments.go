package tool

// Arguments holds validated call arguments with defaults applied. Getters
// return the zero value when a key is absent or has another type; Check has
// already enforced the declared types.
type Arguments map[string]any

func (a Arguments) String(key string) string {
	s, _ := a[key].(string)
	return s
}

func (a Arguments) Bool(key string) bool {
	b, _ := a[key].(bool)
	return b
}

func (a Arguments) Int(key string) int {
	switch v := a[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func (a Arguments) Float(key string) float64 {
	switch v := a[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

// Strings returns a string array argument.
func (a Arguments) Strings(key string) []string {
	switch v := a[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
