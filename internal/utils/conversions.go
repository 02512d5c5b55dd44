package utils

// ToStringSlice keeps the string elements of a decoded JSON array.
// It returns nil when none are strings.
func ToStringSlice(slice []any) []string {
	var out []string
	for _, v := range slice {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Intersects reports whether a and b share at least one element.
func Intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; ok {
			return true
		}
	}
	return false
}
