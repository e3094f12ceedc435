package util

// Tern is a generic conditional expression: Tern(cond, a, b) is a when cond
// holds, b otherwise. Both arms are always evaluated.
func Tern[T any](cond bool, a T, b T) T {
	if cond {
		return a
	}
	return b
}
