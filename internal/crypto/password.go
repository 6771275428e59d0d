package crypto

// ComparePasswordHash reports whether two password verifiers are equal. The comparison
// time depends only on the lengths, never on where the first difference is.
func ComparePasswordHash(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	return ConstantTimeCompare(a, b)
}
