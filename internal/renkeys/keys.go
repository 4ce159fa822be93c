package renkeys

const keySuffix = ".p12"

// Key returns the bucket key a named identity is stored under.
func Key(name string) string {
	return name + keySuffix
}
