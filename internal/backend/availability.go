package backend

import "strings"

// Has reports whether the named backend is compiled in. Only the CPU
// runtime exists.
func Has(name string) bool {
	return name == CPU
}

// Available returns a comma-separated list of available backends.
func Available() string {
	var entries []string
	for _, b := range []string{CPU, CUDA} {
		if Has(b) {
			entries = append(entries, b)
		}
	}
	return strings.Join(entries, ",")
}
