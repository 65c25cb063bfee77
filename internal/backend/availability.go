package backend

import "strings"

// Available returns a comma-separated list of the backends compiled into this build.
func Available() string {
	entries := []string{Sim}
	if Has(RKNPU) {
		entries = append(entries, RKNPU)
	}
	return strings.Join(entries, ",")
}

func Has(name string) bool {
	switch name {
	case RKNPU:
		return rknpuEnabled
	default:
		return name == Sim
	}
}
