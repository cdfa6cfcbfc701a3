package domain

import "strings"

// pidPrefixes are the recognized identifier schemes, checked in order.
var pidPrefixes = []string{"doi:", "hdl:", "ark:/"}

// StripPrefix removes one recognized scheme prefix (doi:, hdl:, ark:/) from
// pid. Matching is case-sensitive and the first match wins; identifiers
// without a recognized prefix are returned unchanged.
func StripPrefix(pid string) string {
	for _, p := range pidPrefixes {
		if strings.HasPrefix(pid, p) {
			return pid[len(p):]
		}
	}
	return pid
}
