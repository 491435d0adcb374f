package rpc

import "strings"

// AdminSet authorizes tier management for a fixed list of subjects.
type AdminSet map[string]struct{}

func NewAdminSet(subjects ...string) AdminSet {
	out := make(AdminSet, len(subjects))
	for _, s := range subjects {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			out[trimmed] = struct{}{}
		}
	}
	return out
}

func (a AdminSet) IsAdmin(caller string) bool {
	_, ok := a[strings.TrimSpace(caller)]
	return ok
}
