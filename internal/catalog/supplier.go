package catalog

import (
	"strings"
)

// NormalizeSupplier resolves a free-text vendor to its canonical name.
// Blank input returns "". Unknown vendors come back trimmed but otherwise
// untouched.
func (r *Rules) NormalizeSupplier(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	lowered := strings.ToLower(trimmed)
	for _, alias := range r.doc.SupplierAliases {
		for _, needle := range alias.Contains {
			if strings.Contains(lowered, needle) {
				return alias.Canonical
			}
		}
	}
	return trimmed
}

func (r *Rules) SupplierAliases() []SupplierAlias {
	out := make([]SupplierAlias, 0, len(r.doc.SupplierAliases))
	for _, a := range r.doc.SupplierAliases {
		out = append(out, SupplierAlias{Canonical: a.Canonical, Contains: append([]string(nil), a.Contains...)})
	}
	return out
}
