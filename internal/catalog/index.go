package catalog

import (
	"strings"

	"grantledger/internal"
)

// supplierIndex answers "which supplier list owns this canonical name" in
// list priority order.
type supplierIndex struct {
	lists   []SupplierList
	members []map[string]struct{}
}

func buildSupplierIndex(lists []SupplierList) *supplierIndex {
	idx := &supplierIndex{
		lists:   lists,
		members: make([]map[string]struct{}, 0, len(lists)),
	}
	for _, l := range lists {
		set := map[string]struct{}{}
		for _, s := range l.Suppliers {
			key := supplierKey(s)
			if key == "" {
				continue
			}
			set[key] = struct{}{}
		}
		idx.members = append(idx.members, set)
	}
	return idx
}

func supplierKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// SupplierCategory reports the forced category for a canonical supplier and
// the name of the list that forced it. The first list containing the supplier
// wins.
func (r *Rules) SupplierCategory(canonical string) (internal.Category, string, bool) {
	key := supplierKey(canonical)
	if key == "" {
		return "", "", false
	}
	for i, set := range r.index.members {
		if _, ok := set[key]; ok {
			l := r.index.lists[i]
			return l.Category, l.List, true
		}
	}
	return "", "", false
}
