package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"grantledger/internal"
)

func TestDefaultRulesLoad(t *testing.T) {
	r, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	cats := r.Categories()
	if len(cats) != 14 {
		t.Fatalf("categories: got %d want 14: %v", len(cats), cats)
	}
	if cats[0] != internal.CategoryMedia || cats[len(cats)-1] != internal.CategoryOthers {
		t.Fatalf("unexpected order: %v", cats)
	}
	for _, c := range r.CategoryTable() {
		if c.Name == internal.CategoryOthers {
			t.Fatalf("Others must not carry keywords")
		}
	}
	if ov := r.Overrides(); len(ov) == 0 || ov[0].Keyword != "cisplatin" || ov[0].Category != internal.CategoryDrugs {
		t.Fatalf("unexpected overrides: %+v", ov)
	}
	prec := r.Precedence()
	if len(prec) != 3 || prec[0].Category != internal.CategoryOfficeSupplies || len(prec[0].When) != 2 {
		t.Fatalf("unexpected precedence: %+v", prec)
	}
}

func TestRulesAreCopies(t *testing.T) {
	r, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	table := r.CategoryTable()
	table[0].Keywords[0] = "mutated"
	if got := r.CategoryTable()[0].Keywords[0]; got == "mutated" {
		t.Fatalf("keyword table leaked a mutable slice")
	}
}

func TestNormalizeSupplier(t *testing.T) {
	r, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	cases := map[string]string{
		"  medchem express ": "MedChemExpress",
		"IDT":                "Integrated DNA Technologies",
		"Integrated DNA":     "Integrated DNA Technologies",
		"Vector Builder Inc": "VectorBuilder",
		"NEB":                "New England Biolabs",
		"ApexBio":            "ApexBio",
		"Selleck Chemicals":  "SelleckChem",
		" Acme Labs ":        "Acme Labs",
		"":                   "",
		"   ":                "",
	}
	for in, want := range cases {
		if got := r.NormalizeSupplier(in); got != want {
			t.Fatalf("%q: got %q want %q", in, got, want)
		}
	}
}

func TestSupplierCategory(t *testing.T) {
	r, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	cat, list, ok := r.SupplierCategory("abcam")
	if !ok || cat != internal.CategoryAntibodies || list != "antibody" {
		t.Fatalf("abcam: got %q %q %v", cat, list, ok)
	}
	if _, _, ok := r.SupplierCategory("Acme Labs"); ok {
		t.Fatalf("unknown supplier must not force a category")
	}
	if _, _, ok := r.SupplierCategory(""); ok {
		t.Fatalf("blank supplier must not force a category")
	}
}

func TestLoadRejectsInvalidRules(t *testing.T) {
	cases := map[string]string{
		"others target": `
categories:
  - name: Media
    keywords: [dmem]
  - name: Others
overrides:
  - keyword: widget
    category: Others
`,
		"others keywords": `
categories:
  - name: Media
    keywords: [dmem]
  - name: Others
    keywords: [misc]
`,
		"unknown category": `
categories:
  - name: Media
    keywords: [dmem]
specific:
  - keyword: mouse
    category: Rodents
`,
		"empty keyword": `
categories:
  - name: Media
    keywords: [dmem, " "]
`,
		"empty alternative": `
categories:
  - name: Blots
    keywords: [blot]
precedence:
  - category: Blots
    when:
      - []
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "rules.yaml")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if !errors.Is(err, ErrInvalidRules) {
				t.Fatalf("expected ErrInvalidRules, got %v", err)
			}
		})
	}
}

func TestLoadCustomRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	body := `
categories:
  - name: Labware
    keywords: [Pipette, TIPS]
  - name: Others
supplier_aliases:
  - canonical: Fisher
    contains: [fisher]
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	table := r.CategoryTable()
	if len(table) != 1 || table[0].Keywords[1] != "tips" {
		t.Fatalf("keywords should be lowered: %+v", table)
	}
	if got := r.NormalizeSupplier("fisher scientific"); got != "Fisher" {
		t.Fatalf("got %q", got)
	}
}
