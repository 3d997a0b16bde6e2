package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"grantledger/internal"
	"grantledger/internal/util"
)

//go:embed rules.yaml
var defaultRules []byte

var ErrInvalidRules = errors.New("invalid rules")

type KeywordRule struct {
	Keyword  string            `mapstructure:"keyword"`
	Category internal.Category `mapstructure:"category"`
}

// PrecedenceRule fires when any alternative in When matches; an alternative
// matches when every one of its terms occurs in the item name.
type PrecedenceRule struct {
	Category internal.Category `mapstructure:"category"`
	When     [][]string        `mapstructure:"when"`
}

type SupplierAlias struct {
	Canonical string   `mapstructure:"canonical"`
	Contains  []string `mapstructure:"contains"`
}

type SupplierList struct {
	List      string            `mapstructure:"list"`
	Category  internal.Category `mapstructure:"category"`
	Suppliers []string          `mapstructure:"suppliers"`
}

type CategoryKeywords struct {
	Name     internal.Category `mapstructure:"name"`
	Keywords []string          `mapstructure:"keywords"`
}

type document struct {
	Categories         []CategoryKeywords `mapstructure:"categories"`
	Overrides          []KeywordRule      `mapstructure:"overrides"`
	Precedence         []PrecedenceRule   `mapstructure:"precedence"`
	SupplierAliases    []SupplierAlias    `mapstructure:"supplier_aliases"`
	SupplierCategories []SupplierList     `mapstructure:"supplier_categories"`
	Specific           []KeywordRule      `mapstructure:"specific"`
}

// Rules is the validated classification catalog. It is never mutated after
// Load returns, so one value can be shared by every classifier.
type Rules struct {
	doc   document
	known map[internal.Category]struct{}
	index *supplierIndex
}

// Default returns the rules compiled into the binary.
func Default() (*Rules, error) {
	return Load("")
}

// Load reads a rules file, or the embedded defaults when path is empty.
func Load(path string) (*Rules, error) {
	v := viper.New()
	if strings.TrimSpace(path) == "" {
		v.SetConfigType("yaml")
		if err := v.ReadConfig(bytes.NewReader(defaultRules)); err != nil {
			return nil, fmt.Errorf("read embedded rules: %w", err)
		}
	} else {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read rules %s: %w", path, err)
		}
	}

	var doc document
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	return compile(doc)
}

func compile(doc document) (*Rules, error) {
	r := &Rules{known: map[internal.Category]struct{}{}}

	if len(doc.Categories) == 0 {
		return nil, fmt.Errorf("%w: no categories", ErrInvalidRules)
	}
	for i, c := range doc.Categories {
		c.Name = internal.Category(strings.TrimSpace(string(c.Name)))
		if c.Name == "" {
			return nil, fmt.Errorf("%w: category #%d has no name", ErrInvalidRules, i+1)
		}
		if _, dup := r.known[c.Name]; dup {
			return nil, fmt.Errorf("%w: category %s declared twice", ErrInvalidRules, c.Name)
		}
		if c.Name == internal.CategoryOthers && len(c.Keywords) > 0 {
			return nil, fmt.Errorf("%w: %s is the fallback and cannot have keywords", ErrInvalidRules, c.Name)
		}
		keywords, err := cleanTerms(c.Keywords, "category "+string(c.Name))
		if err != nil {
			return nil, err
		}
		c.Keywords = keywords
		r.known[c.Name] = struct{}{}
		doc.Categories[i] = c
	}
	r.known[internal.CategoryOthers] = struct{}{}

	for i, o := range doc.Overrides {
		rule, err := r.cleanKeywordRule(o, "override")
		if err != nil {
			return nil, err
		}
		doc.Overrides[i] = rule
	}
	for i, s := range doc.Specific {
		rule, err := r.cleanKeywordRule(s, "specific keyword")
		if err != nil {
			return nil, err
		}
		doc.Specific[i] = rule
	}

	for i, p := range doc.Precedence {
		if err := r.checkTarget(p.Category, "precedence rule"); err != nil {
			return nil, err
		}
		if len(p.When) == 0 {
			return nil, fmt.Errorf("%w: precedence rule #%d has no alternatives", ErrInvalidRules, i+1)
		}
		for j, alt := range p.When {
			terms, err := cleanTerms(alt, fmt.Sprintf("precedence rule #%d", i+1))
			if err != nil {
				return nil, err
			}
			if len(terms) == 0 {
				return nil, fmt.Errorf("%w: precedence rule #%d has an empty alternative", ErrInvalidRules, i+1)
			}
			p.When[j] = terms
		}
		doc.Precedence[i] = p
	}

	for i, a := range doc.SupplierAliases {
		a.Canonical = strings.TrimSpace(a.Canonical)
		if a.Canonical == "" {
			return nil, fmt.Errorf("%w: supplier alias #%d has no canonical name", ErrInvalidRules, i+1)
		}
		contains, err := cleanTerms(a.Contains, "supplier alias "+a.Canonical)
		if err != nil {
			return nil, err
		}
		a.Contains = contains
		doc.SupplierAliases[i] = a
	}

	for i, l := range doc.SupplierCategories {
		if err := r.checkTarget(l.Category, "supplier list "+l.List); err != nil {
			return nil, err
		}
		for j, s := range l.Suppliers {
			l.Suppliers[j] = strings.TrimSpace(s)
		}
		doc.SupplierCategories[i] = l
	}

	r.doc = doc
	r.index = buildSupplierIndex(doc.SupplierCategories)
	return r, nil
}

func (r *Rules) cleanKeywordRule(rule KeywordRule, what string) (KeywordRule, error) {
	if err := r.checkTarget(rule.Category, what+" "+rule.Keyword); err != nil {
		return rule, err
	}
	kw := util.LowerName(rule.Keyword)
	if kw == "" {
		return rule, fmt.Errorf("%w: %s with empty keyword", ErrInvalidRules, what)
	}
	rule.Keyword = kw
	return rule, nil
}

func (r *Rules) checkTarget(c internal.Category, what string) error {
	if c == internal.CategoryOthers {
		return fmt.Errorf("%w: %s targets %s", ErrInvalidRules, what, c)
	}
	if _, ok := r.known[c]; !ok {
		return fmt.Errorf("%w: %s targets unknown category %q", ErrInvalidRules, what, c)
	}
	return nil
}

func cleanTerms(terms []string, what string) ([]string, error) {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		term := util.LowerName(t)
		if term == "" {
			return nil, fmt.Errorf("%w: %s has an empty keyword", ErrInvalidRules, what)
		}
		out = append(out, term)
	}
	return out, nil
}

// Categories returns every label in table order, Others included.
func (r *Rules) Categories() []internal.Category {
	out := make([]internal.Category, 0, len(r.doc.Categories)+1)
	hasOthers := false
	for _, c := range r.doc.Categories {
		out = append(out, c.Name)
		hasOthers = hasOthers || c.Name == internal.CategoryOthers
	}
	if !hasOthers {
		out = append(out, internal.CategoryOthers)
	}
	return out
}

func (r *Rules) Known(c internal.Category) bool {
	_, ok := r.known[c]
	return ok
}

// CategoryTable returns a copy of the keyword table in declaration order.
func (r *Rules) CategoryTable() []CategoryKeywords {
	out := make([]CategoryKeywords, 0, len(r.doc.Categories))
	for _, c := range r.doc.Categories {
		if len(c.Keywords) == 0 {
			continue
		}
		out = append(out, CategoryKeywords{Name: c.Name, Keywords: append([]string(nil), c.Keywords...)})
	}
	return out
}

func (r *Rules) Overrides() []KeywordRule {
	return append([]KeywordRule(nil), r.doc.Overrides...)
}

func (r *Rules) Specific() []KeywordRule {
	return append([]KeywordRule(nil), r.doc.Specific...)
}

func (r *Rules) Precedence() []PrecedenceRule {
	out := make([]PrecedenceRule, 0, len(r.doc.Precedence))
	for _, p := range r.doc.Precedence {
		when := make([][]string, 0, len(p.When))
		for _, alt := range p.When {
			when = append(when, append([]string(nil), alt...))
		}
		out = append(out, PrecedenceRule{Category: p.Category, When: when})
	}
	return out
}

func (r *Rules) SupplierLists() []SupplierList {
	out := make([]SupplierList, 0, len(r.doc.SupplierCategories))
	for _, l := range r.doc.SupplierCategories {
		out = append(out, SupplierList{List: l.List, Category: l.Category, Suppliers: append([]string(nil), l.Suppliers...)})
	}
	return out
}
