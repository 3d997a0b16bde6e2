package pipeline

import (
	"strings"

	"grantledger/internal"
	"grantledger/internal/catalog"
	"grantledger/internal/util"
)

type Stage string

const (
	StageOverride   Stage = "override"
	StagePrecedence Stage = "precedence"
	StageSupplier   Stage = "supplier"
	StageKeyword    Stage = "keyword"
	StageSpecific   Stage = "specific"
	StageDefault    Stage = "default"
)

// Classification is the outcome of one classifier run together with the
// rule that produced it.
type Classification struct {
	Category internal.Category
	Stage    Stage
	Rule     string
	Supplier string
}

type subject struct {
	name     string
	supplier string
}

type rule struct {
	stage    Stage
	category internal.Category
	label    string
	match    func(subject) bool
}

// Classifier assigns exactly one category to an item. The catalog is
// flattened into a single ranked rule list at construction; the first rule
// that matches wins and Others is returned when none does.
type Classifier struct {
	rules  *catalog.Rules
	ranked []rule
}

func NewClassifier(rules *catalog.Rules) *Classifier {
	c := &Classifier{rules: rules}

	for _, o := range rules.Overrides() {
		c.ranked = append(c.ranked, containsRule(StageOverride, o.Category, o.Keyword))
	}

	for _, p := range rules.Precedence() {
		alternatives := p.When
		labels := make([]string, 0, len(alternatives))
		for _, alt := range alternatives {
			labels = append(labels, strings.Join(alt, "+"))
		}
		c.ranked = append(c.ranked, rule{
			stage:    StagePrecedence,
			category: p.Category,
			label:    strings.Join(labels, " | "),
			match: func(s subject) bool {
				for _, alt := range alternatives {
					if containsAll(s.name, alt) {
						return true
					}
				}
				return false
			},
		})
	}

	for _, l := range rules.SupplierLists() {
		list := l.List
		c.ranked = append(c.ranked, rule{
			stage:    StageSupplier,
			category: l.Category,
			label:    list,
			match: func(s subject) bool {
				_, owner, ok := rules.SupplierCategory(s.supplier)
				return ok && owner == list
			},
		})
	}

	for _, cat := range rules.CategoryTable() {
		for _, kw := range cat.Keywords {
			c.ranked = append(c.ranked, containsRule(StageKeyword, cat.Name, kw))
		}
	}

	for _, s := range rules.Specific() {
		c.ranked = append(c.ranked, containsRule(StageSpecific, s.Category, s.Keyword))
	}

	return c
}

func containsRule(stage Stage, category internal.Category, keyword string) rule {
	return rule{
		stage:    stage,
		category: category,
		label:    keyword,
		match:    func(s subject) bool { return s.name != "" && strings.Contains(s.name, keyword) },
	}
}

func containsAll(name string, terms []string) bool {
	if name == "" {
		return false
	}
	for _, t := range terms {
		if !strings.Contains(name, t) {
			return false
		}
	}
	return true
}

func (c *Classifier) Classify(name, supplier string) internal.Category {
	return c.Explain(name, supplier).Category
}

func (c *Classifier) Explain(name, supplier string) Classification {
	s := subject{
		name:     util.LowerName(name),
		supplier: c.rules.NormalizeSupplier(supplier),
	}
	for _, r := range c.ranked {
		if r.match(s) {
			return Classification{Category: r.category, Stage: r.stage, Rule: r.label, Supplier: s.supplier}
		}
	}
	return Classification{Category: internal.CategoryOthers, Stage: StageDefault, Supplier: s.supplier}
}

func (c *Classifier) NormalizeSupplier(raw string) string {
	return c.rules.NormalizeSupplier(raw)
}

func (c *Classifier) Rules() *catalog.Rules {
	return c.rules
}
