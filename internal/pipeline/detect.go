package pipeline

import (
	"regexp"
	"strings"
)

type DetectResult struct {
	IsInventory bool
	Score       float64
	Reason      string
}

var detectKeywords = []string{"invoice", "order", "quote", "quotation", "receipt", "packing slip", "po #", "purchase", "shipment", "inventory"}

var rePrice = regexp.MustCompile(`\$\s?\d[\d,]*(?:\.\d{2})?|\b\d[\d,]*\.\d{2}\b`)

// DetectInventoryMail scores a message on how likely it is to carry
// purchasable line items with prices.
func DetectInventoryMail(subject, text, html string, attachmentNames []string) DetectResult {
	subject = strings.ToLower(subject)
	text = strings.ToLower(text)
	html = strings.ToLower(html)

	score := 0.0
	for _, kw := range detectKeywords {
		if strings.Contains(subject, kw) {
			score += 0.2
		}
		if strings.Contains(text, kw) || strings.Contains(html, kw) {
			score += 0.1
		}
	}

	priceHits := len(rePrice.FindAllStringIndex(text, -1))
	if priceHits >= 2 {
		score += 0.4
	} else if priceHits == 1 {
		score += 0.2
	}

	for _, name := range attachmentNames {
		ln := strings.ToLower(name)
		if strings.HasSuffix(ln, ".xlsx") || strings.HasSuffix(ln, ".csv") || strings.HasSuffix(ln, ".pdf") {
			score += 0.25
			break
		}
	}

	if strings.Contains(html, "<table") {
		score += 0.25
	}
	if score > 1 {
		score = 1
	}

	isInventory := score >= 0.45
	reason := "rules_negative"
	if isInventory {
		reason = "rules_positive"
	}

	return DetectResult{IsInventory: isInventory, Score: score, Reason: reason}
}
