package pipeline

import (
	"strings"
	"unicode"

	"github.com/ppiankov/newsdigest/internal/model"
)

// fallbackKeywords backs categorization when the model left a story in Other
var fallbackKeywords = map[model.Category][]string{
	model.CategoryAI:            {"ai", "artificial intelligence", "machine learning", "llm", "chatbot"},
	model.CategoryEconomy:       {"economy", "economic", "gdp", "inflation", "market", "financial"},
	model.CategoryStocks:        {"stock", "shares", "trading", "equity", "nasdaq", "sp500", "dow"},
	model.CategoryPrivateEquity: {"private equity", "pe", "buyout", "acquisition"},
	model.CategoryPolitics:      {"politics", "political", "government", "election", "policy", "congress"},
	model.CategoryTechnology:    {"technology", "tech", "software", "hardware", "startup"},
}

// Categorizer arranges clusters into digest sections
type Categorizer struct {
	MaxPerCategory  int  // 0 means unlimited
	CrossList       bool // Also list a story under its secondary categories
	KeywordFallback bool // Re-home Other stories by keyword
}

// Categorize returns non-empty sections in presentation order. Stories keep
// their cluster order within a section.
func (c Categorizer) Categorize(clusters []model.StoryCluster) []model.CategorySection {
	byCategory := make(map[model.Category][]model.StoryCluster)
	for _, cluster := range clusters {
		cat := categoryOrOther(cluster.Category)
		if cat == model.CategoryOther && c.KeywordFallback {
			rep := cluster.Representative
			if kw, ok := KeywordCategory(rep.Title + " " + rep.Summary); ok {
				cat = kw
				cluster.Category = kw
			}
		}
		byCategory[cat] = append(byCategory[cat], cluster)

		if !c.CrossList {
			continue
		}
		for _, sec := range cluster.Representative.SecondaryCategories {
			if sec != cat {
				byCategory[sec] = append(byCategory[sec], cluster)
			}
		}
	}

	var sections []model.CategorySection
	for _, cat := range model.Categories {
		stories := byCategory[cat]
		if len(stories) == 0 {
			continue
		}
		section := model.CategorySection{Category: cat, Stories: stories}
		if c.MaxPerCategory > 0 && len(stories) > c.MaxPerCategory {
			section.Stories = stories[:c.MaxPerCategory]
			section.Overflow = len(stories) - c.MaxPerCategory
		}
		sections = append(sections, section)
	}
	return sections
}

// KeywordCategory finds the first category, in presentation order, whose
// keywords appear in text. Single words match whole tokens only.
func KeywordCategory(text string) (model.Category, bool) {
	lower := strings.ToLower(text)
	tokens := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		tokens[tok] = true
	}

	for _, cat := range model.Categories {
		for _, kw := range fallbackKeywords[cat] {
			if strings.Contains(kw, " ") {
				if strings.Contains(lower, kw) {
					return cat, true
				}
			} else if tokens[kw] {
				return cat, true
			}
		}
	}
	return model.CategoryOther, false
}
