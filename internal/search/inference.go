package search

import (
	"strings"

	"github.com/shubhsaxena/discovery-engine/internal/models"
)

// categoryHints maps common query keywords to canonical category names.
// Checked before the generic substring match, which only fires when no
// hint applies.
var categoryHints = map[string]string{
	"phone":        "smartphones",
	"phones":       "smartphones",
	"smartphone":   "smartphones",
	"iphone":       "smartphones",
	"mobile":       "smartphones",
	"laptop":       "laptops",
	"laptops":      "laptops",
	"notebook":     "laptops",
	"macbook":      "laptops",
	"tv":           "televisions",
	"television":   "televisions",
	"headphone":    "audio",
	"headphones":   "audio",
	"earbuds":      "audio",
	"earphones":    "audio",
	"speaker":      "audio",
	"shoe":         "footwear",
	"shoes":        "footwear",
	"sneakers":     "footwear",
	"sandals":      "footwear",
	"watch":        "wearables",
	"smartwatch":   "wearables",
	"shirt":        "clothing",
	"tshirt":       "clothing",
	"jeans":        "clothing",
	"jacket":       "clothing",
	"dress":        "clothing",
	"fridge":       "appliances",
	"refrigerator": "appliances",
	"washing":      "appliances",
	"microwave":    "appliances",
	"sofa":         "furniture",
	"table":        "furniture",
	"chair":        "furniture",
	"bed":          "furniture",
	"book":         "books",
	"books":        "books",
	"toy":          "toys",
	"toys":         "toys",
}

// InferCategory guesses which catalog category a zero-result query was
// aiming at. Hint-table lookups run first; failing that, a category whose
// name shares a substring with any keyword wins. Returns nil when nothing
// plausibly matches.
func InferCategory(keywords []string, categories []models.Category) *models.Category {
	if len(keywords) == 0 || len(categories) == 0 {
		return nil
	}

	byName := make(map[string]*models.Category, len(categories))
	for i := range categories {
		byName[strings.ToLower(categories[i].Name)] = &categories[i]
	}

	for _, kw := range keywords {
		if hinted, ok := categoryHints[kw]; ok {
			if cat, found := byName[hinted]; found {
				return cat
			}
		}
	}

	for _, kw := range keywords {
		for i := range categories {
			name := strings.ToLower(categories[i].Name)
			if strings.Contains(name, kw) || strings.Contains(kw, name) {
				return &categories[i]
			}
		}
	}

	return nil
}
