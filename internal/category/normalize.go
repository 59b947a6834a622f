// Package category maps free-text category guesses from the language model
// onto the application's closed category vocabulary.
//
// Normalize is total: every input yields exactly one vocabulary value and
// anything unrecognized falls back to Other. Category assignment is a
// best-effort enrichment, so the mapping is deliberately forgiving — case
// differences, minor spelling variants, and common synonyms all resolve to
// the intended value rather than failing the pipeline.
package category

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/tbourn/go-expense-backend/internal/domain"
)

// exact maps case-folded provider strings straight to a vocabulary value.
// Includes the vocabulary itself plus common synonyms and misspellings seen
// in model output.
var exact = map[string]domain.Category{
	"housing":            domain.CategoryHousing,
	"rent":               domain.CategoryHousing,
	"mortgage":           domain.CategoryHousing,
	"home":               domain.CategoryHousing,
	"transportation":     domain.CategoryTransportation,
	"transport":          domain.CategoryTransportation,
	"travel":             domain.CategoryTransportation,
	"fuel":               domain.CategoryTransportation,
	"gas":                domain.CategoryTransportation,
	"food":               domain.CategoryFood,
	"groceries":          domain.CategoryFood,
	"grocery":            domain.CategoryFood,
	"restaurant":         domain.CategoryFood,
	"dining":             domain.CategoryFood,
	"utilities":          domain.CategoryUtilities,
	"utility":            domain.CategoryUtilities,
	"electricity":        domain.CategoryUtilities,
	"water":              domain.CategoryUtilities,
	"internet":           domain.CategoryUtilities,
	"insurance":          domain.CategoryInsurance,
	"medical/healthcare": domain.CategoryMedical,
	"medical":            domain.CategoryMedical,
	"healthcare":         domain.CategoryMedical,
	"health":             domain.CategoryMedical,
	"pharmacy":           domain.CategoryMedical,
	"savings":            domain.CategorySavings,
	"saving":             domain.CategorySavings,
	"investment":         domain.CategorySavings,
	"debt":               domain.CategoryDebt,
	"loan":               domain.CategoryDebt,
	"credit":             domain.CategoryDebt,
	"education":          domain.CategoryEducation,
	"school":             domain.CategoryEducation,
	"tuition":            domain.CategoryEducation,
	"course":             domain.CategoryEducation,
	"entertainment":      domain.CategoryEntertainment,
	"leisure":            domain.CategoryEntertainment,
	"fun":                domain.CategoryEntertainment,
	"other":              domain.CategoryOther,
	"misc":               domain.CategoryOther,
	"miscellaneous":      domain.CategoryOther,
}

// substrings catches compound guesses like "Food & Drinks" or
// "public transportation". Checked in order so the more specific stems win.
var substrings = []struct {
	needle string
	cat    domain.Category
}{
	{"hous", domain.CategoryHousing},
	{"rent", domain.CategoryHousing},
	{"transport", domain.CategoryTransportation},
	{"food", domain.CategoryFood},
	{"grocer", domain.CategoryFood},
	{"restaur", domain.CategoryFood},
	{"utilit", domain.CategoryUtilities},
	{"insur", domain.CategoryInsurance},
	{"medic", domain.CategoryMedical},
	{"health", domain.CategoryMedical},
	{"saving", domain.CategorySavings},
	{"debt", domain.CategoryDebt},
	{"educat", domain.CategoryEducation},
	{"entertain", domain.CategoryEntertainment},
}

// fold performs Unicode case folding, which is stricter than ToLower for
// non-ASCII input the model occasionally emits (e.g. "Educação").
var fold = cases.Fold()

// Normalize maps a raw provider category guess onto the closed vocabulary.
// It never fails: unmatched or empty input yields domain.CategoryOther.
func Normalize(raw string) domain.Category {
	s := fold.String(strings.TrimSpace(raw))
	if s == "" {
		return domain.CategoryOther
	}
	if c, ok := exact[s]; ok {
		return c
	}
	for _, m := range substrings {
		if strings.Contains(s, m.needle) {
			return m.cat
		}
	}
	return domain.CategoryOther
}
