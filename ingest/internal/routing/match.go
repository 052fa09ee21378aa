package routing

import (
	"strings"

	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/normalizer"
)

// Matches reports whether lead satisfies the industry and geography
// criteria of rule. Caps and activity are checked elsewhere.
func Matches(rule *models.TargetingRule, lead *models.Lead) bool {
	return matchIndustry(rule.Industries, lead.CompanyIndustry) && matchGeography(rule, lead)
}

func matchIndustry(industries []string, industry string) bool {
	if len(industries) == 0 {
		return true
	}
	slug := normalizer.SlugIndustry(industry)
	if slug == "" {
		return false
	}
	for _, ind := range industries {
		if normalizer.SlugIndustry(ind) == slug {
			return true
		}
	}
	return false
}

// matchGeography applies the finest level the rule specifies: postal codes,
// then cities (constrained by states when both are set), then states.
func matchGeography(rule *models.TargetingRule, lead *models.Lead) bool {
	switch {
	case len(rule.PostalCodes) > 0:
		return containsFunc(rule.PostalCodes, lead.PostalCode, normalizer.NormalizePostalCode)
	case len(rule.Cities) > 0:
		if !containsFunc(rule.Cities, lead.City, normalizeCity) {
			return false
		}
		return len(rule.States) == 0 || containsFunc(rule.States, lead.State, normalizer.NormalizeState)
	case len(rule.States) > 0:
		return containsFunc(rule.States, lead.State, normalizer.NormalizeState)
	}
	return true
}

func normalizeCity(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func containsFunc(set []string, v string, norm func(string) string) bool {
	v = norm(v)
	if v == "" {
		return false
	}
	for _, s := range set {
		if norm(s) == v {
			return true
		}
	}
	return false
}
