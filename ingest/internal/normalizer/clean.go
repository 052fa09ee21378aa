package normalizer

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"unicode"

	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
)

// Clean canonicalizes every field of lead in place. Only an email that is
// present but syntactically invalid is an error; other unusable values are
// dropped.
func Clean(lead *models.Lead) error {
	if lead.Email != "" {
		email, err := CleanEmail(lead.Email)
		if err != nil {
			return err
		}
		lead.Email = email
	}

	lead.FirstName = collapseSpaces(lead.FirstName)
	lead.LastName = collapseSpaces(lead.LastName)
	lead.FullName = collapseSpaces(lead.FullName)
	switch {
	case lead.FullName == "" && (lead.FirstName != "" || lead.LastName != ""):
		lead.FullName = strings.TrimSpace(lead.FirstName + " " + lead.LastName)
	case lead.FullName != "" && lead.FirstName == "" && lead.LastName == "":
		first, last, _ := strings.Cut(lead.FullName, " ")
		lead.FirstName, lead.LastName = first, strings.TrimSpace(last)
	}

	lead.Phone = CleanPhone(lead.Phone)
	lead.LinkedInURL = CanonicalLinkedIn(lead.LinkedInURL)
	lead.CompanyName = collapseSpaces(lead.CompanyName)
	lead.CompanyDomain = DomainFromWebsite(lead.CompanyDomain)
	if lead.CompanyDomain == "" {
		lead.CompanyDomain = DomainFromEmail(lead.Email)
	}
	lead.CompanyIndustry = SlugIndustry(lead.CompanyIndustry)
	lead.CompanySize = collapseSpaces(lead.CompanySize)
	lead.City = collapseSpaces(lead.City)
	lead.State = NormalizeState(lead.State)
	lead.PostalCode = NormalizePostalCode(lead.PostalCode)
	lead.Country = NormalizeCountry(lead.Country)
	return nil
}

// CleanEmail lower-cases and syntax-checks an address. Display names,
// mailto: prefixes and angle brackets are stripped.
func CleanEmail(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "mailto:"), "MAILTO:")
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}
	email := strings.ToLower(addr.Address)
	_, domain, ok := strings.Cut(email, "@")
	if !ok || !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", fmt.Errorf("%w: domain %q", ErrInvalidEmail, domain)
	}
	return email, nil
}

// CleanPhone keeps digits and a leading plus. Ten-digit numbers are assumed
// North American and get +1. Fewer than seven digits is not a phone number.
func CleanPhone(raw string) string {
	raw = strings.TrimSpace(raw)
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	switch {
	case len(d) < 7 || len(d) > 15:
		return ""
	case len(d) == 10 && !strings.HasPrefix(raw, "+"):
		return "+1" + d
	case len(d) == 11 && strings.HasPrefix(d, "1"):
		return "+" + d
	case strings.HasPrefix(raw, "+"):
		return "+" + d
	}
	return d
}

// CanonicalLinkedIn rewrites profile references to https://www.linkedin.com/in/<slug>.
// Company pages keep their /company/ path. Anything else is dropped.
func CanonicalLinkedIn(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "/") && !strings.Contains(s, ".") {
		return "https://www.linkedin.com/in/" + strings.ToLower(s)
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || !strings.HasSuffix(strings.ToLower(u.Hostname()), "linkedin.com") {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[1] == "" {
		return ""
	}
	switch kind := strings.ToLower(parts[0]); kind {
	case "in", "company":
		return "https://www.linkedin.com/" + kind + "/" + strings.ToLower(parts[1])
	}
	return ""
}

// DomainFromWebsite reduces a URL or bare host to its lower-case domain.
func DomainFromWebsite(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if strings.Contains(s, "@") {
		return DomainFromEmail(s)
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	if !strings.Contains(host, ".") || strings.ContainsAny(host, " _") {
		return ""
	}
	return host
}

var freeMailDomains = map[string]bool{
	"gmail.com": true, "googlemail.com": true, "yahoo.com": true, "hotmail.com": true,
	"outlook.com": true, "live.com": true, "msn.com": true, "aol.com": true,
	"icloud.com": true, "me.com": true, "mac.com": true, "protonmail.com": true,
	"proton.me": true, "gmx.com": true, "mail.com": true, "yandex.com": true,
	"zoho.com": true, "comcast.net": true, "att.net": true, "verizon.net": true,
}

// DomainFromEmail returns the company domain of a work address, or "" for
// free-mail providers.
func DomainFromEmail(email string) string {
	_, domain, ok := strings.Cut(strings.ToLower(strings.TrimSpace(email)), "@")
	if !ok || domain == "" || freeMailDomains[domain] || !strings.Contains(domain, ".") {
		return ""
	}
	return domain
}

var stateCodes = map[string]string{
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR", "california": "CA",
	"colorado": "CO", "connecticut": "CT", "delaware": "DE", "district of columbia": "DC",
	"florida": "FL", "georgia": "GA", "hawaii": "HI", "idaho": "ID", "illinois": "IL",
	"indiana": "IN", "iowa": "IA", "kansas": "KS", "kentucky": "KY", "louisiana": "LA",
	"maine": "ME", "maryland": "MD", "massachusetts": "MA", "michigan": "MI", "minnesota": "MN",
	"mississippi": "MS", "missouri": "MO", "montana": "MT", "nebraska": "NE", "nevada": "NV",
	"new hampshire": "NH", "new jersey": "NJ", "new mexico": "NM", "new york": "NY",
	"north carolina": "NC", "north dakota": "ND", "ohio": "OH", "oklahoma": "OK", "oregon": "OR",
	"pennsylvania": "PA", "rhode island": "RI", "south carolina": "SC", "south dakota": "SD",
	"tennessee": "TN", "texas": "TX", "utah": "UT", "vermont": "VT", "virginia": "VA",
	"washington": "WA", "west virginia": "WV", "wisconsin": "WI", "wyoming": "WY",
	"puerto rico": "PR",
}

// NormalizeState upper-cases region codes and maps US state names to codes.
func NormalizeState(raw string) string {
	s := collapseSpaces(raw)
	if s == "" {
		return ""
	}
	if code, ok := stateCodes[strings.ToLower(s)]; ok {
		return code
	}
	if len(s) <= 3 {
		return strings.ToUpper(s)
	}
	return s
}

// NormalizePostalCode trims and upper-cases; US ZIP+4 is cut to five digits.
func NormalizePostalCode(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if len(s) == 10 && s[5] == '-' && isDigits(s[:5]) && isDigits(s[6:]) {
		return s[:5]
	}
	return s
}

// NormalizeCountry maps common spellings of the United States to US and
// upper-cases two-letter codes.
func NormalizeCountry(raw string) string {
	s := collapseSpaces(raw)
	switch strings.ToLower(strings.ReplaceAll(s, ".", "")) {
	case "":
		return ""
	case "us", "usa", "united states", "united states of america":
		return "US"
	}
	if len(s) == 2 {
		return strings.ToUpper(s)
	}
	return s
}

// SlugIndustry lower-cases and joins words with hyphens: "Real Estate" -> "real-estate".
func SlugIndustry(raw string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
