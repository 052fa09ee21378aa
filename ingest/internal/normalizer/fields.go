package normalizer

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
)

type field int

const (
	fieldEmail field = iota
	fieldFirstName
	fieldLastName
	fieldFullName
	fieldPhone
	fieldLinkedIn
	fieldCompanyName
	fieldWebsite
	fieldIndustry
	fieldCompanySize
	fieldCity
	fieldState
	fieldPostalCode
	fieldCountry
)

// aliases are matched against keys folded by foldKey.
var aliases = map[string]field{
	"email":            fieldEmail,
	"emailaddress":     fieldEmail,
	"workemail":        fieldEmail,
	"businessemail":    fieldEmail,
	"personalemail":    fieldEmail,
	"contactemail":     fieldEmail,
	"firstname":        fieldFirstName,
	"givenname":        fieldFirstName,
	"fname":            fieldFirstName,
	"lastname":         fieldLastName,
	"surname":          fieldLastName,
	"familyname":       fieldLastName,
	"lname":            fieldLastName,
	"name":             fieldFullName,
	"fullname":         fieldFullName,
	"contactname":      fieldFullName,
	"phone":            fieldPhone,
	"phonenumber":      fieldPhone,
	"mobile":           fieldPhone,
	"mobilephone":      fieldPhone,
	"directphone":      fieldPhone,
	"workphone":        fieldPhone,
	"linkedin":         fieldLinkedIn,
	"linkedinurl":      fieldLinkedIn,
	"linkedinprofile":  fieldLinkedIn,
	"company":          fieldCompanyName,
	"companyname":      fieldCompanyName,
	"organization":     fieldCompanyName,
	"organisation":     fieldCompanyName,
	"employer":         fieldCompanyName,
	"domain":           fieldWebsite,
	"companydomain":    fieldWebsite,
	"website":          fieldWebsite,
	"companywebsite":   fieldWebsite,
	"url":              fieldWebsite,
	"industry":         fieldIndustry,
	"companyindustry":  fieldIndustry,
	"industrycode":     fieldIndustry,
	"companysize":      fieldCompanySize,
	"employees":        fieldCompanySize,
	"employeecount":    fieldCompanySize,
	"headcount":        fieldCompanySize,
	"city":             fieldCity,
	"companycity":      fieldCity,
	"personalcity":     fieldCity,
	"state":            fieldState,
	"statecode":        fieldState,
	"region":           fieldState,
	"province":         fieldState,
	"companystate":     fieldState,
	"personalstate":    fieldState,
	"zip":              fieldPostalCode,
	"zipcode":          fieldPostalCode,
	"postalcode":       fieldPostalCode,
	"postcode":         fieldPostalCode,
	"companyzip":       fieldPostalCode,
	"country":          fieldCountry,
	"countrycode":      fieldCountry,
	"companycountry":   fieldCountry,
	"personalcountry":  fieldCountry,
	"companyemployees": fieldCompanySize,
}

// identityFields make a flat record recognizable on their own.
var identityFields = map[field]bool{
	fieldEmail:     true,
	fieldPhone:     true,
	fieldWebsite:   true,
	fieldFirstName: true,
	fieldLastName:  true,
	fieldFullName:  true,
	fieldLinkedIn:  true,
}

// foldKey lower-cases k and drops everything but letters and digits,
// so first_name, firstName and First-Name compare equal.
func foldKey(k string) string {
	var b strings.Builder
	b.Grow(len(k))
	for _, r := range strings.ToLower(k) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func lookupAlias(key string) (field, bool) {
	f, ok := aliases[foldKey(key)]
	return f, ok
}

// scalar renders a JSON scalar as a trimmed string. Objects, arrays,
// booleans and nulls yield "".
func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

// assign stores value into the lead field f unless already set.
func assign(lead *models.Lead, f field, value string) bool {
	if value == "" {
		return false
	}
	var dst *string
	switch f {
	case fieldEmail:
		dst = &lead.Email
	case fieldFirstName:
		dst = &lead.FirstName
	case fieldLastName:
		dst = &lead.LastName
	case fieldFullName:
		dst = &lead.FullName
	case fieldPhone:
		dst = &lead.Phone
	case fieldLinkedIn:
		dst = &lead.LinkedInURL
	case fieldCompanyName:
		dst = &lead.CompanyName
	case fieldWebsite:
		dst = &lead.CompanyDomain
	case fieldIndustry:
		dst = &lead.CompanyIndustry
	case fieldCompanySize:
		dst = &lead.CompanySize
	case fieldCity:
		dst = &lead.City
	case fieldState:
		dst = &lead.State
	case fieldPostalCode:
		dst = &lead.PostalCode
	case fieldCountry:
		dst = &lead.Country
	default:
		return false
	}
	if *dst != "" {
		return false
	}
	*dst = value
	return true
}

// extractFlat maps the top-level scalar keys of rec onto lead and returns
// the keys it did not consume.
func extractFlat(lead *models.Lead, rec map[string]any) map[string]any {
	extras := make(map[string]any)
	for _, k := range sortedKeys(rec) {
		v := rec[k]
		if f, ok := lookupAlias(k); ok && assign(lead, f, scalar(v)) {
			continue
		}
		extras[k] = v
	}
	return extras
}

// flatten walks nested objects producing dotted paths to scalar leaves.
// Arrays are indexed so nothing is lost for audit.
func flatten(prefix string, v any, out map[string]any) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			p := k
			if prefix != "" {
				p = prefix + "." + k
			}
			flatten(p, child, out)
		}
	case []any:
		for i, child := range t {
			flatten(prefix+"."+strconv.Itoa(i), child, out)
		}
	default:
		out[prefix] = v
	}
}

// leafKey is the last segment of a dotted path that is not an array index.
func leafKey(path string) string {
	parts := strings.Split(path, ".")
	for i := len(parts) - 1; i >= 0; i-- {
		if _, err := strconv.Atoi(parts[i]); err != nil {
			return parts[i]
		}
	}
	return path
}
