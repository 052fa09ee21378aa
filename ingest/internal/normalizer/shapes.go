package normalizer

import (
	"sort"
	"strings"

	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
)

// MailEnvelopeNormalizer handles inbound-mail style payloads:
//
//	{"from": {"address": "a@x.com", "name": "Ann Lee"}, "subject": "..."}
//	{"envelope": {"from": "a@x.com"}, "headers": {...}}
type MailEnvelopeNormalizer struct{}

func (MailEnvelopeNormalizer) Name() string { return "mail-envelope" }

func (MailEnvelopeNormalizer) Supports(rec map[string]any) bool {
	if from, ok := rec["from"].(map[string]any); ok {
		return scalar(from["address"]) != "" || scalar(from["email"]) != ""
	}
	if env, ok := rec["envelope"].(map[string]any); ok {
		return scalar(env["from"]) != ""
	}
	return false
}

func (MailEnvelopeNormalizer) Normalize(rec map[string]any) (*models.Lead, error) {
	lead := &models.Lead{}
	extras := make(map[string]any)

	if from, ok := rec["from"].(map[string]any); ok {
		assign(lead, fieldEmail, scalar(from["address"]))
		assign(lead, fieldEmail, scalar(from["email"]))
		assign(lead, fieldFullName, scalar(from["name"]))
	}
	if env, ok := rec["envelope"].(map[string]any); ok {
		assign(lead, fieldEmail, scalar(env["from"]))
	}
	for _, k := range sortedKeys(rec) {
		if k == "from" || k == "envelope" {
			continue
		}
		if f, ok := lookupAlias(k); ok && assign(lead, f, scalar(rec[k])) {
			continue
		}
		extras[k] = rec[k]
	}
	lead.RawExtras = extras
	return lead, nil
}

// CloudMailerNormalizer handles ESP event callbacks:
//
//	{"event": "lead.replied", "data": {"lead": {...}}}
//	{"event": "contact.created", "data": {"contact": {...}}}
type CloudMailerNormalizer struct{}

func (CloudMailerNormalizer) Name() string { return "cloud-mailer" }

func (CloudMailerNormalizer) Supports(rec map[string]any) bool {
	if scalar(rec["event"]) == "" {
		return false
	}
	return cloudMailerSubject(rec) != nil
}

func cloudMailerSubject(rec map[string]any) map[string]any {
	data, ok := rec["data"].(map[string]any)
	if !ok {
		return nil
	}
	if lead, ok := data["lead"].(map[string]any); ok {
		return lead
	}
	if contact, ok := data["contact"].(map[string]any); ok {
		return contact
	}
	return nil
}

func (CloudMailerNormalizer) Normalize(rec map[string]any) (*models.Lead, error) {
	lead := &models.Lead{}
	subject := cloudMailerSubject(rec)
	extras := extractFlat(lead, subject)

	// Company details are often nested one level down.
	if company, ok := subject["company"].(map[string]any); ok {
		delete(extras, "company")
		for _, k := range sortedKeys(company) {
			f, ok := lookupAlias(k)
			if !ok {
				extras["company."+k] = company[k]
				continue
			}
			if f == fieldFullName {
				f = fieldCompanyName
			}
			if !assign(lead, f, scalar(company[k])) {
				extras["company."+k] = company[k]
			}
		}
	}

	extras["event"] = rec["event"]
	for _, k := range sortedKeys(rec) {
		if k != "event" && k != "data" {
			extras[k] = rec[k]
		}
	}
	lead.RawExtras = extras
	return lead, nil
}

// FlatNormalizer handles records whose identity keys sit at the top level:
//
//	{"email": "a@x.com", "industry": "solar", "state": "CA"}
type FlatNormalizer struct{}

func (FlatNormalizer) Name() string { return "flat" }

func (FlatNormalizer) Supports(rec map[string]any) bool {
	for k, v := range rec {
		if f, ok := lookupAlias(k); ok && identityFields[f] && scalar(v) != "" {
			return true
		}
	}
	return false
}

func (FlatNormalizer) Normalize(rec map[string]any) (*models.Lead, error) {
	lead := &models.Lead{}
	lead.RawExtras = extractFlat(lead, rec)
	return lead, nil
}

// GenericNormalizer is the fallback: it flattens nested objects and picks
// aliases from anywhere, shallowest path first.
type GenericNormalizer struct{}

func (GenericNormalizer) Name() string { return "generic" }

func (GenericNormalizer) Supports(rec map[string]any) bool {
	flat := make(map[string]any)
	flatten("", rec, flat)
	for path, v := range flat {
		if _, ok := lookupAlias(leafKey(path)); ok && scalar(v) != "" {
			return true
		}
	}
	return false
}

func (GenericNormalizer) Normalize(rec map[string]any) (*models.Lead, error) {
	flat := make(map[string]any)
	flatten("", rec, flat)

	paths := make([]string, 0, len(flat))
	for p := range flat {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		di, dj := strings.Count(paths[i], "."), strings.Count(paths[j], ".")
		if di != dj {
			return di < dj
		}
		return paths[i] < paths[j]
	})

	lead := &models.Lead{}
	extras := make(map[string]any)
	for _, p := range paths {
		f, ok := lookupAlias(leafKey(p))
		if ok && f == fieldFullName && strings.Contains(strings.ToLower(p), "company") {
			f = fieldCompanyName
		}
		if ok && assign(lead, f, scalar(flat[p])) {
			continue
		}
		extras[p] = flat[p]
	}
	lead.RawExtras = extras
	return lead, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
