// Package validator checks untrusted request bodies against JSON Schemas
// and reports field-level errors.
package validator

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"

	"github.com/adamwolfe2/leadme-sub019/common/httputil"
)

// Schema names.
const (
	ManualLeads   = "manual_leads"
	Targeting     = "targeting"
	Import        = "import"
	Commission    = "commission"
	Correction    = "correction"
	TenantMapping = "tenant_mapping"
	Partner       = "partner"
)

const baseURL = "https://schemas.leadme.dev/"

var ErrMalformed = errors.New("malformed JSON body")

//go:embed schemas/*.json
var schemaFS embed.FS

type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// New compiles every embedded schema.
func New() (*Validator, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}

	c := jsonschema.NewCompiler()
	var names []string
	for _, e := range entries {
		data, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, err
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", e.Name(), err)
		}
		if err := c.AddResource(baseURL+e.Name(), doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", e.Name(), err)
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}

	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(names))}
	for _, name := range names {
		sch, err := c.Compile(baseURL + name + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[name] = sch
	}
	return v, nil
}

// MustNew is New for package initialization; the schemas are embedded so a
// failure is a programming error.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks body against the named schema. A body that is not JSON
// returns ErrMalformed; a schema violation returns the offending fields.
func (v *Validator) Validate(name string, body []byte) ([]httputil.FieldError, error) {
	sch, ok := v.schemas[name]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", name)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	err = sch.Validate(inst)
	if err == nil {
		return nil, nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, err
	}

	var out []httputil.FieldError
	collect(ve, &out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return dedupe(out), nil
}

func collect(ve *jsonschema.ValidationError, out *[]httputil.FieldError) {
	if len(ve.Causes) > 0 {
		for _, c := range ve.Causes {
			collect(c, out)
		}
		return
	}

	field := fieldName(ve.InstanceLocation)
	switch k := ve.ErrorKind.(type) {
	case *kind.Required:
		for _, missing := range k.Missing {
			*out = append(*out, httputil.FieldError{Field: join(field, missing), Message: "is required"})
		}
	case *kind.AdditionalProperties:
		for _, extra := range k.Properties {
			*out = append(*out, httputil.FieldError{Field: join(field, extra), Message: "is not allowed"})
		}
	default:
		*out = append(*out, httputil.FieldError{Field: orBody(field), Message: message(ve.ErrorKind)})
	}
}

func message(k jsonschema.ErrorKind) string {
	switch k.(type) {
	case *kind.Type:
		return "has the wrong type"
	case *kind.MaxItems:
		return "has too many items"
	case *kind.MinItems:
		return "has too few items"
	case *kind.MaxLength:
		return "is too long"
	case *kind.MinLength:
		return "is too short"
	case *kind.Maximum:
		return "is too large"
	case *kind.Minimum:
		return "is too small"
	case *kind.Enum:
		return "is not an allowed value"
	case *kind.Pattern:
		return "has an invalid format"
	case *kind.MinProperties:
		return "must not be empty"
	}
	return "is invalid"
}

// fieldName renders an instance location like ["leads","2","email"] as
// "leads[2].email".
func fieldName(loc []string) string {
	var sb strings.Builder
	for _, part := range loc {
		if isIndex(part) {
			sb.WriteString("[" + part + "]")
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(part)
	}
	return sb.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func join(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "." + child
}

func orBody(field string) string {
	if field == "" {
		return "body"
	}
	return field
}

func dedupe(in []httputil.FieldError) []httputil.FieldError {
	seen := make(map[httputil.FieldError]bool, len(in))
	out := in[:0]
	for _, fe := range in {
		if seen[fe] {
			continue
		}
		seen[fe] = true
		out = append(out, fe)
	}
	return out
}

// CheckCapOrder enforces daily <= weekly <= monthly among the caps that
// are set.
func CheckCapOrder(daily, weekly, monthly *int) []httputil.FieldError {
	var errs []httputil.FieldError
	if daily != nil && weekly != nil && *daily > *weekly {
		errs = append(errs, httputil.FieldError{Field: "dailyCap", Message: "must not exceed weeklyCap"})
	}
	if weekly != nil && monthly != nil && *weekly > *monthly {
		errs = append(errs, httputil.FieldError{Field: "weeklyCap", Message: "must not exceed monthlyCap"})
	}
	if daily != nil && monthly != nil && *daily > *monthly {
		errs = append(errs, httputil.FieldError{Field: "dailyCap", Message: "must not exceed monthlyCap"})
	}
	return errs
}
