// Package seeder generates fake leads for exercising the ingest service.
package seeder

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/brianvoe/gofakeit/v6"
)

// Columns is the CSV header written by WriteCSV.
var Columns = []string{
	"first_name", "last_name", "email", "phone",
	"company", "website", "industry", "company_size",
	"city", "state", "zip", "country",
}

var defaultIndustries = []string{
	"Solar", "Roofing", "Real Estate", "Insurance", "HVAC", "Mortgage", "Home Security",
}

type Options struct {
	Count int
	// Seed makes output reproducible. Zero picks a random seed.
	Seed       int64
	Industries []string
	States     []string
	// MalformedRate is the fraction of rows emitted with a missing column.
	MalformedRate float64
}

// Summary reports what WriteCSV produced.
type Summary struct {
	Rows      int `json:"rows"`
	Malformed int `json:"malformed"`
}

type Generator struct {
	faker *gofakeit.Faker
	opts  Options
}

func New(opts Options) *Generator {
	if len(opts.Industries) == 0 {
		opts.Industries = defaultIndustries
	}
	return &Generator{faker: gofakeit.New(opts.Seed), opts: opts}
}

// Lead returns one fake lead keyed by Columns.
func (g *Generator) Lead() map[string]string {
	f := g.faker
	first, last := f.FirstName(), f.LastName()
	company := f.Company()
	state := f.StateAbr()
	if len(g.opts.States) > 0 {
		state = f.RandomString(g.opts.States)
	}
	return map[string]string{
		"first_name":   first,
		"last_name":    last,
		"email":        fmt.Sprintf("%s.%s@%s", first, last, f.DomainName()),
		"phone":        f.Phone(),
		"company":      company,
		"website":      "https://" + f.DomainName(),
		"industry":     f.RandomString(g.opts.Industries),
		"company_size": strconv.Itoa(f.Number(1, 5000)),
		"city":         f.City(),
		"state":        state,
		"zip":          f.Zip(),
		"country":      "US",
	}
}

// Leads returns n fake leads as generic records, ready to be posted as a
// webhook payload.
func (g *Generator) Leads(n int) []map[string]any {
	out := make([]map[string]any, 0, n)
	for range n {
		rec := make(map[string]any, len(Columns))
		for k, v := range g.Lead() {
			rec[k] = v
		}
		out = append(out, rec)
	}
	return out
}

// WriteCSV writes a header row and Options.Count leads. Malformed rows drop
// their last column so the importer rejects them individually.
func (g *Generator) WriteCSV(w io.Writer) (Summary, error) {
	var sum Summary
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return sum, err
	}
	for range g.opts.Count {
		lead := g.Lead()
		record := make([]string, len(Columns))
		for i, col := range Columns {
			record[i] = lead[col]
		}
		if g.opts.MalformedRate > 0 && g.faker.Float64() < g.opts.MalformedRate {
			record = record[:len(record)-1]
			sum.Malformed++
		}
		if err := cw.Write(record); err != nil {
			return sum, err
		}
		sum.Rows++
	}
	cw.Flush()
	return sum, cw.Error()
}

// WriteJSON writes Options.Count leads as a JSON array.
func (g *Generator) WriteJSON(w io.Writer) (Summary, error) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(g.Leads(g.opts.Count)); err != nil {
		return Summary{}, err
	}
	return Summary{Rows: g.opts.Count}, nil
}
