// Package pagination reads page/per_page query parameters.
package pagination

import (
	"net/http"
	"strconv"
)

// Page size bounds.
const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Params selects one page of a list. The zero value is normalized to the
// first page of DefaultPerPage items.
type Params struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// Normalize returns p with Page at least 1 and PerPage within
// [1, MaxPerPage]; an unset PerPage becomes DefaultPerPage.
func (p Params) Normalize() Params {
	if p.Page < 1 {
		p.Page = 1
	}
	switch {
	case p.PerPage < 1:
		p.PerPage = DefaultPerPage
	case p.PerPage > MaxPerPage:
		p.PerPage = MaxPerPage
	}
	return p
}

// Offset is the number of items before the page.
func (p Params) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.PerPage
}

// Limit is the page size.
func (p Params) Limit() int {
	return p.Normalize().PerPage
}

// FromRequest reads page and per_page from the query string. Values that do
// not parse are ignored; out of range values are clamped.
func FromRequest(r *http.Request) Params {
	q := r.URL.Query()
	return Params{
		Page:    atoiOrZero(q.Get("page")),
		PerPage: atoiOrZero(q.Get("per_page")),
	}.Normalize()
}

func atoiOrZero(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
