// Package filter implements visitor list querying: filtering, ordering,
// pagination, and summary statistics.
package filter

import (
	"sort"
	"strings"

	"github.com/sementesanta/checkin/backend/internal/models"
)

// DefaultPageSize is the number of visitors per page when unspecified.
const DefaultPageSize = 10

// Criteria narrows a visitor list. Zero values mean "no restriction".
type Criteria struct {
	Date          string // exact visit date in dd/mm/yyyy form
	Name          string // case-insensitive substring of the name
	FirstTimeOnly bool
}

// Stats summarizes a visitor list.
type Stats struct {
	Total     int `json:"total"`
	FirstTime int `json:"firstTime"`
}

// Page is one page of an ordered, filtered visitor list.
type Page struct {
	Visitors   []models.Visitor `json:"visitors"`
	Page       int              `json:"page"`
	PageSize   int              `json:"pageSize"`
	TotalPages int              `json:"totalPages"`
	TotalItems int              `json:"totalItems"`
}

// Apply returns the visitors matching every set criterion.
func Apply(visitors []models.Visitor, c Criteria) []models.Visitor {
	name := strings.ToLower(strings.TrimSpace(c.Name))
	date := models.NormalizeDate(c.Date)

	out := make([]models.Visitor, 0, len(visitors))
	for _, v := range visitors {
		if date != "" && v.Date != date {
			continue
		}
		if name != "" && !strings.Contains(strings.ToLower(v.Name), name) {
			continue
		}
		if c.FirstTimeOnly && !v.IsFirstTime {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Sort orders visitors by visit date descending, then by name ascending.
// Records with unparsable dates sink to the end. The input is not
// modified.
func Sort(visitors []models.Visitor) []models.Visitor {
	out := make([]models.Visitor, len(visitors))
	copy(out, visitors)

	sort.SliceStable(out, func(i, j int) bool {
		ti, ierr := models.ParseDate(out[i].Date)
		tj, jerr := models.ParseDate(out[j].Date)
		if ierr != nil || jerr != nil {
			return jerr != nil && ierr == nil
		}
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// Paginate slices an ordered list into the requested page. Page numbers
// are 1-based and clamped into range; a non-positive size falls back to
// the default.
func Paginate(visitors []models.Visitor, page, pageSize int) Page {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	totalItems := len(visitors)
	totalPages := (totalItems + pageSize - 1) / pageSize
	if totalPages == 0 {
		totalPages = 1
	}

	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > totalItems {
		start = totalItems
	}
	if end > totalItems {
		end = totalItems
	}

	return Page{
		Visitors:   visitors[start:end],
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
		TotalItems: totalItems,
	}
}

// Summarize counts totals over a (typically already filtered) list.
func Summarize(visitors []models.Visitor) Stats {
	s := Stats{Total: len(visitors)}
	for _, v := range visitors {
		if v.IsFirstTime {
			s.FirstTime++
		}
	}
	return s
}
