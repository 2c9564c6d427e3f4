package glpi

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	pkgerrors "HelpdeskPulse/pkg/errors"
)

// Search types understood by GLPI.
const (
	SearchEquals    = "equals"
	SearchNotEquals = "notequals"
	SearchContains  = "contains"
	SearchLessThan  = "lessthan"
	SearchMoreThan  = "morethan"
	SearchUnder     = "under"
)

// Criterion links.
const (
	LinkAnd = "AND"
	LinkOr  = "OR"
)

// CountRange asks GLPI for no rows, only the Content-Range total.
const CountRange = "0-0"

// Criterion is one criteria[n] entry of a search query.
type Criterion struct {
	// Link joins this criterion to the previous one; ignored for the first.
	Link       string
	Field      int
	SearchType string
	Value      string
}

// Equals builds an AND-linked equality criterion.
func Equals(field int, value string) Criterion {
	return Criterion{Link: LinkAnd, Field: field, SearchType: SearchEquals, Value: value}
}

// MoreThan builds an AND-linked lower bound (dates as "YYYY-MM-DD HH:MM:SS").
func MoreThan(field int, value string) Criterion {
	return Criterion{Link: LinkAnd, Field: field, SearchType: SearchMoreThan, Value: value}
}

// LessThan builds an AND-linked upper bound.
func LessThan(field int, value string) Criterion {
	return Criterion{Link: LinkAnd, Field: field, SearchType: SearchLessThan, Value: value}
}

// EncodeCriteria adds criteria[n][link|field|searchtype|value] parameters.
func EncodeCriteria(params url.Values, criteria []Criterion) {
	for i, c := range criteria {
		prefix := fmt.Sprintf("criteria[%d]", i)
		if i > 0 && c.Link != "" {
			params.Set(prefix+"[link]", c.Link)
		}
		params.Set(prefix+"[field]", strconv.Itoa(c.Field))
		searchType := c.SearchType
		if searchType == "" {
			searchType = SearchEquals
		}
		params.Set(prefix+"[searchtype]", searchType)
		params.Set(prefix+"[value]", c.Value)
	}
}

// ContentRange is a parsed Content-Range header: <start>-<end>/<total>.
type ContentRange struct {
	Start int64
	End   int64
	Total int64
}

// ParseContentRange parses the header GLPI uses to report the match count.
// The total is mandatory; an empty result may report its range as "0--1".
func ParseContentRange(header string) (ContentRange, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return ContentRange{}, fmt.Errorf("missing Content-Range header: %w", pkgerrors.ErrMalformedResponse)
	}
	// Tolerate an RFC 7233 unit prefix
	header = strings.TrimPrefix(header, "items ")

	slash := strings.LastIndexByte(header, '/')
	if slash < 0 {
		return ContentRange{}, fmt.Errorf("content-range %q has no total: %w", header, pkgerrors.ErrMalformedResponse)
	}

	total, err := strconv.ParseInt(header[slash+1:], 10, 64)
	if err != nil || total < 0 {
		return ContentRange{}, fmt.Errorf("content-range %q has invalid total: %w", header, pkgerrors.ErrMalformedResponse)
	}

	cr := ContentRange{Total: total, End: -1}
	rng := header[:slash]
	if rng == "*" || rng == "" {
		return cr, nil
	}
	dash := strings.IndexByte(rng, '-')
	if dash <= 0 {
		return ContentRange{}, fmt.Errorf("content-range %q has invalid range: %w", header, pkgerrors.ErrMalformedResponse)
	}
	if cr.Start, err = strconv.ParseInt(rng[:dash], 10, 64); err != nil {
		return ContentRange{}, fmt.Errorf("content-range %q has invalid start: %w", header, pkgerrors.ErrMalformedResponse)
	}
	if cr.End, err = strconv.ParseInt(rng[dash+1:], 10, 64); err != nil {
		return ContentRange{}, fmt.Errorf("content-range %q has invalid end: %w", header, pkgerrors.ErrMalformedResponse)
	}
	return cr, nil
}

// SearchResult is the body of GET search/{itemtype}.
type SearchResult struct {
	TotalCount int64            `json:"totalcount"`
	Count      int              `json:"count"`
	Sort       any              `json:"sort,omitempty"`
	Order      any              `json:"order,omitempty"`
	Data       []map[string]any `json:"data,omitempty"`
	// Range is taken from the Content-Range header.
	Range ContentRange `json:"-"`
}
