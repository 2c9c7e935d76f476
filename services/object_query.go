package services

import (
	"fmt"
	"strconv"
	"strings"
)

// ObjectQuery is the parsed form of the compact object-search grammar
// `class[:op count]`. A frame matches when its per-class occurrence
// count falls in [MinCount, MaxCount]; MaxCount 0 means unbounded.
// Every form asserts presence, so MinCount is always >= 1.
type ObjectQuery struct {
	ClassName string
	MinCount  int
	MaxCount  int
}

// ParseObjectQuery parses the object-search grammar:
//
//	"person"      any frame containing at least one person
//	"person:3+"   at least 3 persons
//	"person:3-"   at most 3 persons (and at least one)
//	"person:2-5"  between 2 and 5 persons inclusive
//
// Any other form fails with ErrMalformedQuery.
func ParseObjectQuery(query string) (*ObjectQuery, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty object query: %w", ErrMalformedQuery)
	}

	name, spec, hasSpec := strings.Cut(query, ":")
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("object query %q: missing class name: %w", query, ErrMalformedQuery)
	}

	if !hasSpec {
		return &ObjectQuery{ClassName: name, MinCount: 1}, nil
	}

	spec = strings.TrimSpace(spec)
	switch {
	case strings.HasSuffix(spec, "+"):
		n, err := parseCount(spec[:len(spec)-1])
		if err != nil {
			return nil, fmt.Errorf("object query %q: %v: %w", query, err, ErrMalformedQuery)
		}
		return &ObjectQuery{ClassName: name, MinCount: n}, nil

	case strings.HasSuffix(spec, "-"):
		n, err := parseCount(spec[:len(spec)-1])
		if err != nil {
			return nil, fmt.Errorf("object query %q: %v: %w", query, err, ErrMalformedQuery)
		}
		return &ObjectQuery{ClassName: name, MinCount: 1, MaxCount: n}, nil

	case strings.Contains(spec, "-"):
		lo, hi, _ := strings.Cut(spec, "-")
		n, err := parseCount(lo)
		if err != nil {
			return nil, fmt.Errorf("object query %q: %v: %w", query, err, ErrMalformedQuery)
		}
		m, err := parseCount(hi)
		if err != nil {
			return nil, fmt.Errorf("object query %q: %v: %w", query, err, ErrMalformedQuery)
		}
		if n > m {
			return nil, fmt.Errorf("object query %q: range %d-%d is inverted: %w", query, n, m, ErrMalformedQuery)
		}
		return &ObjectQuery{ClassName: name, MinCount: n, MaxCount: m}, nil

	default:
		return nil, fmt.Errorf("object query %q: count spec %q not recognized: %w", query, spec, ErrMalformedQuery)
	}
}

func parseCount(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("count %q is not a number", s)
	}
	if n < 1 {
		return 0, fmt.Errorf("count must be >= 1, got %d", n)
	}
	return n, nil
}
