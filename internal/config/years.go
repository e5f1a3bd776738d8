package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// FirstYear is the earliest year in the GSOD archive.
const FirstYear = 1929

// ParseYears parses a year selection such as "1929-1931,2001". An empty string selects
// every available year and returns nil. The result is sorted and free of duplicates.
func ParseYears(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	set := map[int]bool{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		from, to, isRange := strings.Cut(part, "-")
		lo, err := parseYear(from)
		if err != nil {
			return nil, err
		}
		hi := lo
		if isRange {
			if hi, err = parseYear(to); err != nil {
				return nil, err
			}
		}
		if hi < lo {
			return nil, fmt.Errorf("invalid year range %q: end before start", part)
		}
		for y := lo; y <= hi; y++ {
			set[y] = true
		}
	}

	years := make([]int, 0, len(set))
	for y := range set {
		years = append(years, y)
	}
	sort.Ints(years)
	return years, nil
}

func parseYear(s string) (int, error) {
	s = strings.TrimSpace(s)
	y, err := strconv.Atoi(s)
	if err != nil || len(s) != 4 || y < FirstYear {
		return 0, fmt.Errorf("invalid year %q", s)
	}
	return y, nil
}
