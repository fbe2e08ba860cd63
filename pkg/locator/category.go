package locator

import "strings"

// CategoryMatch is the option picked for a wanted category
type CategoryMatch struct {
	Index  int    // position in the offered options
	Want   string // the wanted category that matched
	Option string // the option text as offered
	Exact  bool
}

// MatchCategory picks an option for the first wanted category that is offered.
// For each wanted value an exact (trimmed) match is preferred over a case-insensitive
// substring match; among equal matches the earliest option wins.
func MatchCategory(options []string, wants []string) (CategoryMatch, bool) {
	for _, want := range wants {
		w := strings.TrimSpace(want)
		if w == "" {
			continue
		}
		for i, opt := range options {
			if strings.TrimSpace(opt) == w {
				return CategoryMatch{Index: i, Want: want, Option: opt, Exact: true}, true
			}
		}
		lw := strings.ToLower(w)
		for i, opt := range options {
			if strings.Contains(strings.ToLower(opt), lw) {
				return CategoryMatch{Index: i, Want: want, Option: opt}, true
			}
		}
	}
	return CategoryMatch{}, false
}
