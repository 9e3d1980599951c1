// ignore.go — Suppression lists for captured URLs and errors.
// A subject matches when any literal pattern is a substring, any compiled
// regular expression matches, or (for errors) any predicate returns true.
// Matching events are dropped before enrichment and produce no breadcrumb.
package policy

import (
	"regexp"
	"strings"
)

// IgnoreList holds the three pattern forms a suppression list accepts.
type IgnoreList struct {
	Substrings []string
	Regexps    []*regexp.Regexp
	Predicates []func(error) bool
}

// Empty reports whether no patterns are configured.
func (il *IgnoreList) Empty() bool {
	return il == nil ||
		(len(il.Substrings) == 0 && len(il.Regexps) == 0 && len(il.Predicates) == 0)
}

// MatchString reports whether s is suppressed by a substring or regexp
// pattern. Predicates are not consulted for plain strings.
func (il *IgnoreList) MatchString(s string) bool {
	if il == nil {
		return false
	}
	for _, sub := range il.Substrings {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	for _, re := range il.Regexps {
		if re != nil && re.MatchString(s) {
			return true
		}
	}
	return false
}

// MatchError reports whether err is suppressed. The error text is checked
// against substring and regexp patterns, then each predicate is asked.
func (il *IgnoreList) MatchError(err error) bool {
	if il == nil || err == nil {
		return false
	}
	if il.MatchString(err.Error()) {
		return true
	}
	for _, pred := range il.Predicates {
		if pred != nil && pred(err) {
			return true
		}
	}
	return false
}
