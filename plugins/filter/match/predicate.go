package match

import (
	"regexp"
	"strings"

	"github.com/mbiondo/logdog/core"
)

// Predicate reports whether a selected value matches
type Predicate[T any] func(T) bool

// Contains matches strings containing sub
func Contains(sub string) Predicate[string] {
	return func(s string) bool { return strings.Contains(s, sub) }
}

// Excludes matches strings not containing sub
func Excludes(sub string) Predicate[string] {
	return Not(Contains(sub))
}

// HasPrefix matches strings starting with prefix
func HasPrefix(prefix string) Predicate[string] {
	return func(s string) bool { return strings.HasPrefix(s, prefix) }
}

// HasSuffix matches strings ending with suffix
func HasSuffix(suffix string) Predicate[string] {
	return func(s string) bool { return strings.HasSuffix(s, suffix) }
}

// Regexp matches strings against pattern
func Regexp(pattern string) (Predicate[string], error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return re.MatchString, nil
}

// MustRegexp is like Regexp but panics on an invalid pattern
func MustRegexp(pattern string) Predicate[string] {
	return regexp.MustCompile(pattern).MatchString
}

// Equals matches values equal to v
func Equals[T comparable](v T) Predicate[T] {
	return func(x T) bool { return x == v }
}

// In matches values equal to any of values
func In[T comparable](values ...T) Predicate[T] {
	set := make(map[T]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return func(x T) bool {
		_, ok := set[x]
		return ok
	}
}

// AtLeast matches levels at or above min
func AtLeast(min core.Level) Predicate[core.Level] {
	return func(l core.Level) bool { return l >= min }
}

// AtMost matches levels at or below max
func AtMost(max core.Level) Predicate[core.Level] {
	return func(l core.Level) bool { return l <= max }
}

// Not negates p
func Not[T any](p Predicate[T]) Predicate[T] {
	return func(v T) bool { return !p(v) }
}

// AnyOf matches when at least one predicate matches
func AnyOf[T any](ps ...Predicate[T]) Predicate[T] {
	return func(v T) bool {
		for _, p := range ps {
			if p(v) {
				return true
			}
		}
		return false
	}
}

// AllOf matches when every predicate matches
func AllOf[T any](ps ...Predicate[T]) Predicate[T] {
	return func(v T) bool {
		for _, p := range ps {
			if !p(v) {
				return false
			}
		}
		return true
	}
}
