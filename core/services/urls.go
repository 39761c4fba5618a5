package services

import (
	"fmt"
	"strings"
)

// segment is one piece of a URL: either a literal name or a positional
// variable slot.
type segment struct {
	name     string
	variable bool
}

// URL is the shape of a collection or resource URL: an ordered list of
// literal segments and positional variables. URLs are immutable; Extend
// and Var return copies.
type URL struct {
	segments []segment
}

// Extend returns the URL with a literal segment appended.
func (u URL) Extend(name string) URL {
	return u.with(segment{name: name})
}

// Var returns the URL with a positional variable appended.
func (u URL) Var() URL {
	return u.with(segment{variable: true})
}

func (u URL) with(s segment) URL {
	segments := make([]segment, len(u.segments), len(u.segments)+1)
	copy(segments, u.segments)
	return URL{segments: append(segments, s)}
}

// Variables returns the number of variable slots.
func (u URL) Variables() int {
	n := 0
	for _, s := range u.segments {
		if s.variable {
			n++
		}
	}
	return n
}

// Pattern returns the gorilla/mux route template. Variable slots are
// named f0, f1, ... in order. With trailingSlash the pattern designates
// a collection URL.
func (u URL) Pattern(trailingSlash bool) string {
	var b strings.Builder
	variable := 0
	for _, s := range u.segments {
		b.WriteByte('/')
		if s.variable {
			fmt.Fprintf(&b, "{f%d}", variable)
			variable++
		} else {
			b.WriteString(s.name)
		}
	}
	if trailingSlash || len(u.segments) == 0 {
		b.WriteByte('/')
	}
	return b.String()
}

// Reverse substitutes the ids into the variable slots and returns the
// concrete path. It panics when the number of ids does not match the
// number of slots; list ids have been validated before they get here.
func (u URL) Reverse(ids []string) string {
	var b strings.Builder
	next := 0
	for _, s := range u.segments {
		b.WriteByte('/')
		if s.variable {
			if next >= len(ids) {
				panic(fmt.Sprintf("url %s: missing id %d", u, next))
			}
			b.WriteString(ids[next])
			next++
		} else {
			b.WriteString(s.name)
		}
	}
	if next != len(ids) {
		panic(fmt.Sprintf("url %s: got %d ids for %d slots", u, len(ids), next))
	}
	if len(u.segments) == 0 {
		b.WriteByte('/')
	}
	return b.String()
}

// String renders the URL with :fN placeholders.
func (u URL) String() string {
	var b strings.Builder
	variable := 0
	for _, s := range u.segments {
		b.WriteByte('/')
		if s.variable {
			fmt.Fprintf(&b, ":f%d", variable)
			variable++
		} else {
			b.WriteString(s.name)
		}
	}
	if len(u.segments) == 0 {
		b.WriteByte('/')
	}
	return b.String()
}
