package image

import (
	"fmt"
	"strings"
)

// Ref identifies a particular image in a particular repository; e.g.,
//
//     123456789012.dkr.ecr.eu-west-1.amazonaws.com/resumelab/server:4f1e9d2a77c0
//
// The registry host may be empty, in which case the reference is
// understood to be relative to whichever registry is implied by
// context (usually the default Docker registry).
type Ref struct {
	Registry   string
	Repository string
	Tag        string
}

// ParseRef splits an image reference into its parts. It does not
// attempt to validate the parts against what registries will actually
// accept; it is for round-tripping references we have constructed or
// been given by the scheduler.
func ParseRef(s string) (Ref, error) {
	var ref Ref
	if s == "" {
		return ref, fmt.Errorf("empty image reference")
	}

	rest := s
	// A registry host is distinguishable from the first path element
	// of a repository because it contains a `.` or a `:`.
	if i := strings.Index(rest, "/"); i > 0 {
		if host := rest[:i]; strings.ContainsAny(host, ".:") {
			ref.Registry = host
			rest = rest[i+1:]
		}
	}
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		ref.Tag = rest[i+1:]
		rest = rest[:i]
	}
	if rest == "" {
		return Ref{}, fmt.Errorf("image reference %q has no repository", s)
	}
	ref.Repository = rest
	return ref, nil
}

func (r Ref) String() string {
	var b strings.Builder
	if r.Registry != "" {
		b.WriteString(r.Registry)
		b.WriteString("/")
	}
	b.WriteString(r.Repository)
	if r.Tag != "" {
		b.WriteString(":")
		b.WriteString(r.Tag)
	}
	return b.String()
}

// Name is the reference without its tag.
func (r Ref) Name() string {
	untagged := r
	untagged.Tag = ""
	return untagged.String()
}

// WithTag returns a copy of the reference pointing at a different tag
// of the same repository.
func (r Ref) WithTag(tag string) Ref {
	r.Tag = tag
	return r
}
