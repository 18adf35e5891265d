package model

import (
	"fmt"
	"regexp"
	"strings"
)

// UnknownRepository is the placeholder used when a repository URL can't be parsed
// but a best-effort identifier is still required (e.g. fallback links).
var UnknownRepository = RepositoryRef{Owner: "unknown", Name: "repo"}

var (
	ownerRe = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	nameRe  = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	hostRe  = regexp.MustCompile(`^[A-Za-z0-9.-]+(:[0-9]+)?$`)
)

// RepositoryRef identifies a source repository.
type RepositoryRef struct {
	Owner string
	Name  string
}

// String returns the `owner/name` form of the repository.
func (r RepositoryRef) String() string { return r.Owner + "/" + r.Name }

// Validate validates the repository reference.
func (r RepositoryRef) Validate() error {
	if !ownerRe.MatchString(r.Owner) {
		return fmt.Errorf("invalid repository owner %q: %w", r.Owner, ErrNotValid)
	}
	if !nameRe.MatchString(r.Name) || r.Name == "." || r.Name == ".." {
		return fmt.Errorf("invalid repository name %q: %w", r.Name, ErrNotValid)
	}
	return nil
}

// NormalizeRepositoryURL trims spaces, the trailing slash and the `.git` suffix of a repository URL.
func NormalizeRepositoryURL(raw string) string {
	u := strings.TrimSpace(raw)
	u = strings.TrimSuffix(u, "/")
	u = strings.TrimSuffix(u, ".git")
	return u
}

// ParseRepositoryURL parses URLs with the shape `[protocol://][www.]host/owner/name[.git][/]`.
func ParseRepositoryURL(raw string) (RepositoryRef, error) {
	u := NormalizeRepositoryURL(raw)
	if u == "" {
		return RepositoryRef{}, fmt.Errorf("repository URL is required: %w", ErrNotValid)
	}

	if _, rest, ok := strings.Cut(u, "://"); ok {
		u = rest
	}
	u = strings.TrimPrefix(u, "www.")

	parts := strings.Split(u, "/")
	if len(parts) != 3 {
		return RepositoryRef{}, fmt.Errorf("repository URL %q must have the host/owner/name shape: %w", raw, ErrNotValid)
	}
	if !hostRe.MatchString(parts[0]) {
		return RepositoryRef{}, fmt.Errorf("invalid repository host %q: %w", parts[0], ErrNotValid)
	}

	ref := RepositoryRef{Owner: parts[1], Name: parts[2]}
	if err := ref.Validate(); err != nil {
		return RepositoryRef{}, err
	}

	return ref, nil
}
