// Package pkgspec parses package specifiers of the form name or name=version.
// The version part is a glob matched against the installed version.
package pkgspec

import (
	"path"
	"strings"

	"github.com/steelcutops/aptstate/aptstate"
)

type Spec struct {
	Name    string
	Version string
}

// Parse reads one specifier. At most one '=' is allowed and it must be
// followed by a version.
func Parse(s string) (Spec, error) {
	s = strings.TrimSpace(s)
	if strings.Count(s, "=") > 1 {
		return Spec{}, aptstate.Validationf("invalid package spec: %s", s)
	}

	name, version, hasSep := strings.Cut(s, "=")
	if name == "" {
		return Spec{}, aptstate.Validationf("invalid package spec: %q", s)
	}
	if hasSep && version == "" {
		return Spec{}, aptstate.Validationf("invalid package spec: %s", s)
	}
	return Spec{Name: name, Version: version}, nil
}

// ParseList parses every specifier. With latest set, a versioned specifier
// is rejected since "latest" and a pinned version contradict each other.
func ParseList(pkgs []string, latest bool) ([]Spec, error) {
	specs := make([]Spec, 0, len(pkgs))
	for _, p := range pkgs {
		spec, err := Parse(p)
		if err != nil {
			return nil, err
		}
		if latest && spec.Version != "" {
			return nil, aptstate.Validationf("version number inconsistent with state=latest: %s", p)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (s Spec) HasVersion() bool {
	return s.Version != ""
}

// Matches reports whether installed satisfies the version glob. Without a
// version every installed version matches.
func (s Spec) Matches(installed string) bool {
	if s.Version == "" {
		return true
	}
	ok, err := path.Match(globPattern(s.Version), installed)
	return err == nil && ok
}

// String renders the specifier the way apt-get takes it on the command line.
func (s Spec) String() string {
	if s.Version == "" {
		return s.Name
	}
	return s.Name + "=" + s.Version
}

// Strings renders every spec.
func Strings(specs []Spec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.String()
	}
	return out
}

// globPattern rewrites shell-style negated classes [!...] into the [^...]
// form path.Match understands.
func globPattern(p string) string {
	return strings.ReplaceAll(p, "[!", "[^")
}
