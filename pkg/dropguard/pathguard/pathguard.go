// Package pathguard decides whether a path may enter the detection pipeline.
package pathguard

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// Verdict is the Path Guard's answer for one path.
type Verdict int

// Verdicts, in the order they are evaluated.
const (
	Eligible Verdict = iota
	OutOfScope
	QuarantineInternal
	Ignored
	QuarantineNamed
	Whitelisted
)

func (v Verdict) String() string {
	switch v {
	case Eligible:
		return "eligible"
	case OutOfScope:
		return "out_of_scope"
	case QuarantineInternal:
		return "quarantine_internal"
	case Ignored:
		return "ignored"
	case QuarantineNamed:
		return "quarantine_named"
	case Whitelisted:
		return "whitelisted"
	default:
		return "unknown"
	}
}

// PartialPrefix marks in-progress cross-device copies made by the quarantine
// manager, both inside the quarantine directory and next to a restore target.
const PartialPrefix = ".partial-"

// quarantineName matches the "<epoch>_" prefix given to quarantined files.
var quarantineName = regexp.MustCompile(`^\d+_`)

// LooksQuarantined reports whether a base name carries the quarantine prefix.
func LooksQuarantined(name string) bool {
	return quarantineName.MatchString(name)
}

// Result is a verdict together with the canonical path it was reached for.
type Result struct {
	Verdict Verdict
	Path    string
	// Root is the watched root containing Path; empty when OutOfScope.
	Root string
}

// Guard holds the fixed scope: watched roots, the quarantine directory and
// ignore patterns. It is safe for concurrent use.
type Guard struct {
	roots      []string
	quarantine string
	ignore     []glob.Glob
}

// New canonicalises roots and the quarantine directory and compiles the
// ignore globs.
func New(roots []string, quarantineDir string, ignore []string) (*Guard, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("pathguard: at least one root is required")
	}

	g := &Guard{quarantine: Canonicalize(quarantineDir)}
	for _, r := range roots {
		g.roots = append(g.roots, Canonicalize(r))
	}
	for _, pattern := range ignore {
		compiled, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("pathguard: ignore pattern %q: %w", pattern, err)
		}
		g.ignore = append(g.ignore, compiled)
	}
	return g, nil
}

// Roots returns the canonical roots; the first is the primary root.
func (g *Guard) Roots() []string {
	return append([]string(nil), g.roots...)
}

// QuarantineDir returns the canonical quarantine directory.
func (g *Guard) QuarantineDir() string { return g.quarantine }

// Check classifies path against the guard's scope and the given whitelist.
func (g *Guard) Check(path string, whitelist []string) Result {
	canon := Canonicalize(path)
	root := g.Origin(canon)
	res := Result{Path: canon, Root: root}

	switch {
	case root == "":
		res.Verdict = OutOfScope
	case Within(canon, g.quarantine), strings.HasPrefix(filepath.Base(canon), PartialPrefix):
		res.Verdict = QuarantineInternal
	case g.ignored(canon, root):
		res.Verdict = Ignored
	case LooksQuarantined(filepath.Base(canon)):
		res.Verdict = QuarantineNamed
	case whitelisted(canon, whitelist):
		res.Verdict = Whitelisted
	default:
		res.Verdict = Eligible
	}
	return res
}

// InScope reports whether path lies under any watched root.
func (g *Guard) InScope(path string) bool {
	return g.Origin(Canonicalize(path)) != ""
}

// Origin returns the most specific root containing an already canonical path,
// or "" if none does.
func (g *Guard) Origin(canon string) string {
	best := ""
	for _, r := range g.roots {
		if Within(canon, r) && len(r) > len(best) {
			best = r
		}
	}
	return best
}

// IgnoredPath reports whether a canonical path under root matches an ignore
// pattern. Scans use it to prune directories.
func (g *Guard) IgnoredPath(canon, root string) bool {
	return g.ignored(canon, root)
}

func (g *Guard) ignored(canon, root string) bool {
	if len(g.ignore) == 0 {
		return false
	}
	base := filepath.Base(canon)
	rel, err := filepath.Rel(root, canon)
	if err != nil {
		rel = canon
	}
	rel = filepath.ToSlash(rel)
	for _, m := range g.ignore {
		if m.Match(base) || m.Match(rel) {
			return true
		}
	}
	return false
}

func whitelisted(canon string, whitelist []string) bool {
	for _, w := range whitelist {
		if w != "" && Within(canon, filepath.Clean(w)) {
			return true
		}
	}
	return false
}

// Within reports whether path equals dir or lies beneath it. Both must be
// clean absolute paths.
func Within(path, dir string) bool {
	if path == dir {
		return true
	}
	if !strings.HasSuffix(dir, string(filepath.Separator)) {
		dir += string(filepath.Separator)
	}
	return strings.HasPrefix(path, dir)
}

// Canonicalize returns an absolute, clean, symlink-resolved form of path. When
// the leaf no longer exists the parent is resolved instead.
func Canonicalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	dir, base := filepath.Split(abs)
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		return filepath.Join(resolved, base)
	}
	return abs
}
