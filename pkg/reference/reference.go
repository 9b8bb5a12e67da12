package reference

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Kind is a record type with a fixed three character identifier prefix.
type Kind struct {
	Name   string
	Prefix string
}

var (
	Opportunity = Kind{Name: "Opportunity", Prefix: "006"}
	Account     = Kind{Name: "Account", Prefix: "001"}
	Case        = Kind{Name: "Case", Prefix: "500"}
)

// ErrNotFound is returned when a reference does not carry a usable identifier.
var ErrNotFound = errors.New("no record identifier found")

const (
	minLength = 15
	maxLength = 18
)

var (
	genericPattern = regexp.MustCompile(`/([A-Za-z0-9]{15,18})`)
	bareID         = regexp.MustCompile(`^[A-Za-z0-9]{15,18}$`)
)

// Valid reports whether id has the kind's prefix and a canonical length.
func (k Kind) Valid(id string) bool {
	return strings.HasPrefix(id, k.Prefix) && bareID.MatchString(id)
}

func (k Kind) patterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		genericPattern,
		regexp.MustCompile(`/` + k.Name + `/([A-Za-z0-9]{15,18})`),
		regexp.MustCompile(`(` + k.Prefix + `[A-Za-z0-9]{12,15})`),
	}
}

// Resolve extracts the canonical identifier of kind from a URL or raw id.
// A reference that already is a valid identifier is returned unchanged.
func Resolve(ref string, kind Kind) (string, error) {
	ref = strings.TrimSpace(ref)
	if kind.Valid(ref) {
		return ref, nil
	}

	for _, p := range kind.patterns() {
		for _, m := range p.FindAllStringSubmatch(ref, -1) {
			if id := m[1]; len(id) >= minLength && len(id) <= maxLength && strings.HasPrefix(id, kind.Prefix) {
				return id, nil
			}
		}
	}

	return "", fmt.Errorf("%w in %q for %s", ErrNotFound, ref, kind.Name)
}

// Invalid is a reference that could not be resolved, with its position in the input.
type Invalid struct {
	Position  int    `json:"position"`
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}

// Resolution is the outcome of resolving a list of references.
type Resolution struct {
	IDs        []string  `json:"ids"`
	Duplicates int       `json:"duplicates"`
	Invalid    []Invalid `json:"invalid"`
}

// ResolveAll resolves every reference, keeping the first occurrence of each
// identifier. len(IDs)+Duplicates+len(Invalid) always equals len(refs).
func ResolveAll(refs []string, kind Kind) Resolution {
	res := Resolution{IDs: []string{}, Invalid: []Invalid{}}
	seen := make(map[string]struct{}, len(refs))

	for i, ref := range refs {
		id, err := Resolve(ref, kind)
		if err != nil {
			res.Invalid = append(res.Invalid, Invalid{Position: i, Reference: ref, Reason: err.Error()})
			continue
		}
		if _, ok := seen[id]; ok {
			res.Duplicates++
			continue
		}
		seen[id] = struct{}{}
		res.IDs = append(res.IDs, id)
	}

	return res
}

// ReadReferences reads one reference per line, skipping blank lines and
// lines starting with '#'.
func ReadReferences(r io.Reader) ([]string, error) {
	var refs []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		refs = append(refs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read references: %w", err)
	}
	return refs, nil
}
