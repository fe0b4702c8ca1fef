package taxonomy

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var (
	// coarsePattern matches a two-digit top-level class code.
	coarsePattern = regexp.MustCompile(`^\d{2}$`)
	// fullPattern matches a fully specific multi-segment code, e.g. 10.71.1.200.
	fullPattern = regexp.MustCompile(`^\d{2}\.\d{2}\.\d+(\.\d+)*$`)
)

// ValidCoarse reports whether code is a well-formed top-level class code.
func ValidCoarse(code string) bool {
	return coarsePattern.MatchString(code)
}

// ValidFull reports whether code is a well-formed fully specific code.
func ValidFull(code string) bool {
	return fullPattern.MatchString(code)
}

// ClassOf returns the top-level class of a full code ("10.71.1.200" -> "10").
func ClassOf(code string) string {
	if i := strings.IndexByte(code, '.'); i > 0 {
		return code[:i]
	}
	return code
}

// Tree is the category taxonomy: top-level classes, each holding a flat map
// of full codes to descriptions. The class's own name sits under its own code.
type Tree struct {
	classes map[string]map[string]string
	order   []string
}

// New builds a tree from an in-memory class map.
func New(classes map[string]map[string]string) *Tree {
	order := make([]string, 0, len(classes))
	for class := range classes {
		order = append(order, class)
	}
	sort.Strings(order)
	return &Tree{classes: classes, order: order}
}

// Load reads the taxonomy tree from a JSON file.
func Load(path string) (*Tree, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy file: %w", err)
	}
	var classes map[string]map[string]string
	if err := json.Unmarshal(raw, &classes); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy file: %w", err)
	}
	return New(classes), nil
}

// Classes lists the top-level class codes in ascending order.
func (t *Tree) Classes() []string {
	return t.order
}

// HasClass reports whether a top-level class exists.
func (t *Tree) HasClass(class string) bool {
	_, ok := t.classes[class]
	return ok
}

// ClassName returns the display name of a top-level class.
func (t *Tree) ClassName(class string) string {
	if name, ok := t.classes[class][class]; ok {
		return name
	}
	return ""
}

// Describe returns the description of a full code, empty when unknown.
func (t *Tree) Describe(code string) string {
	return t.classes[ClassOf(code)][code]
}

// Catalog renders the top-level class listing used as the stage-1 prompt
// prefix, one "code - name" line per class.
func (t *Tree) Catalog() string {
	var sb strings.Builder
	for _, class := range t.order {
		fmt.Fprintf(&sb, "%s - %s\n", class, t.ClassName(class))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Subtree renders the full code listing under one class, ordered by segment
// depth then lexically, as the stage-2 prompt prefix for that class.
func (t *Tree) Subtree(class string) string {
	codes := make([]string, 0, len(t.classes[class]))
	for code := range t.classes[class] {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool {
		di, dj := strings.Count(codes[i], "."), strings.Count(codes[j], ".")
		if di != dj {
			return di < dj
		}
		return codes[i] < codes[j]
	})

	var sb strings.Builder
	for _, code := range codes {
		fmt.Fprintf(&sb, "%s - %s\n", code, t.classes[class][code])
	}
	return strings.TrimRight(sb.String(), "\n")
}
