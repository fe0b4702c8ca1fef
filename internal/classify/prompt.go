package classify

import (
	"fmt"
	"strings"

	"github.com/vietddude/classifier/internal/taxonomy"
)

// Prompts are split into a stable prefix and a volatile body. The prefix
// (instructions + taxonomy listing) is identical across calls so the service
// can cache it; only the item titles change per batch.

const stage1Instructions = `TASK: Assign every POSSIBLE top-level taxonomy class (first 2 digits of the code) to each item.

RULES:
1. For each item list ALL plausible classes (XX).
2. If an item fits SEVERAL classes, list them ALL separated by "|".
3. Output format: "Item title|XX" or "Item title|XX|YY|ZZ".
4. If an item fits NO class, do NOT output it.
5. No explanations or commentary.
6. Prefer listing too many candidate classes over missing a fitting one.

OUTPUT FORMAT:
Item title|XX
Item title|XX|YY
Item title|XX|YY|ZZ

TOP-LEVEL CLASSES:
`

const stage2Instructions = `TASK: Assign exactly ONE maximally specific taxonomy code within class %s (%s) to each item.

RULES:
1. Pick the single most specific code from the structure below.
2. Output format: "Item title|XX.XX.X" (one code per item, full code only).
3. If no code in this class fits an item confidently, do NOT output it.
4. No explanations or commentary.

CLASS %s STRUCTURE:
%s
`

// Stage1Prefix renders the cacheable stage-1 prompt prefix.
func Stage1Prefix(tree *taxonomy.Tree) string {
	return stage1Instructions + tree.Catalog()
}

// Stage2Prefix renders the cacheable stage-2 prompt prefix for one class.
func Stage2Prefix(tree *taxonomy.Tree, class string) string {
	return fmt.Sprintf(stage2Instructions,
		class, tree.ClassName(class), class, tree.Subtree(class))
}

// TitlesBody renders the volatile portion of a prompt: the batch's titles.
func TitlesBody(titles []string) string {
	return "ITEMS:\n" + strings.Join(titles, "\n")
}
