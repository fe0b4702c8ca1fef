package classify

import (
	"reflect"
	"testing"

	"github.com/vietddude/classifier/internal/core/domain"
	"github.com/vietddude/classifier/internal/taxonomy"
)

func recsFromTitles(titles ...string) []domain.Record {
	recs := make([]domain.Record, len(titles))
	for i, title := range titles {
		recs[i] = domain.Record{ID: int64(i + 1), Title: title}
	}
	return recs
}

func TestParseResponseCoarse(t *testing.T) {
	tests := []struct {
		name     string
		response string
		titles   []string
		want     map[int64][]string
	}{
		{
			name:     "multi group line, absent item unmatched",
			response: "Widget A|10|25",
			titles:   []string{"Widget A", "Widget B"},
			want:     map[int64][]string{1: {"10", "25"}},
		},
		{
			name:     "invalid codes discarded",
			response: "Widget A|10|banana|256|2",
			titles:   []string{"Widget A"},
			want:     map[int64][]string{1: {"10"}},
		},
		{
			name:     "duplicate codes removed preserving rank",
			response: "Widget A|25|10|25",
			titles:   []string{"Widget A"},
			want:     map[int64][]string{1: {"25", "10"}},
		},
		{
			name:     "normalized substring fallback",
			response: "widget a|10",
			titles:   []string{"Widget A (blue)"},
			want:     map[int64][]string{1: {"10"}},
		},
		{
			name:     "first token fallback",
			response: "Widget deluxe edition|10",
			titles:   []string{"Widget premium"},
			want:     map[int64][]string{1: {"10"}},
		},
		{
			name:     "no valid codes means no result",
			response: "Widget A|banana",
			titles:   []string{"Widget A"},
			want:     map[int64][]string{},
		},
		{
			name:     "lines without separator skipped",
			response: "thinking about it\nWidget A|10",
			titles:   []string{"Widget A"},
			want:     map[int64][]string{1: {"10"}},
		},
		{
			name:     "empty response",
			response: "",
			titles:   []string{"Widget A"},
			want:     map[int64][]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseResponse(tt.response, recsFromTitles(tt.titles...), taxonomy.ValidCoarse, 0)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseResponse() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseResponseLineClaimsOneRecord(t *testing.T) {
	// Two records share a title; each response line may claim only one, so
	// the first line resolves to the first record and the second line to the
	// remaining one.
	recs := []domain.Record{
		{ID: 1, Title: "Widget"},
		{ID: 2, Title: "Widget"},
	}
	got := ParseResponse("Widget|10\nWidget|25", recs, taxonomy.ValidCoarse, 0)
	want := map[int64][]string{1: {"10"}, 2: {"25"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseResponse() = %v, want %v", got, want)
	}
}

func TestParseResponseFullCodes(t *testing.T) {
	recs := recsFromTitles("Widget A")

	got := ParseResponse("Widget A|10.71.1.200", recs, taxonomy.ValidFull, 1)
	want := map[int64][]string{1: {"10.71.1.200"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseResponse() = %v, want %v", got, want)
	}

	// Coarse codes are not acceptable stage-2 answers.
	if got := ParseResponse("Widget A|10", recs, taxonomy.ValidFull, 1); len(got) != 0 {
		t.Errorf("coarse code accepted as full: %v", got)
	}

	// Only the first valid code counts when capped at one.
	got = ParseResponse("Widget A|10.71.1.200|10.71.1.300", recs, taxonomy.ValidFull, 1)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseResponse() = %v, want %v", got, want)
	}
}
