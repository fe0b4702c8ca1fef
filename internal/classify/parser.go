package classify

import (
	"strings"

	"github.com/vietddude/classifier/internal/core/domain"
)

// ParseResponse maps service response lines ("label|code[|code...]") back to
// batch records. Labels are matched to titles exactly first, then by a
// normalized fallback (case-insensitive substring either way, or equal first
// token); each line claims at most one still-unclaimed record, so duplicate
// titles cannot all be attributed from a single line. Codes failing valid are
// discarded; survivors are de-duplicated preserving rank order and capped at
// maxCodes when maxCodes > 0. Records without any valid code are absent from
// the result, which the stages record as none_classified.
func ParseResponse(
	response string,
	recs []domain.Record,
	valid func(string) bool,
	maxCodes int,
) map[int64][]string {
	results := make(map[int64][]string)
	claimed := make(map[int64]bool, len(recs))

	for _, line := range strings.Split(strings.TrimSpace(response), "\n") {
		if !strings.Contains(line, "|") {
			continue
		}
		parts := strings.Split(line, "|")
		label := strings.TrimSpace(parts[0])
		if label == "" {
			continue
		}

		rec := matchRecord(label, recs, claimed)
		if rec == nil {
			continue
		}

		codes := collectCodes(parts[1:], valid, maxCodes)
		if len(codes) == 0 {
			continue
		}
		claimed[rec.ID] = true
		results[rec.ID] = codes
	}
	return results
}

func matchRecord(label string, recs []domain.Record, claimed map[int64]bool) *domain.Record {
	for i := range recs {
		if claimed[recs[i].ID] {
			continue
		}
		if recs[i].Title == label {
			return &recs[i]
		}
	}

	labelNorm := strings.ToLower(strings.TrimSpace(label))
	labelFirst := firstToken(labelNorm)
	for i := range recs {
		if claimed[recs[i].ID] {
			continue
		}
		titleNorm := strings.ToLower(strings.TrimSpace(recs[i].Title))
		if strings.Contains(titleNorm, labelNorm) ||
			strings.Contains(labelNorm, titleNorm) ||
			(labelFirst != "" && labelFirst == firstToken(titleNorm)) {
			return &recs[i]
		}
	}
	return nil
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func collectCodes(tokens []string, valid func(string) bool, maxCodes int) []string {
	var codes []string
	seen := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		code := strings.TrimSpace(token)
		if !valid(code) || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
		if maxCodes > 0 && len(codes) >= maxCodes {
			break
		}
	}
	return codes
}
