package vision

import (
	"encoding/json"
	"fmt"
	"strings"
)

// maxDegradedRunes bounds the commentary salvaged from an unparseable reply.
const maxDegradedRunes = 400

// wireReply is the JSON shape the model is instructed to produce.
type wireReply struct {
	Commentary        string   `json:"commentary"`
	Theory            string   `json:"theory"`
	BrandGuess        *string  `json:"brandGuess"`
	Confidence        string   `json:"confidence"`
	TropesDetected    []string `json:"tropesDetected"`
	IsNewAd           bool     `json:"isNewAd"`
	AdSummaryOneLiner string   `json:"adSummaryOneLiner"`
}

// ParseReply interprets raw model text. It never fails: text that does not
// decode into the expected schema yields a [KindDegraded] result whose
// Observation holds only salvaged Commentary.
func ParseReply(raw string) Result {
	obs, err := Decode(raw)
	if err == nil {
		return Result{Kind: KindParsed, Observation: obs, Raw: raw}
	}
	return Result{
		Kind:        KindDegraded,
		Observation: Observation{Commentary: salvage(raw), Confidence: ConfidenceGuessing},
		Raw:         raw,
	}
}

// Decode strictly decodes raw into an [Observation]. Markdown code fences and
// text around the outermost JSON object are tolerated. Errors wrap
// [ErrMalformed].
func Decode(raw string) (Observation, error) {
	body, ok := extractObject(raw)
	if !ok {
		return Observation{}, fmt.Errorf("%w: no json object", ErrMalformed)
	}

	var w wireReply
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return Observation{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	obs := Observation{
		Commentary:      strings.TrimSpace(w.Commentary),
		Theory:          strings.TrimSpace(w.Theory),
		Confidence:      Confidence(strings.ToLower(strings.TrimSpace(w.Confidence))),
		IsBoundary:      w.IsNewAd,
		BoundarySummary: strings.TrimSpace(w.AdSummaryOneLiner),
	}
	if w.BrandGuess != nil {
		obs.BrandGuess = normaliseBrand(*w.BrandGuess)
	}
	if !obs.Confidence.IsValid() {
		obs.Confidence = ConfidenceGuessing
	}
	for _, t := range w.TropesDetected {
		if t = strings.TrimSpace(t); t != "" {
			obs.Tropes = append(obs.Tropes, t)
		}
	}
	return obs, nil
}

// normaliseBrand maps the "no brand" spellings models like to use onto "".
func normaliseBrand(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "null", "none", "unknown", "n/a":
		return ""
	}
	return s
}

// extractObject returns the substring from the first '{' to the last '}'.
func extractObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

// salvage produces best-effort commentary from an unparseable reply. When the
// reply is loosely JSON-shaped, a string "commentary" field is preferred over
// the raw text.
func salvage(raw string) string {
	if body, ok := extractObject(raw); ok {
		var loose map[string]any
		if json.Unmarshal([]byte(body), &loose) == nil {
			if c, ok := loose["commentary"].(string); ok {
				return truncateRunes(strings.TrimSpace(c), maxDegradedRunes)
			}
		}
	}

	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.Join(strings.Fields(text), " ")
	return truncateRunes(text, maxDegradedRunes)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
