package vision_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/adroast/pkg/provider/vision"
)

func TestParseReply_FullSchema(t *testing.T) {
	t.Parallel()

	raw := `{
	  "commentary": "A man runs on a beach. Must be insurance.",
	  "theory": "life insurance",
	  "brandGuess": "Acme Mutual",
	  "confidence": "suspicious",
	  "tropesDetected": ["slow motion", " ", "golden retriever"],
	  "isNewAd": true,
	  "adSummaryOneLiner": "Acme sells nothing you need"
	}`

	res := vision.ParseReply(raw)
	if res.Kind != vision.KindParsed {
		t.Fatalf("Kind = %v, want parsed", res.Kind)
	}
	obs := res.Observation
	if obs.Commentary != "A man runs on a beach. Must be insurance." {
		t.Errorf("Commentary = %q", obs.Commentary)
	}
	if obs.Theory != "life insurance" {
		t.Errorf("Theory = %q", obs.Theory)
	}
	if obs.BrandGuess != "Acme Mutual" {
		t.Errorf("BrandGuess = %q", obs.BrandGuess)
	}
	if obs.Confidence != vision.ConfidenceSuspicious {
		t.Errorf("Confidence = %q", obs.Confidence)
	}
	if len(obs.Tropes) != 2 {
		t.Errorf("Tropes = %v, want 2 non-empty entries", obs.Tropes)
	}
	if !obs.IsBoundary || obs.BoundarySummary != "Acme sells nothing you need" {
		t.Errorf("boundary = %v %q", obs.IsBoundary, obs.BoundarySummary)
	}
}

func TestParseReply_CodeFenceAndNullBrand(t *testing.T) {
	t.Parallel()

	raw := "```json\n{\"commentary\":\"Hmm.\",\"theory\":\"\",\"brandGuess\":null,\"confidence\":\"CERTAIN\",\"tropesDetected\":[],\"isNewAd\":false,\"adSummaryOneLiner\":\"\"}\n```"
	res := vision.ParseReply(raw)
	if res.Kind != vision.KindParsed {
		t.Fatalf("Kind = %v, want parsed", res.Kind)
	}
	if res.Observation.BrandGuess != "" {
		t.Errorf("BrandGuess = %q, want empty", res.Observation.BrandGuess)
	}
	if res.Observation.Confidence != vision.ConfidenceCertain {
		t.Errorf("Confidence = %q, want certain", res.Observation.Confidence)
	}
}

func TestParseReply_UnknownConfidenceDefaultsToGuessing(t *testing.T) {
	t.Parallel()

	res := vision.ParseReply(`{"commentary":"x","confidence":"very sure","brandGuess":"none"}`)
	if res.Observation.Confidence != vision.ConfidenceGuessing {
		t.Errorf("Confidence = %q, want guessing", res.Observation.Confidence)
	}
	if res.Observation.BrandGuess != "" {
		t.Errorf("BrandGuess = %q, want empty for \"none\"", res.Observation.BrandGuess)
	}
}

func TestParseReply_Degraded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "plain text", raw: "  That is  clearly a car ad.\n", want: "That is clearly a car ad."},
		{name: "wrong type", raw: `{"commentary": "Cars again.", "isNewAd": "maybe"}`, want: "Cars again."},
		{name: "truncated json", raw: `{"commentary": "Cut off`, want: `{"commentary": "Cut off`},
		{name: "empty", raw: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := vision.ParseReply(tt.raw)
			if res.Kind != vision.KindDegraded {
				t.Fatalf("Kind = %v, want degraded", res.Kind)
			}
			if res.Observation.Commentary != tt.want {
				t.Errorf("Commentary = %q, want %q", res.Observation.Commentary, tt.want)
			}
			if res.Raw != tt.raw {
				t.Errorf("Raw not preserved")
			}
		})
	}
}

func TestParseReply_DegradedIsBounded(t *testing.T) {
	t.Parallel()

	res := vision.ParseReply(strings.Repeat("blah ", 500))
	if n := len([]rune(res.Observation.Commentary)); n > 400 {
		t.Errorf("degraded commentary has %d runes, want <= 400", n)
	}
}

func TestDecode_ErrMalformed(t *testing.T) {
	t.Parallel()

	_, err := vision.Decode("no json here")
	if !errors.Is(err, vision.ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}
