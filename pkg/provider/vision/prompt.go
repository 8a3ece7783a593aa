package vision

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DefaultInstruction is the system instruction sent with every analysis
// unless [Request.Instruction] overrides it.
const DefaultInstruction = `You are a sharp, funny commentator watching television advertisements live with a viewer.
You receive one still frame at a time plus a short summary of what you said before.
Work out what is being advertised as early as possible, call out advertising tropes,
and keep the commentary short: one to three sentences.

Reply with a single JSON object and nothing else:
{
  "commentary": string,          // what you say to the viewer about this frame
  "theory": string,              // your current theory of what the ad is selling
  "brandGuess": string | null,   // the brand, if you have one
  "confidence": "guessing" | "suspicious" | "certain",
  "tropesDetected": [string],    // e.g. "slow-motion pour", "fake scientist"
  "isNewAd": boolean,            // true if this frame starts a different ad
  "adSummaryOneLiner": string    // when isNewAd is true: a one-line verdict on the ad that just ended
}`

// UserPrompt renders the per-frame user text from the rolling context.
func UserPrompt(rollingContext string) string {
	rollingContext = strings.TrimSpace(rollingContext)
	if rollingContext == "" {
		return "This is the first frame. Nothing has been said yet."
	}
	return fmt.Sprintf("What you have said so far:\n%s\n\nHere is the next frame.", rollingContext)
}

// InstructionOrDefault returns r.Instruction or [DefaultInstruction].
func (r Request) InstructionOrDefault() string {
	if strings.TrimSpace(r.Instruction) != "" {
		return r.Instruction
	}
	return DefaultInstruction
}

// DataURL encodes the request frame as a base64 data URL, the form accepted by
// OpenAI-compatible image content parts.
func (r Request) DataURL() string {
	mime := r.Frame.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(r.Frame.Data)
}
