package session

import (
	"fmt"
	"strings"

	"github.com/MrWong99/adroast/internal/session/brandmatch"
	"github.com/MrWong99/adroast/pkg/provider/vision"
)

// Decision is a [Policy] verdict for one observation.
type Decision struct {
	// Boundary is true when the observation closes the running segment.
	Boundary bool

	// OneLiner is the closing summary for the finalized record. When empty
	// [Finalize] falls back to the last commentary line.
	OneLiner string

	// Carry moves the observation into the new segment instead of the one
	// being closed.
	Carry bool
}

// Policy decides when the thing being watched has changed.
//
// Implementations must not modify seg.
type Policy interface {
	Decide(seg *Segment, obs vision.Observation) Decision
}

// PolicyName selects a built-in policy by name.
type PolicyName string

const (
	// PolicyModel trusts the model's own boundary flag.
	PolicyModel PolicyName = "model"

	// PolicyBrand closes a segment when a certain brand guess differs from
	// the sticky brand.
	PolicyBrand PolicyName = "brand"

	// PolicyOff never closes a segment; only stopping the loop does.
	PolicyOff PolicyName = "off"
)

// IsValid reports whether n names a built-in policy.
func (n PolicyName) IsValid() bool {
	switch n {
	case PolicyModel, PolicyBrand, PolicyOff:
		return true
	}
	return false
}

// NewPolicy returns the built-in policy called name. An empty name selects
// [PolicyModel].
func NewPolicy(name PolicyName) (Policy, error) {
	switch name {
	case "", PolicyModel:
		return ModelSignal{}, nil
	case PolicyBrand:
		return &BrandChange{Matcher: brandmatch.New()}, nil
	case PolicyOff:
		return Off{}, nil
	}
	return nil, fmt.Errorf("session: unknown segmentation policy %q", name)
}

// ModelSignal ends a segment when the model flags a new ad and supplies a
// summary of the one that just ended. A flag without a summary is ignored.
type ModelSignal struct{}

// Decide implements [Policy].
func (ModelSignal) Decide(_ *Segment, obs vision.Observation) Decision {
	summary := strings.TrimSpace(obs.BoundarySummary)
	if !obs.IsBoundary || summary == "" {
		return Decision{}
	}
	return Decision{Boundary: true, OneLiner: summary}
}

// Off never ends a segment.
type Off struct{}

// Decide implements [Policy].
func (Off) Decide(*Segment, vision.Observation) Decision { return Decision{} }

// BrandChange ends a segment when the model is certain about a brand that
// does not fuzzily match the sticky brand. The triggering observation opens
// the new segment; its boundary summary, if any, closes the old one.
type BrandChange struct {
	Matcher *brandmatch.Matcher
}

// Decide implements [Policy].
func (p *BrandChange) Decide(seg *Segment, obs vision.Observation) Decision {
	guess := strings.TrimSpace(obs.BrandGuess)
	if obs.Confidence != vision.ConfidenceCertain || guess == "" || seg.Brand == "" {
		return Decision{}
	}
	m := p.Matcher
	if m == nil {
		m = brandmatch.New()
	}
	if m.Same(seg.Brand, guess) {
		return Decision{}
	}
	return Decision{Boundary: true, Carry: true, OneLiner: strings.TrimSpace(obs.BoundarySummary)}
}
