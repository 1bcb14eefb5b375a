package model

import "maps"

// Clone returns a deep copy of the attributes. Extra values are copied shallowly.
func (a Attributes) Clone() Attributes {
	out := a
	out.MoodTerms = append([]string(nil), a.MoodTerms...)
	if a.Extra != nil {
		out.Extra = maps.Clone(a.Extra)
	}
	return out
}

// Clone returns a deep copy of the signature.
func (s TrendSignature) Clone() TrendSignature {
	out := s
	out.Sources = append([]string(nil), s.Sources...)
	out.CanonicalAttributes = s.CanonicalAttributes.Clone()
	if s.AggregateEngagement.PerSource != nil {
		out.AggregateEngagement.PerSource = maps.Clone(s.AggregateEngagement.PerSource)
	}
	return out
}

// Clone returns a deep copy of the request.
func (r GenerationRequest) Clone() GenerationRequest {
	out := r
	out.MoodTerms = append([]string(nil), r.MoodTerms...)
	return out
}

// Clone returns a deep copy of the variant.
func (v Variant) Clone() Variant {
	out := v
	out.Parameters = v.Parameters.Clone()
	if v.PlatformAdjustments != nil {
		out.PlatformAdjustments = make(map[string]PlatformAdjustment, len(v.PlatformAdjustments))
		for k, adj := range v.PlatformAdjustments {
			adj.Tags = append([]string(nil), adj.Tags...)
			out.PlatformAdjustments[k] = adj
		}
	}
	return out
}

// Clone returns a deep copy of the opportunity.
func (o Opportunity) Clone() Opportunity {
	out := o
	out.TargetSources = append([]string(nil), o.TargetSources...)
	out.GenerationRequest = o.GenerationRequest.Clone()
	if o.Variants != nil {
		out.Variants = make([]Variant, len(o.Variants))
		for i, v := range o.Variants {
			out.Variants[i] = v.Clone()
		}
	}
	if o.Deliveries != nil {
		out.Deliveries = maps.Clone(o.Deliveries)
	}
	return out
}
