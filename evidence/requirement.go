package evidence

// FlowKind refines a dispute category purely to select the evidence
// sufficiency rule. Most flows share the generic one-file minimum.
type FlowKind string

const (
	FlowGeneric        FlowKind = "generic"
	FlowBrokeDuringUse FlowKind = "broke_during_use"
)

// MeetsRequirement reports whether the collected candidates satisfy the
// minimum evidence bar for the flow. The rule table mirrors the server's
// rejection rules exactly:
//
//	broke_during_use: at least one video, or at least two photos
//	every other flow: at least one accepted file
func MeetsRequirement(flow FlowKind, candidates []Candidate) bool {
	var photos, videos, accepted int
	for _, c := range candidates {
		switch c.Kind {
		case KindPhoto:
			photos++
			accepted++
		case KindVideo:
			videos++
			accepted++
		}
	}

	if flow == FlowBrokeDuringUse {
		return videos >= 1 || photos >= 2
	}
	return accepted >= 1
}

// RequirementHint returns the user-facing sufficiency message for the flow.
// A submission blocked on the evidence bar surfaces this exact text, the
// same string used for the inline hint.
func RequirementHint(flow FlowKind) string {
	if flow == FlowBrokeDuringUse {
		return "Add at least one video or at least two photos showing the damage"
	}
	return "Add at least one photo, video, or screenshot supporting your claim"
}
