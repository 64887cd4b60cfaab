package evidence

import (
	"errors"
	"testing"
)

func photos(n int) []Candidate {
	out := make([]Candidate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Candidate{Kind: KindPhoto})
	}
	return out
}

func videos(n int) []Candidate {
	out := make([]Candidate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Candidate{Kind: KindVideo})
	}
	return out
}

func TestMeetsRequirement_BrokeDuringUseBoundary(t *testing.T) {
	cases := []struct {
		name       string
		candidates []Candidate
		want       bool
	}{
		{"no files", nil, false},
		{"one photo", photos(1), false},
		{"two photos", photos(2), true},
		{"one video", videos(1), true},
		{"one video one photo", append(videos(1), photos(1)...), true},
	}
	for _, tc := range cases {
		if got := MeetsRequirement(FlowBrokeDuringUse, tc.candidates); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestMeetsRequirement_GenericFlow(t *testing.T) {
	if MeetsRequirement(FlowGeneric, nil) {
		t.Error("empty set should not satisfy the generic flow")
	}
	if !MeetsRequirement(FlowGeneric, photos(1)) {
		t.Error("one photo should satisfy the generic flow")
	}
	if !MeetsRequirement(FlowGeneric, videos(1)) {
		t.Error("one video should satisfy the generic flow")
	}
	if MeetsRequirement(FlowGeneric, []Candidate{{Kind: KindOther}}) {
		t.Error("an unsupported file should not count toward the bar")
	}
}

func TestMeetsRequirement_Monotonic(t *testing.T) {
	// Adding a qualifying candidate never turns satisfied into unsatisfied.
	base := videos(1)
	if !MeetsRequirement(FlowBrokeDuringUse, base) {
		t.Fatal("one video should satisfy broke_during_use")
	}
	grown := append(append([]Candidate{}, base...), photos(3)...)
	if !MeetsRequirement(FlowBrokeDuringUse, grown) {
		t.Error("adding photos must not unsatisfy the requirement")
	}
}

func TestCandidateSet_RemoveOnlyQualifier(t *testing.T) {
	set := NewCandidateSet()
	set.Add(Candidate{Kind: KindVideo})
	if !set.Satisfies(FlowBrokeDuringUse) {
		t.Fatal("single video should satisfy broke_during_use")
	}
	set.Remove(0)
	if set.Satisfies(FlowBrokeDuringUse) {
		t.Error("removing the only video must unsatisfy the requirement")
	}
}

func TestCandidateSet_ReleasesPreviews(t *testing.T) {
	released := 0
	set := NewCandidateSet()
	for i := 0; i < 3; i++ {
		c, err := NewCandidate(FileMeta{Filename: "p.jpg", ContentType: "image/jpeg"}, nil, func() { released++ })
		if err != nil {
			t.Fatalf("new candidate: %v", err)
		}
		set.Add(c)
	}

	set.Remove(1)
	if released != 1 {
		t.Fatalf("expected 1 release after Remove, got %d", released)
	}

	set.ReleaseAll()
	if released != 3 {
		t.Fatalf("expected all previews released, got %d", released)
	}
	if set.Len() != 0 {
		t.Fatalf("expected empty set after ReleaseAll, got %d", set.Len())
	}
}

func TestNewCandidate_RejectsUnsupportedAndReleases(t *testing.T) {
	released := false
	_, err := NewCandidate(FileMeta{Filename: "notes.txt", ContentType: "text/plain"}, nil, func() { released = true })
	if err == nil {
		t.Fatal("expected unsupported-kind error")
	}
	var fe *FileError
	if !errors.As(err, &fe) || fe.Filename != "notes.txt" {
		t.Fatalf("expected error attributed to notes.txt, got %v", err)
	}
	if !released {
		t.Error("expected preview release on rejection")
	}
}
