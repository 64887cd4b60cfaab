package evidence

import (
	"errors"
	"fmt"
)

// ErrUnsupportedKind rejects files that classify as neither photo nor video.
var ErrUnsupportedKind = errors.New("evidence: unsupported file type")

// Candidate is a client-local file pending upload. It is never persisted;
// it exists from selection until it is removed or the batch is submitted.
type Candidate struct {
	Meta FileMeta
	Kind Kind
	Data []byte

	// OriginalSize and CompressedSize are populated for photos after
	// client-side compression so operators can audit effectiveness.
	OriginalSize   int64
	CompressedSize int64

	release func()
}

// NewCandidate classifies the file and attaches an optional preview-release
// hook. Files classifying as KindOther are rejected with the offending
// filename in the error.
func NewCandidate(meta FileMeta, data []byte, release func()) (Candidate, error) {
	kind := Classify(meta)
	if kind == KindOther {
		if release != nil {
			release()
		}
		return Candidate{}, &FileError{Filename: meta.Filename, Err: ErrUnsupportedKind}
	}
	return Candidate{
		Meta:         meta,
		Kind:         kind,
		Data:         data,
		OriginalSize: meta.Size,
		release:      release,
	}, nil
}

// Release frees the local preview handle. Safe to call more than once.
func (c *Candidate) Release() {
	if c.release != nil {
		c.release()
		c.release = nil
	}
}

// CandidateSet is the ordered pending-upload collection behind the evidence
// step. Add and Remove keep the sufficiency evaluation current.
type CandidateSet struct {
	items []Candidate
}

func NewCandidateSet() *CandidateSet {
	return &CandidateSet{}
}

func (s *CandidateSet) Add(c Candidate) {
	s.items = append(s.items, c)
}

// Remove drops the candidate at index i and releases its preview handle.
func (s *CandidateSet) Remove(i int) {
	if i < 0 || i >= len(s.items) {
		return
	}
	s.items[i].Release()
	s.items = append(s.items[:i], s.items[i+1:]...)
}

// ReleaseAll frees every pending preview handle. Called on every dialog
// exit path, including cancellation and submit failure.
func (s *CandidateSet) ReleaseAll() {
	for i := range s.items {
		s.items[i].Release()
	}
	s.items = nil
}

func (s *CandidateSet) Len() int {
	return len(s.items)
}

func (s *CandidateSet) Items() []Candidate {
	return s.items
}

// Satisfies re-evaluates the sufficiency rule for the flow against the
// current pending set.
func (s *CandidateSet) Satisfies(flow FlowKind) bool {
	return MeetsRequirement(flow, s.items)
}

// FileError attributes a failure to a single file so a batch error reads
// "<filename>: <reason>".
type FileError struct {
	Filename string
	Err      error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Filename, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}
