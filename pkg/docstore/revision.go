package docstore

import "fmt"

// RevisionHint states the precondition a Put or Delete must satisfy.
// The zero value is an unconditional write.
type RevisionHint struct {
	// Rev is the revision the stored document must have.
	Rev string

	// Check enables the precondition. With Check set and an empty Rev the
	// document must not exist.
	Check bool
}

// Overwrite returns a hint that writes or deletes regardless of the stored revision.
func Overwrite() RevisionHint {
	return RevisionHint{}
}

// IfMatch returns a hint that only succeeds when the stored revision equals rev.
func IfMatch(rev string) RevisionHint {
	return RevisionHint{Rev: rev, Check: true}
}

// IfAbsent returns a hint that only succeeds when no document exists.
func IfAbsent() RevisionHint {
	return RevisionHint{Check: true}
}

// Unconditional reports whether the hint carries no precondition.
func (h RevisionHint) Unconditional() bool {
	return !h.Check
}

// RequiresAbsent reports whether the hint demands that the document does not exist.
func (h RevisionHint) RequiresAbsent() bool {
	return h.Check && h.Rev == ""
}

// Satisfied reports whether a document with the given current revision
// (empty when absent) meets the precondition.
func (h RevisionHint) Satisfied(current string, exists bool) bool {
	switch {
	case !h.Check:
		return true
	case h.Rev == "":
		return !exists
	default:
		return exists && current == h.Rev
	}
}

// String implements fmt.Stringer.
func (h RevisionHint) String() string {
	switch {
	case !h.Check:
		return "overwrite"
	case h.Rev == "":
		return "if-absent"
	default:
		return fmt.Sprintf("if-match(%s)", h.Rev)
	}
}
