package core

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"intake-chatbot/pkg"
)

// DefaultLinkConfidenceHint is the confidence above which a suggested
// linkage is presented as a strong hint. It is advisory only and is
// overridable via the linker.confidence_hint config key.
const DefaultLinkConfidenceHint = 0.7

// Linker matches completed records against long-running issues. Suggestion
// checking and selection resolution are deliberately separate: suggestions
// are generator-supplied and advisory, selections are user-authoritative.
type Linker struct {
	ConfidenceHint float64
}

// NewLinker constructs a Linker; hint <= 0 falls back to the default.
func NewLinker(hint float64) *Linker {
	if hint <= 0 {
		hint = DefaultLinkConfidenceHint
	}
	return &Linker{ConfidenceHint: hint}
}

// CheckSuggestion shape-validates a generator-supplied linkage. The
// matching heuristic itself is delegated to the generator's reasoning over
// the issue summaries it was given; this side only rejects unusable shapes.
// Returns nil when the suggestion cannot be used.
func (l *Linker) CheckSuggestion(s *pkg.SuggestedLinkage) *pkg.SuggestedLinkage {
	if s == nil {
		return nil
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return nil
	}
	if s.IsRelated && s.ExistingIssueRef == "" && s.NewIssueName == "" {
		return nil
	}
	out := *s
	return &out
}

// StrongHint reports whether the suggestion clears the confidence
// threshold. A strong hint is still never authoritative.
func (l *Linker) StrongHint(s *pkg.SuggestedLinkage) bool {
	return s != nil && s.IsRelated && s.Confidence > l.ConfidenceHint
}

// Resolution is the concrete outcome of resolving an issue selection:
// either an existing issue, a newly constructed one, or no linkage at all.
type Resolution struct {
	Type     pkg.SelectionType
	Existing *pkg.Issue
	NewIssue *pkg.Issue
}

// Resolve turns an issue selection into a concrete linkage. For type
// existing the reference is matched by exact id first, then by
// case-insensitive exact name; no match is an unresolved-entity-reference
// and the caller must re-prompt rather than silently drop the linkage.
// For type new, both a name and a start date are mandatory; their absence
// is a programming-contract violation, not something to send back to the
// generator.
func (l *Linker) Resolve(sel pkg.IssueSelection, issues []pkg.Issue, now time.Time) (*Resolution, *TurnError) {
	switch sel.Type {
	case pkg.SelectionNone:
		return &Resolution{Type: pkg.SelectionNone}, nil

	case pkg.SelectionExisting:
		ref := strings.TrimSpace(sel.ExistingIssueRef)
		if ref == "" {
			return nil, turnErr(ErrUnresolvedEntity, "selection referenced no issue")
		}
		for i := range issues {
			if issues[i].ID == ref {
				return &Resolution{Type: pkg.SelectionExisting, Existing: &issues[i]}, nil
			}
		}
		for i := range issues {
			if strings.EqualFold(strings.TrimSpace(issues[i].Name), ref) {
				return &Resolution{Type: pkg.SelectionExisting, Existing: &issues[i]}, nil
			}
		}
		return nil, turnErr(ErrUnresolvedEntity, "no issue matches %q by id or name", ref)

	case pkg.SelectionNew:
		name := strings.TrimSpace(sel.NewIssueName)
		start := strings.TrimSpace(sel.NewIssueStartDate)
		if name == "" || start == "" {
			return nil, turnErr(ErrMissingIssueFields,
				"a new issue needs both a name and a start date")
		}
		if _, err := time.Parse(onsetLayout, start); err != nil {
			return nil, turnErr(ErrMissingIssueFields,
				"new issue start date %q is not a valid YYYY-MM-DD date", start)
		}
		return &Resolution{
			Type: pkg.SelectionNew,
			NewIssue: &pkg.Issue{
				ID:        uuid.NewString(),
				Name:      name,
				Status:    pkg.IssueActive,
				StartDate: start,
				CreatedAt: now,
			},
		}, nil

	default:
		return nil, turnErr(ErrUnresolvedEntity, "unknown selection type %q", sel.Type)
	}
}
