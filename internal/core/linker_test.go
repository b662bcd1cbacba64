package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake-chatbot/pkg"
)

func testIssues() []pkg.Issue {
	return []pkg.Issue{
		{ID: "iss-1", Name: "Chronic Migraines", Status: pkg.IssueActive, StartDate: "2025-01-15"},
		{ID: "iss-2", Name: "Lower Back Pain", Status: pkg.IssueActive, StartDate: "2025-06-01"},
	}
}

func TestResolveExistingByID(t *testing.T) {
	l := NewLinker(0)
	res, verr := l.Resolve(pkg.IssueSelection{Type: pkg.SelectionExisting, ExistingIssueRef: "iss-2"},
		testIssues(), testToday)
	require.Nil(t, verr)
	assert.Equal(t, pkg.SelectionExisting, res.Type)
	assert.Equal(t, "Lower Back Pain", res.Existing.Name)
}

func TestResolveExistingByNameCaseInsensitive(t *testing.T) {
	l := NewLinker(0)
	res, verr := l.Resolve(pkg.IssueSelection{Type: pkg.SelectionExisting, ExistingIssueRef: "chronic migraines"},
		testIssues(), testToday)
	require.Nil(t, verr)
	assert.Equal(t, "iss-1", res.Existing.ID)
}

func TestResolveExistingMissIsUnresolvedEntity(t *testing.T) {
	l := NewLinker(0)
	_, verr := l.Resolve(pkg.IssueSelection{Type: pkg.SelectionExisting, ExistingIssueRef: "knee trouble"},
		testIssues(), testToday)
	require.NotNil(t, verr)
	assert.Equal(t, ErrUnresolvedEntity, verr.Kind)
}

func TestResolveNewIssue(t *testing.T) {
	l := NewLinker(0)
	res, verr := l.Resolve(pkg.IssueSelection{
		Type: pkg.SelectionNew, NewIssueName: "Seasonal Allergies", NewIssueStartDate: "2025-11-01",
	}, nil, testToday)
	require.Nil(t, verr)
	require.NotNil(t, res.NewIssue)
	assert.NotEmpty(t, res.NewIssue.ID)
	assert.Equal(t, "Seasonal Allergies", res.NewIssue.Name)
	assert.Equal(t, pkg.IssueActive, res.NewIssue.Status)
	assert.Equal(t, "2025-11-01", res.NewIssue.StartDate)
}

func TestResolveNewIssueMissingFields(t *testing.T) {
	l := NewLinker(0)
	cases := []pkg.IssueSelection{
		{Type: pkg.SelectionNew, NewIssueStartDate: "2025-11-01"},
		{Type: pkg.SelectionNew, NewIssueName: "Allergies"},
		{Type: pkg.SelectionNew, NewIssueName: "Allergies", NewIssueStartDate: "last month"},
	}
	for _, sel := range cases {
		_, verr := l.Resolve(sel, nil, testToday)
		require.NotNil(t, verr)
		assert.Equal(t, ErrMissingIssueFields, verr.Kind)
	}
}

func TestResolveNone(t *testing.T) {
	l := NewLinker(0)
	res, verr := l.Resolve(pkg.IssueSelection{Type: pkg.SelectionNone}, testIssues(), testToday)
	require.Nil(t, verr)
	assert.Equal(t, pkg.SelectionNone, res.Type)
	assert.Nil(t, res.Existing)
	assert.Nil(t, res.NewIssue)
}

func TestCheckSuggestionShape(t *testing.T) {
	l := NewLinker(0)

	assert.Nil(t, l.CheckSuggestion(nil))
	assert.Nil(t, l.CheckSuggestion(&pkg.SuggestedLinkage{IsRelated: true, Confidence: 1.2}))
	assert.Nil(t, l.CheckSuggestion(&pkg.SuggestedLinkage{IsRelated: true, Confidence: 0.9}))

	ok := l.CheckSuggestion(&pkg.SuggestedLinkage{
		IsRelated: true, ExistingIssueRef: "iss-1", Confidence: 0.9,
	})
	require.NotNil(t, ok)
	assert.Equal(t, "iss-1", ok.ExistingIssueRef)
}

func TestStrongHintThreshold(t *testing.T) {
	l := NewLinker(0)
	assert.Equal(t, DefaultLinkConfidenceHint, l.ConfidenceHint)

	s := &pkg.SuggestedLinkage{IsRelated: true, ExistingIssueRef: "iss-1", Confidence: 0.7}
	assert.False(t, l.StrongHint(s))
	s.Confidence = 0.71
	assert.True(t, l.StrongHint(s))
	s.IsRelated = false
	assert.False(t, l.StrongHint(s))
}
