package pkg

import "time"

// Role describes who authored an utterance. Tool results are appended as
// user-role utterances so the generator sees them as conversational input.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Utterance is one turn of the conversation. Utterances are immutable once
// appended; the ordered sequence forms the conversation history.
type Utterance struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Location is the fixed body-location vocabulary a record may carry.
type Location string

const (
	LocationHead         Location = "head"
	LocationNeck         Location = "neck"
	LocationChest        Location = "chest"
	LocationAbdomen      Location = "abdomen"
	LocationUpperAbdomen Location = "upper_abdomen"
	LocationLowerAbdomen Location = "lower_abdomen"
	LocationBack         Location = "back"
	LocationPelvis       Location = "pelvis"
	LocationArm          Location = "arm"
	LocationLeg          Location = "leg"
	LocationSkin         Location = "skin"
	LocationGeneral      Location = "general"
)

// Locations lists every accepted location value, used by the validator and
// by the prompt contract sent to the generator.
var Locations = []Location{
	LocationHead, LocationNeck, LocationChest,
	LocationAbdomen, LocationUpperAbdomen, LocationLowerAbdomen,
	LocationBack, LocationPelvis, LocationArm, LocationLeg,
	LocationSkin, LocationGeneral,
}

// ValidLocation reports whether v is part of the location vocabulary.
func ValidLocation(v Location) bool {
	for _, l := range Locations {
		if l == v {
			return true
		}
	}
	return false
}

// CriticalLocation reports whether the location warrants deeper detail
// collection on its own (head, chest, abdomen and its sub-locations).
func CriticalLocation(v Location) bool {
	switch v {
	case LocationHead, LocationChest, LocationAbdomen,
		LocationUpperAbdomen, LocationLowerAbdomen:
		return true
	}
	return false
}

// RecordMetadata is the core of the extracted record. Every field is
// nullable until elicited: nil models "not yet known", which is distinct
// from "known but invalid".
type RecordMetadata struct {
	Location    *Location `json:"location"`
	Onset       *string   `json:"onset"`    // YYYY-MM-DD, never in the future
	Severity    *int      `json:"severity"` // 0..10
	Description string    `json:"description,omitempty"`
}

// Insights holds the four optional deep-detail fields collected only when
// the trigger evaluator fires.
type Insights struct {
	Provocation *string `json:"provocation"`
	Quality     *string `json:"quality"`
	Radiation   *string `json:"radiation"`
	Timing      *string `json:"timing"`
}

// Empty reports whether no insight field has been collected yet.
func (i Insights) Empty() bool {
	return i.Provocation == nil && i.Quality == nil && i.Radiation == nil && i.Timing == nil
}

// Record is a committed intake record. IssueID is set when the record was
// linked to an issue at commit time.
type Record struct {
	ID        string         `json:"id"`
	Metadata  RecordMetadata `json:"metadata"`
	Insights  Insights       `json:"insights"`
	IssueID   *string        `json:"issue_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// TodoItem is a secondary subject mentioned in one utterance, queued for a
// conversation of its own. Items are never mutated in place.
type TodoItem struct {
	ID          string    `json:"id"`
	SubjectText string    `json:"subject_text"`
	CreatedAt   time.Time `json:"created_at"`
}

// IssueStatus is the lifecycle state of an issue.
type IssueStatus string

const (
	IssueActive   IssueStatus = "active"
	IssueResolved IssueStatus = "resolved"
)

// Issue is a long-running grouping of related records. EndDate, when
// present, is never before StartDate.
type Issue struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Status          IssueStatus `json:"status"`
	StartDate       string      `json:"start_date"` // YYYY-MM-DD
	EndDate         *string     `json:"end_date,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	MemberRecordIDs []string    `json:"member_record_ids"`
}

// SelectionType classifies how a completed record relates to the issue set.
type SelectionType string

const (
	SelectionExisting SelectionType = "existing"
	SelectionNew      SelectionType = "new"
	SelectionNone     SelectionType = "none"
)

// IssueSelection is the resolved outcome of linking a completed record to
// zero or one issue. It must be fully resolved before a record commits.
type IssueSelection struct {
	Type              SelectionType `json:"type"`
	ExistingIssueRef  string        `json:"existingIssueRef,omitempty"`
	NewIssueName      string        `json:"newIssueName,omitempty"`
	NewIssueStartDate string        `json:"newIssueStartDate,omitempty"`
}

// SuggestedLinkage is the generator's advisory guess at issue membership.
// It is never authoritative and is always superseded by an IssueSelection.
type SuggestedLinkage struct {
	IsRelated        bool    `json:"isRelated"`
	ExistingIssueRef string  `json:"existingIssueRef,omitempty"`
	NewIssueName     string  `json:"newIssueName,omitempty"`
	Confidence       float64 `json:"confidence"` // 0.0..1.0
}

// DraftSnapshot is a persisted copy of in-flight conversational state.
// There is a single slot: the snapshot is overwritten whole every turn
// while the record is incomplete and cleared on commit or discard.
type DraftSnapshot struct {
	History   []Utterance       `json:"history"`
	Record    RecordMetadata    `json:"record"`
	Insights  Insights          `json:"insights"`
	TodoIDs   []string          `json:"todo_ids"`
	Suggested *SuggestedLinkage `json:"suggested,omitempty"`
	Selection *IssueSelection   `json:"selection,omitempty"`
	Complete  bool              `json:"complete"`
	SavedAt   time.Time         `json:"saved_at"`
}
