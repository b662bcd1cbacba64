package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"intake-chatbot/pkg"
)

// Envelope is the validated form of one generator text response. Field
// names mirror the JSON contract the generator is instructed to follow.
type Envelope struct {
	Metadata             pkg.RecordMetadata    `json:"metadata"`
	AdditionalInsights   pkg.Insights          `json:"additionalInsights"`
	IssueSelection       *pkg.IssueSelection   `json:"issueSelection"`
	SuggestedIssue       *pkg.SuggestedLinkage `json:"suggestedIssue"`
	AIMessage            string                `json:"aiMessage"`
	ConversationComplete bool                  `json:"conversationComplete"`
}

// rawEnvelope decodes with loose field types so that a type mismatch can be
// reported as a per-field schema violation instead of a decode failure.
type rawEnvelope struct {
	Metadata             *rawMetadata          `json:"metadata"`
	AdditionalInsights   *pkg.Insights         `json:"additionalInsights"`
	IssueSelection       *pkg.IssueSelection   `json:"issueSelection"`
	SuggestedIssue       *pkg.SuggestedLinkage `json:"suggestedIssue"`
	AIMessage            string                `json:"aiMessage"`
	ConversationComplete bool                  `json:"conversationComplete"`
}

type rawMetadata struct {
	Location    *string      `json:"location"`
	Onset       *string      `json:"onset"`
	Severity    *json.Number `json:"severity"`
	Description string       `json:"description"`
}

const onsetLayout = "2006-01-02"

// Validate checks one raw generator text body against the output contract.
// Surrounding code fences are stripped defensively before parsing. A nil
// field is always permitted: it models "still being elicited", which is
// distinct from "known but invalid".
func Validate(raw string, today time.Time) (*Envelope, *TurnError) {
	body := StripFences(raw)

	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()
	var re rawEnvelope
	if err := dec.Decode(&re); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, fieldErr(typeErr.Field, "expected %s, got %s", typeErr.Type, typeErr.Value)
		}
		return nil, turnErr(ErrMalformedJSON, "response is not valid JSON: %v", err)
	}
	if re.Metadata == nil {
		return nil, fieldErr("metadata", "the metadata object is required")
	}

	env := &Envelope{
		IssueSelection:       re.IssueSelection,
		SuggestedIssue:       re.SuggestedIssue,
		AIMessage:            re.AIMessage,
		ConversationComplete: re.ConversationComplete,
	}
	if re.AdditionalInsights != nil {
		env.AdditionalInsights = *re.AdditionalInsights
	}
	env.Metadata.Description = re.Metadata.Description

	if re.Metadata.Location != nil {
		loc := pkg.Location(*re.Metadata.Location)
		if !pkg.ValidLocation(loc) {
			return nil, fieldErr("location", "%q is not an accepted location; use one of %s",
				*re.Metadata.Location, locationList())
		}
		env.Metadata.Location = &loc
	}
	if re.Metadata.Onset != nil {
		onset, verr := validateOnset(*re.Metadata.Onset, today)
		if verr != nil {
			return nil, verr
		}
		env.Metadata.Onset = &onset
	}
	if re.Metadata.Severity != nil {
		sev, verr := validateSeverity(*re.Metadata.Severity)
		if verr != nil {
			return nil, verr
		}
		env.Metadata.Severity = &sev
	}
	if re.IssueSelection != nil {
		switch re.IssueSelection.Type {
		case pkg.SelectionExisting, pkg.SelectionNew, pkg.SelectionNone:
		default:
			return nil, fieldErr("issueSelection.type",
				"%q is not a selection type; use existing, new or none", re.IssueSelection.Type)
		}
	}
	return env, nil
}

func validateOnset(value string, today time.Time) (string, *TurnError) {
	t, err := time.Parse(onsetLayout, value)
	if err != nil {
		return "", fieldErr("onset", "%q is not a valid YYYY-MM-DD calendar date", value)
	}
	// Compare calendar days, not instants.
	cutoff := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	if t.After(cutoff) {
		return "", fieldErr("onset", "%q is in the future; onset must be today or earlier", value)
	}
	return t.Format(onsetLayout), nil
}

func validateSeverity(num json.Number) (int, *TurnError) {
	v, err := num.Int64()
	if err != nil {
		return 0, fieldErr("severity", "%q is not an integer", num.String())
	}
	if v < 0 || v > 10 {
		return 0, fieldErr("severity", "%d is out of range; severity is an integer from 0 to 10", v)
	}
	return int(v), nil
}

// StripFences removes a surrounding markdown code fence, with or without a
// language tag. Fencing is tolerated, not required, by the contract.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = s[3:]
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the rest of the opening fence line (e.g. "json").
		s = s[idx+1:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func locationList() string {
	parts := make([]string, len(pkg.Locations))
	for i, l := range pkg.Locations {
		parts[i] = string(l)
	}
	return strings.Join(parts, ", ")
}
