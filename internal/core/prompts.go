package core

import (
	"fmt"
	"strings"
	"time"

	"intake-chatbot/pkg"
)

// prompts.go holds the generator-facing instruction text and the context
// serializers. Keeping the contract in one file makes it easy to tune
// without touching the loop logic.

// SystemContract instructs the generator to run the intake conversation and
// to answer every non-tool turn with a single JSON object in the envelope
// shape the validator enforces.
const SystemContract = `You are a friendly medical intake assistant. You help the user describe one
health complaint at a time; you never diagnose and never give treatment advice. Ask one short,
empathetic follow-up question per turn until you know the location, onset date and severity.

Every reply that is not a tool call MUST be exactly one JSON object with these top-level keys and
no others, with no markdown fencing and no text outside the object:
  "metadata": {"location": string|null, "onset": "YYYY-MM-DD"|null, "severity": integer 0-10|null,
               "description": string}
  "additionalInsights": {"provocation": string|null, "quality": string|null,
                         "radiation": string|null, "timing": string|null}
  "issueSelection": {"type": "existing"|"new"|"none", "existingIssueRef": string,
                     "newIssueName": string, "newIssueStartDate": "YYYY-MM-DD"} or null
  "suggestedIssue": {"isRelated": boolean, "existingIssueRef": string, "newIssueName": string,
                     "confidence": number 0.0-1.0} or null
  "aiMessage": string  (your next message to the user)
  "conversationComplete": boolean

Rules:
- "location" must be one of: %s. Use null until the user has told you.
- "onset" is the calendar date the complaint started; it is never in the future.
- Carry every previously extracted value forward on each turn; the latest object replaces the
  whole record.
- If the ongoing issues listed in the context could plausibly include this complaint, propose it
  in "suggestedIssue" with your confidence, and ask the user before setting "issueSelection".
- If the user mentions a second, separate complaint, queue it with the manage_todos tool and keep
  the conversation on the first one.
- Use the get_history tool when earlier entries would help you ask better questions.
- Set "conversationComplete" to true only when metadata is filled in, any requested insight
  detail has been collected, and "issueSelection" is resolved.`

// InsightsInstruction is appended to the context when the trigger evaluator
// has fired but insight fields are still missing.
const InsightsInstruction = `This complaint needs deeper detail before it can be completed (%s).
Keep eliciting the four additionalInsights fields (provocation, quality, radiation, timing) one
question at a time, and keep conversationComplete false until they are filled.`

// SystemContractText renders the contract with the location vocabulary
// substituted in.
func SystemContractText() string {
	return fmt.Sprintf(SystemContract, locationList())
}

// BuildContextSummary serializes the active issues and recent committed
// records into the secondary system message sent with every generator call.
func BuildContextSummary(issues []pkg.Issue, recent []pkg.Record, today time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Today is %s.\n", today.Format(onsetLayout))

	if len(issues) == 0 {
		sb.WriteString("The user has no ongoing issues.\n")
	} else {
		sb.WriteString("Ongoing issues:\n")
		for _, issue := range issues {
			fmt.Fprintf(&sb, "- %q (id %s), started %s, %d linked entr%s\n",
				issue.Name, issue.ID, issue.StartDate,
				len(issue.MemberRecordIDs), plural(len(issue.MemberRecordIDs), "y", "ies"))
		}
	}

	if len(recent) == 0 {
		sb.WriteString("No recent entries on file.")
	} else {
		sb.WriteString("Recent entries:\n")
		sb.WriteString(digestRecords(recent))
	}
	return sb.String()
}
