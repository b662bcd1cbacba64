package core

import "fmt"

// feedback.go synthesizes the corrective instruction re-injected into the
// dialogue after a validation failure, so the generator can repair its own
// output on the next attempt.

// SynthesizeFeedback turns a validation error into a natural-language
// correction message. The message names the broken rule and restates the
// required output shape; it is appended to history after the failed raw
// output so the generator sees both.
func SynthesizeFeedback(verr *TurnError) string {
	switch verr.Kind {
	case ErrMalformedJSON:
		return "Your previous reply was not valid JSON. Respond again with a single JSON object " +
			"containing exactly the keys metadata, additionalInsights, issueSelection, " +
			"suggestedIssue, aiMessage and conversationComplete. Do not wrap it in markdown fences " +
			"and do not add any text outside the object."
	case ErrSchemaViolation:
		return fmt.Sprintf("Your previous reply did not follow the output contract: field %q was invalid (%s). "+
			"Correct that field and respond again with the full JSON object. Use null for any value "+
			"you have not yet learned from the user.", verr.Field, verr.Message)
	case ErrGeneratorTimeout, ErrGeneratorError:
		return "Your previous reply did not arrive. Respond again with the full JSON object " +
			"required by the output contract."
	default:
		return fmt.Sprintf("Your previous reply could not be processed (%s). Respond again with the "+
			"full JSON object required by the output contract.", verr.Message)
	}
}
