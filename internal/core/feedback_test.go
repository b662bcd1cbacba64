package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSynthesizeFeedbackNamesTheBrokenRule(t *testing.T) {
	msg := SynthesizeFeedback(turnErr(ErrMalformedJSON, "response is not valid JSON"))
	assert.Contains(t, msg, "not valid JSON")
	assert.Contains(t, msg, "conversationComplete")

	msg = SynthesizeFeedback(fieldErr("severity", "11 is out of range"))
	assert.Contains(t, msg, `"severity"`)
	assert.Contains(t, msg, "11 is out of range")
	assert.Contains(t, msg, "null")

	msg = SynthesizeFeedback(turnErr(ErrGeneratorTimeout, "deadline exceeded"))
	assert.Contains(t, msg, "did not arrive")
}
