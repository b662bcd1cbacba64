package core

import "intake-chatbot/pkg"

// Phase is the explicit finite state of one intake conversation.
type Phase string

const (
	PhaseEliciting        Phase = "eliciting"
	PhaseAwaitingInsights Phase = "awaitingInsights"
	PhaseAwaitingLinkage  Phase = "awaitingLinkage"
	PhaseComplete         Phase = "complete"
)

// Effect is a side-effect intent produced by a phase transition. The
// session executes effects; the transition function stays pure.
type Effect string

const (
	EffectPersistDraft Effect = "persist-draft"
	EffectCommitRecord Effect = "commit-record"
	EffectConsultQueue Effect = "consult-todo-queue"
)

// NextPhase computes the next conversation phase and its side-effect
// intents from the prior phase and a successful turn outcome. The draft is
// persisted on every incomplete turn; commit and queue consultation happen
// exactly once, on completion.
func NextPhase(prev Phase, turn *TurnResult) (Phase, []Effect) {
	if turn.Complete {
		return PhaseComplete, []Effect{EffectCommitRecord, EffectConsultQueue}
	}
	if turn.InsightsOutstanding {
		return PhaseAwaitingInsights, []Effect{EffectPersistDraft}
	}
	if metadataFilled(turn.Record) && turn.Selection == nil {
		return PhaseAwaitingLinkage, []Effect{EffectPersistDraft}
	}
	return PhaseEliciting, []Effect{EffectPersistDraft}
}

func metadataFilled(meta pkg.RecordMetadata) bool {
	return meta.Location != nil && meta.Onset != nil && meta.Severity != nil
}
