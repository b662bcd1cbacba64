package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"intake-chatbot/internal/db"
	"intake-chatbot/internal/draft"
	"intake-chatbot/internal/todo"
	"intake-chatbot/pkg"
)

// recentRecordContext is how many committed records are serialized into the
// generator's context summary each turn.
const recentRecordContext = 5

// TurnReply is what the session hands back to its host after one turn.
type TurnReply struct {
	AssistantReply string              `json:"assistant_reply"`
	Phase          Phase               `json:"phase"`
	Complete       bool                `json:"complete"`
	Record         pkg.RecordMetadata  `json:"record"`
	Insights       pkg.Insights        `json:"insights"`
	Suggested      *pkg.SuggestedLinkage `json:"suggested,omitempty"`
	CommittedID    string              `json:"committed_id,omitempty"`
	NextSubject    *pkg.TodoItem       `json:"next_subject,omitempty"`
	Notes          []string            `json:"notes,omitempty"`
}

// Session owns one conversation: the history, the in-progress record and
// the phase. There is a single active conversation at a time, matching the
// single draft slot. Durable collections are touched only at commit time;
// the draft is the only thing mutated mid-conversation, always overwritten
// whole.
type Session struct {
	Orch   *Orchestrator
	Store  db.Store
	Drafts *draft.Store
	Todos  *todo.Queue
	Linker *Linker
	Log    *zap.Logger
	Now    func() time.Time

	// OnCommit, when set, is invoked with the committed record id
	// (used for the Postgres NOTIFY fan-out).
	OnCommit func(ctx context.Context, recordID string)

	history   []pkg.Utterance
	record    pkg.RecordMetadata
	insights  pkg.Insights
	suggested *pkg.SuggestedLinkage
	selection *pkg.IssueSelection
	phase     Phase
}

// NewSession constructs an idle session in the eliciting phase.
func NewSession(orch *Orchestrator, store db.Store, drafts *draft.Store, todos *todo.Queue,
	linker *Linker, log *zap.Logger) *Session {
	return &Session{
		Orch:   orch,
		Store:  store,
		Drafts: drafts,
		Todos:  todos,
		Linker: linker,
		Log:    log,
		Now:    time.Now,
		phase:  PhaseEliciting,
	}
}

// Resume restores in-flight state from the draft slot. It reports whether
// a resumable draft existed; an expired draft is cleared by the store and
// never surfaced.
func (s *Session) Resume(ctx context.Context) (bool, error) {
	snap, err := s.Drafts.Load(ctx)
	if err != nil {
		return false, err
	}
	if snap == nil {
		return false, nil
	}
	s.history = snap.History
	s.record = snap.Record
	s.insights = snap.Insights
	s.suggested = snap.Suggested
	s.selection = snap.Selection
	s.phase = PhaseEliciting
	if snap.Complete {
		s.phase = PhaseComplete
	}
	s.Log.Info("resumed draft conversation",
		zap.Int("history_len", len(s.history)), zap.Time("saved_at", snap.SavedAt))
	return true, nil
}

// Discard drops the in-flight conversation and its draft.
func (s *Session) Discard(ctx context.Context) error {
	s.reset()
	return s.Drafts.Clear(ctx)
}

// History returns the visible conversation history.
func (s *Session) History() []pkg.Utterance { return s.history }

// Phase returns the current conversation phase.
func (s *Session) Phase() Phase { return s.phase }

// HandleMessage advances the conversation by one user utterance. On a
// turn-level failure the utterance is rolled back from visible history and
// the error carries the last human-readable message for the caller.
func (s *Session) HandleMessage(ctx context.Context, text string) (*TurnReply, error) {
	activeStatus := pkg.IssueActive
	issues, err := s.Store.ListIssues(ctx, &activeStatus)
	if err != nil {
		return nil, err
	}
	recent, err := s.Store.QueryRecords(ctx, db.RecordQuery{Limit: recentRecordContext})
	if err != nil {
		return nil, err
	}

	// While insight collection is outstanding, remind the generator which
	// condition fired so it keeps eliciting the four detail fields.
	var extra string
	if s.phase == PhaseAwaitingInsights {
		if trig := EvaluateTrigger(s.record, s.now()); trig.Fires {
			extra = fmt.Sprintf(InsightsInstruction, strings.Join(trig.Rationale, "; "))
		}
	}

	priorHistory := s.history
	turn, newHistory, err := s.Orch.Advance(ctx, s.history, text, issues, recent, extra)
	if err != nil {
		// Advance already returned the unmodified history; nothing to
		// roll back here beyond not adopting any state.
		return nil, err
	}

	// A successful turn replaces the full extracted record, never a
	// partial merge.
	s.history = newHistory
	s.record = turn.Record
	s.insights = turn.Insights
	s.suggested = turn.Suggested
	s.selection = turn.Selection

	phase, effects := NextPhase(s.phase, turn)
	reply := &TurnReply{
		AssistantReply: turn.AssistantReply,
		Complete:       turn.Complete,
		Record:         turn.Record,
		Insights:       turn.Insights,
		Suggested:      turn.Suggested,
		Notes:          turn.Notes,
	}

	for _, effect := range effects {
		switch effect {
		case EffectPersistDraft:
			if err := s.persistDraft(ctx, false); err != nil {
				return nil, err
			}
		case EffectCommitRecord:
			committedID, cerr := s.commit(ctx, issues)
			if cerr != nil {
				// Linkage could not be resolved: roll the utterance
				// back and drop to awaiting-linkage so the user can
				// clarify and retry cleanly.
				s.history = priorHistory
				s.selection = nil
				s.phase = PhaseAwaitingLinkage
				return nil, cerr
			}
			reply.CommittedID = committedID
		case EffectConsultQueue:
			next, nerr := s.Todos.Next(ctx)
			if nerr != nil {
				return nil, nerr
			}
			reply.NextSubject = next
		}
	}

	s.phase = phase
	reply.Phase = phase
	if phase == PhaseComplete {
		s.reset()
	}
	return reply, nil
}

// commit resolves the issue selection, writes the record, clears the draft
// and announces the commit. Durable collections are mutated only here,
// never mid-turn.
func (s *Session) commit(ctx context.Context, issues []pkg.Issue) (string, error) {
	if s.selection == nil {
		// The orchestrator gates completion on a present selection, so
		// reaching this without one is a programming-contract violation.
		return "", turnErr(ErrMissingIssueFields, "record completed without an issue selection")
	}
	now := s.now()
	resolution, verr := s.Linker.Resolve(*s.selection, issues, now)
	if verr != nil {
		return "", verr
	}

	var issueID *string
	switch resolution.Type {
	case pkg.SelectionExisting:
		issueID = &resolution.Existing.ID
	case pkg.SelectionNew:
		if err := s.Store.PutIssue(ctx, resolution.NewIssue); err != nil {
			return "", err
		}
		issueID = &resolution.NewIssue.ID
	}

	rec := &pkg.Record{
		ID:        uuid.NewString(),
		Metadata:  s.record,
		Insights:  s.insights,
		IssueID:   issueID,
		CreatedAt: now,
	}
	if err := s.Store.CommitRecord(ctx, rec); err != nil {
		return "", err
	}
	if err := s.Drafts.Clear(ctx); err != nil {
		return "", err
	}
	s.Log.Info("record committed",
		zap.String("record_id", rec.ID),
		zap.Bool("linked", issueID != nil))
	if s.OnCommit != nil {
		s.OnCommit(ctx, rec.ID)
	}
	return rec.ID, nil
}

func (s *Session) persistDraft(ctx context.Context, complete bool) error {
	items, err := s.Todos.List(ctx)
	if err != nil {
		return err
	}
	todoIDs := make([]string, len(items))
	for i, item := range items {
		todoIDs[i] = item.ID
	}
	return s.Drafts.Save(ctx, &pkg.DraftSnapshot{
		History:   s.history,
		Record:    s.record,
		Insights:  s.insights,
		TodoIDs:   todoIDs,
		Suggested: s.suggested,
		Selection: s.selection,
		Complete:  complete,
	})
}

func (s *Session) reset() {
	s.history = nil
	s.record = pkg.RecordMetadata{}
	s.insights = pkg.Insights{}
	s.suggested = nil
	s.selection = nil
	s.phase = PhaseEliciting
}

func (s *Session) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
