package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/ledgerchat/internal/action"
	"github.com/ashureev/ledgerchat/internal/confirm"
	"github.com/ashureev/ledgerchat/internal/conversation"
	"github.com/ashureev/ledgerchat/internal/domain"
	"github.com/ashureev/ledgerchat/internal/intent"
	"github.com/ashureev/ledgerchat/internal/responder"
)

// DefaultConfirmationTTL bounds how long a parked action stays confirmable.
const DefaultConfirmationTTL = 5 * time.Minute

// Ledger is the contract interactor as seen by the pipeline.
type Ledger interface {
	Read(ctx context.Context, act domain.SmartContractAction) (domain.ReadResult, error)
	Execute(ctx context.Context, rel confirm.Released) domain.TransactionResult
}

// Classifier is an optional external source of intent candidates.
type Classifier interface {
	Classify(ctx context.Context, text string, snap domain.Snapshot) ([]intent.RawCandidate, error)
}

// Service is the chat pipeline.
type Service struct {
	registry   *conversation.Registry
	recognizer *intent.Recognizer
	classifier Classifier
	builder    *action.Builder
	ledger     Ledger
	responder  *responder.Responder
	ttl        time.Duration
	logger     *slog.Logger
}

// ServiceConfig collects the pipeline's collaborators.
type ServiceConfig struct {
	Registry   *conversation.Registry
	Recognizer *intent.Recognizer
	// Classifier is optional; the built-in rules are used without it.
	Classifier      Classifier
	Builder         *action.Builder
	Ledger          Ledger
	Responder       *responder.Responder
	ConfirmationTTL time.Duration
	Logger          *slog.Logger
}

// NewService wires a pipeline.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Registry == nil || cfg.Builder == nil || cfg.Ledger == nil || cfg.Responder == nil {
		return nil, fmt.Errorf("registry, builder, ledger and responder are required")
	}
	if cfg.Recognizer == nil {
		cfg.Recognizer = intent.NewRecognizer(intent.DefaultThreshold)
	}
	if cfg.ConfirmationTTL <= 0 {
		cfg.ConfirmationTTL = DefaultConfirmationTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		registry:   cfg.Registry,
		recognizer: cfg.Recognizer,
		classifier: cfg.Classifier,
		builder:    cfg.Builder,
		ledger:     cfg.Ledger,
		responder:  cfg.Responder,
		ttl:        cfg.ConfirmationTTL,
		logger:     cfg.Logger,
	}, nil
}

// turn carries one message through the pipeline.
type turn struct {
	s    *domain.Session
	text string
	now  time.Time
	log  *slog.Logger
	resp *Response
	rec  *domain.OperationRecord
}

// Chat processes one message as the next turn of the session for key.
// owner is the validated wallet address for the session, empty for
// anonymous sessions; it is bound only to a session that has no owner yet.
// The returned error is non-nil only for invariant violations, cancellation
// and registry failures; every other outcome is a Response.
func (s *Service) Chat(ctx context.Context, key, owner string, req ChatRequest) (*Response, error) {
	text := strings.TrimSpace(req.Message)
	var resp *Response
	err := s.registry.Do(ctx, key, owner, func(sess *domain.Session) error {
		s.registry.Seed(sess, req.ConversationHistory)

		t := &turn{
			s:    sess,
			text: text,
			now:  s.registry.Now(),
			log:  s.logger.With("session_key", key),
		}
		if err := s.handle(ctx, t); err != nil {
			return err
		}

		s.registry.AppendMessage(sess, domain.ChatMessage{Role: domain.RoleUser, Content: text, Timestamp: t.now})
		s.registry.AppendMessage(sess, domain.ChatMessage{
			Role:      domain.RoleAssistant,
			Content:   t.resp.Message,
			Timestamp: s.registry.Now(),
			Operation: t.rec,
		})
		t.resp.ConversationContext = summarize(sess.Snapshot())
		resp = t.resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Service) handle(ctx context.Context, t *turn) error {
	out, err := confirm.Step(t.s.Pending, confirm.Message{Text: t.text}, t.now)
	if err != nil {
		return err
	}
	t.s.Pending = out.Next

	switch out.Effect {
	case confirm.EffectRelease:
		s.execute(ctx, t, out.Released)
		return nil
	case confirm.EffectDiscard:
		t.log.Info("pending action cancelled", "action_id", out.Previous.Action.ID)
		t.rec = &domain.OperationRecord{Kind: out.Previous.Action.Kind, Status: "cancelled"}
		t.resp = &Response{Success: true, Message: responder.Cancelled(out.Previous)}
		return nil
	case confirm.EffectExpired:
		if out.Previous != nil {
			t.log.Info("confirmation arrived after expiry", "action_id", out.Previous.Action.ID)
		}
		t.resp = &Response{Message: responder.Expired(), Error: string(domain.KindExpiredConfirmation)}
		return nil
	case confirm.EffectNothingToCancel:
		t.resp = &Response{Success: true, Message: responder.NothingToCancel()}
		return nil
	case confirm.EffectAbandon:
		t.log.Info("pending action abandoned", "action_id", out.Previous.Action.ID)
	}
	return s.interpret(ctx, t)
}

// interpret handles a message that is not a confirmation reply.
func (s *Service) interpret(ctx context.Context, t *turn) error {
	snap := t.s.Snapshot()
	resolved := conversation.ResolveReferences(snap, t.text)

	in := intent.Input{Text: resolved.Text, Snapshot: snap, Unresolved: resolved.Unresolved}
	if s.classifier != nil && strings.TrimSpace(resolved.Text) != "" {
		cands, err := s.classifier.Classify(ctx, resolved.Text, snap)
		if err != nil {
			t.log.Warn("external classifier failed, using rules", "error", err)
		} else {
			in.External = cands
		}
	}
	recognized := s.recognizer.Recognize(in)
	t.log.Debug("intent recognized",
		"intent", recognized.Kind,
		"confidence", recognized.Confidence,
		"substituted", resolved.Substituted)

	if recognized.Kind == domain.IntentUnknown {
		t.resp = &Response{
			Message: s.responder.Explain(ctx, t.text, snap),
			Error:   string(domain.KindUnparsableInput),
		}
		return nil
	}
	if recognized.NeedsClarification(s.recognizer.Threshold()) {
		s.clarify(ctx, t, recognized, nil, snap)
		return nil
	}

	act, err := s.builder.Build(recognized, t.s.Owner)
	if err != nil {
		if errors.Is(err, domain.ErrInvariant) {
			return err
		}
		s.clarify(ctx, t, recognized, err, snap)
		return nil
	}

	act, err = s.builder.Prepare(ctx, act, s.ledger)
	if err != nil {
		if errors.Is(err, domain.ErrInvariant) {
			return err
		}
		s.fail(t, recognized, err)
		return nil
	}

	if act.Mutating {
		return s.propose(t, recognized, act)
	}
	s.read(ctx, t, recognized, act)
	return nil
}

func (s *Service) clarify(ctx context.Context, t *turn, in domain.Intent, err error, snap domain.Snapshot) {
	kind := in.Reason
	var cn *action.ClarificationNeeded
	switch {
	case errors.As(err, &cn):
		kind = cn.Reason
	case err != nil:
		kind = domain.KindOf(err)
	}
	if kind == domain.KindNone {
		kind = domain.KindUnparsableInput
	}
	t.resp = &Response{
		Message: s.responder.Clarify(ctx, in, err, snap),
		Error:   string(kind),
		Data:    map[string]any{"intent": string(in.Kind), "missing": missingOf(in, cn)},
	}
}

func missingOf(in domain.Intent, cn *action.ClarificationNeeded) []string {
	if cn != nil {
		return cn.Missing
	}
	return in.MissingFields
}

func (s *Service) fail(t *turn, in domain.Intent, err error) {
	kind := domain.KindOf(err)
	t.log.Warn("operation failed", "intent", in.Kind, "error", err)
	t.rec = &domain.OperationRecord{
		Kind:      in.Kind,
		Params:    in.Fields(),
		Status:    "failed",
		Error:     err.Error(),
		ErrorKind: kind,
	}
	s.registry.RecordOutcome(t.s, in, t.rec)
	t.resp = &Response{Message: s.responder.Failure(err), Error: string(kind)}
}

func (s *Service) read(ctx context.Context, t *turn, in domain.Intent, act domain.SmartContractAction) {
	res, err := s.ledger.Read(ctx, act)
	if err != nil {
		s.fail(t, in, err)
		return
	}

	value := fmt.Sprint(res.Value())
	t.rec = &domain.OperationRecord{Kind: in.Kind, Params: in.Fields(), Status: "success", Result: value}
	s.registry.RecordOutcome(t.s, in, t.rec)

	data := map[string]any{
		"intent":  string(in.Kind),
		"subject": act.Subject,
		"found":   res.Found,
		"value":   res.Value(),
	}
	switch in.Kind {
	case domain.IntentCheckAvailability:
		data["available"] = res.Bool
	case domain.IntentCheckPrice, domain.IntentCheckBalance:
		data["formatted"] = action.FormatUnits(res.Amount, s.builder.Network().Decimals) + " " + s.builder.Network().NativeSymbol
	}
	t.resp = &Response{Success: true, Message: s.responder.Read(act, res), Data: data}
}

func (s *Service) propose(t *turn, in domain.Intent, act domain.SmartContractAction) error {
	out, err := confirm.Step(t.s.Pending, confirm.Propose{Action: act, TTL: s.ttl}, t.now)
	if err != nil {
		return err
	}
	t.s.Pending = out.Next
	t.log.Info("action awaiting confirmation", "action_id", act.ID, "intent", act.Kind, "expires_at", out.Next.ExpiresAt)

	s.registry.RecordOutcome(t.s, in, nil)
	t.rec = &domain.OperationRecord{Kind: in.Kind, Params: in.Fields(), Status: "awaiting_confirmation"}

	data := map[string]any{
		"intent":  string(in.Kind),
		"pending": pendingView(out.Next),
	}
	if act.Value != nil && act.Value.Sign() > 0 {
		data["value"] = action.FormatUnits(act.Value, s.builder.Network().Decimals) + " " + s.builder.Network().NativeSymbol
	}
	t.resp = &Response{
		Success:           true,
		Message:           confirm.Prompt(out.Next),
		Data:              data,
		NeedsConfirmation: true,
	}
	return nil
}

func (s *Service) execute(ctx context.Context, t *turn, rel confirm.Released) {
	act := rel.Action()
	t.log.Info("executing confirmed action", "action_id", act.ID, "intent", act.Kind)

	res := s.ledger.Execute(ctx, rel)

	view := &TransactionView{
		ActionID:    res.ActionID,
		Status:      string(res.Status),
		TxID:        res.TxID,
		BlockNumber: res.BlockNumber,
		Error:       res.Error,
	}
	t.rec = &domain.OperationRecord{
		Kind:      act.Kind,
		Status:    string(res.Status),
		TxID:      res.TxID,
		Error:     res.Error,
		ErrorKind: res.ErrorKind,
	}
	if res.Cost != nil {
		view.CostWei = res.Cost.String()
		view.Cost = action.FormatUnits(res.Cost, s.builder.Network().Decimals) + " " + s.builder.Network().NativeSymbol
		t.rec.Cost = view.Cost
	}
	s.registry.RecordExecution(t.s, act, t.rec)

	t.resp = &Response{
		Success:     res.Status != domain.TxFailed,
		Message:     s.responder.Transaction(act, res),
		Transaction: view,
		Data:        map[string]any{"intent": string(act.Kind)},
	}
	if res.Status == domain.TxFailed {
		t.resp.Error = string(res.ErrorKind)
	}
}

// Clear discards the context and pending action of the session for key.
func (s *Service) Clear(ctx context.Context, key string) error {
	return s.registry.Clear(ctx, key)
}

// Summary describes an existing session.
func (s *Service) Summary(ctx context.Context, key string) (*SessionSummary, error) {
	if _, err := s.registry.Peek(ctx, key); err != nil {
		return nil, err
	}
	var out *SessionSummary
	err := s.registry.Do(ctx, key, "", func(sess *domain.Session) error {
		snap := sess.Snapshot()
		pending := sess.Pending
		if pending.Expired(s.registry.Now()) {
			pending = nil
		}
		out = &SessionSummary{
			SessionKey:          sess.Key,
			Owner:               sess.Owner,
			LastAddress:         snap.LastAddress,
			ConversationContext: summarize(snap),
			PendingAction:       pendingView(pending),
		}
		return nil
	})
	return out, err
}
