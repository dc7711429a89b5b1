package conversation

import (
	"github.com/ashureev/ledgerchat/internal/domain"
	"github.com/ashureev/ledgerchat/internal/ens"
)

// AppendMessage adds msg to the session history, evicting the oldest
// messages beyond the window. The last-referenced fields are untouched.
func (r *Registry) AppendMessage(s *domain.Session, msg domain.ChatMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = r.now()
	}
	s.Context.Append(msg, r.window)
}

// RecordOutcome updates the last-referenced fields after an interpreted
// turn. rec may be nil when the turn produced no operation yet, for example
// while a mutating action awaits confirmation.
func (r *Registry) RecordOutcome(s *domain.Session, in domain.Intent, rec *domain.OperationRecord) {
	if in.Kind == domain.IntentUnknown || in.Params == nil {
		return
	}
	c := &s.Context
	c.LastOperation = in.Kind

	switch p := in.Params.(type) {
	case domain.ResolveNameParams:
		c.LastEntityName = ens.Normalize(p.Name)
		if rec != nil && ens.IsAddress(rec.Result) {
			c.LastAddress = ens.NormalizeAddress(rec.Result)
		}
	case domain.ResolveAddressParams:
		c.LastAddress = ens.NormalizeAddress(p.Address)
		if rec != nil && rec.Result != "" && ens.Validate(rec.Result) == nil {
			c.LastEntityName = ens.Normalize(rec.Result)
		}
	case domain.CheckAvailabilityParams:
		c.LastEntityName = ens.Normalize(p.Name)
	case domain.CheckPriceParams:
		c.LastEntityName = ens.Normalize(p.Name)
	case domain.RegisterNameParams:
		c.LastEntityName = ens.Normalize(p.Name)
	case domain.SetRecordParams:
		c.LastEntityName = ens.Normalize(p.Name)
	case domain.SendPaymentParams:
		noteEntity(c, p.Recipient)
	case domain.SendBatchPaymentParams:
		if n := len(p.Payments); n > 0 {
			noteEntity(c, p.Payments[n-1].Recipient)
		}
	case domain.CheckBalanceParams:
		noteEntity(c, p.Address)
	}

	if rec != nil {
		copied := *rec
		c.LastResult = &copied
	}
}

// RecordExecution updates the last-referenced fields after a confirmed
// action ran. The intent that built the action is gone by then, so the
// action's own kind and subject stand in for it.
func (r *Registry) RecordExecution(s *domain.Session, act domain.SmartContractAction, rec *domain.OperationRecord) {
	c := &s.Context
	c.LastOperation = act.Kind
	if act.Subject != "" {
		noteEntity(c, act.Subject)
	}
	if rec != nil {
		copied := *rec
		c.LastResult = &copied
	}
}

// Seed fills a session that has no history yet from client-supplied
// messages, lifting the most recent name and address mentioned into the
// last-referenced fields.
func (r *Registry) Seed(s *domain.Session, history []domain.ChatMessage) {
	if len(s.Context.History) > 0 || len(history) == 0 {
		return
	}
	for _, msg := range history {
		if msg.Role != domain.RoleUser && msg.Role != domain.RoleAssistant {
			continue
		}
		r.AppendMessage(s, msg)
	}
	for i := len(s.Context.History) - 1; i >= 0; i-- {
		content := s.Context.History[i].Content
		if s.Context.LastEntityName == "" {
			if names := ens.FindNames(content); len(names) > 0 {
				s.Context.LastEntityName = names[len(names)-1]
			}
		}
		if s.Context.LastAddress == "" {
			if addrs := ens.FindAddresses(content); len(addrs) > 0 {
				s.Context.LastAddress = addrs[len(addrs)-1]
			}
		}
	}
}

func noteEntity(c *domain.Context, ref string) {
	if addr := ens.NormalizeAddress(ref); addr != "" {
		c.LastAddress = addr
		return
	}
	if ens.Validate(ref) == nil {
		c.LastEntityName = ens.Normalize(ref)
	}
}
