// Package agent runs the chat pipeline: a message goes through the session
// registry, reference resolution, intent recognition, the action builder,
// the confirmation gate and the contract interactor, and comes back as a
// chat response.
package agent

import (
	"time"

	"github.com/ashureev/ledgerchat/internal/domain"
)

// ChatRequest is the body of POST /api/chat and of each websocket frame.
type ChatRequest struct {
	Message             string               `json:"message"`
	UserAddress         string               `json:"userAddress,omitempty"`
	ConversationHistory []domain.ChatMessage `json:"conversationHistory,omitempty"`
}

// ClearRequest is the body of POST /api/chat/clear.
type ClearRequest struct {
	UserAddress string `json:"userAddress,omitempty"`
}

// Response is the chat reply. Every pipeline outcome, including failures,
// renders as a Response; only invariant violations abort a request.
type Response struct {
	Success             bool             `json:"success"`
	Message             string           `json:"message"`
	Data                map[string]any   `json:"data,omitempty"`
	Error               string           `json:"error,omitempty"`
	Transaction         *TransactionView `json:"transaction,omitempty"`
	NeedsConfirmation   bool             `json:"needsConfirmation,omitempty"`
	ConversationContext ContextSummary   `json:"conversationContext"`
}

// TransactionView is the client-facing form of a TransactionResult. Cost is
// rendered as strings so large integers survive JSON clients.
type TransactionView struct {
	ActionID    string  `json:"actionId"`
	Status      string  `json:"status"`
	TxID        string  `json:"txId,omitempty"`
	BlockNumber *uint64 `json:"blockNumber,omitempty"`
	Cost        string  `json:"cost,omitempty"`
	CostWei     string  `json:"costWei,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// ContextSummary is the part of the session context echoed to clients.
type ContextSummary struct {
	LastEntityName string `json:"lastEntityName"`
	LastOperation  string `json:"lastOperation"`
	HistoryLength  int    `json:"historyLength"`
}

// SessionSummary is the body of GET /api/chat/session.
type SessionSummary struct {
	SessionKey          string         `json:"sessionKey"`
	Owner               string         `json:"owner,omitempty"`
	LastAddress         string         `json:"lastAddress,omitempty"`
	ConversationContext ContextSummary `json:"conversationContext"`
	PendingAction       *PendingView   `json:"pendingAction,omitempty"`
}

// PendingView describes an action awaiting confirmation.
type PendingView struct {
	ActionID    string    `json:"actionId"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func summarize(snap domain.Snapshot) ContextSummary {
	return ContextSummary{
		LastEntityName: snap.LastEntityName,
		LastOperation:  string(snap.LastOperation),
		HistoryLength:  snap.HistoryLength,
	}
}

func pendingView(p *domain.PendingAction) *PendingView {
	if p == nil {
		return nil
	}
	return &PendingView{
		ActionID:    p.Action.ID,
		Kind:        string(p.Action.Kind),
		Description: p.Action.Description,
		ExpiresAt:   p.ExpiresAt,
	}
}
