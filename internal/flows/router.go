package flows

import (
	"context"
	"log/slog"

	"github.com/launchfleet/launchbot/internal/classifier"
	"github.com/launchfleet/launchbot/internal/state"
)

// route is one entry in the precedence table: the first matching predicate
// wins, position breaks ties, confidence scores never reorder entries.
type route struct {
	name    string
	when    func(ctx context.Context, fc *Context) bool
	handler Handler
}

// Router maps an engaged turn to exactly one workflow handler.
type Router struct {
	routes   []route
	fallback Handler
}

// NewRouter builds the fixed precedence table over the given handlers.
func NewRouter(h Handlers) *Router {
	return &Router{
		routes: []route{
			{
				// 1. Pending-transaction inquiry beats everything, even when
				// the message also looks like a coin launch.
				name: "pending_tx_inquiry",
				when: func(_ context.Context, fc *Context) bool {
					return fc.Signals.TxInquiry && hasPendingTx(fc)
				},
				handler: h.PendingTx,
			},
			{
				// 2. Invited-but-not-yet-onboarded participants get onboarded
				// before anything else they ask for.
				name: "invited_onboarding",
				when: func(_ context.Context, fc *Context) bool {
					return fc.Participant.Status == state.StatusInvited
				},
				handler: h.Onboarding,
			},
			{
				// 3. Unambiguous "add everyone to a new group".
				name: "group_launch_request",
				when: func(_ context.Context, fc *Context) bool {
					return fc.Signals.WantsGroupLaunch
				},
				handler: h.GroupCreate,
			},
			{
				// 4. High-confidence capability/informational question.
				name: "qa",
				when: func(_ context.Context, fc *Context) bool {
					return fc.Signals.HighQA()
				},
				handler: h.QA,
			},
			{
				// 5. Classifier override for a specialized workflow.
				name: "specialized_override",
				when: func(_ context.Context, fc *Context) bool {
					return fc.Signals.Override == "management"
				},
				handler: h.Management,
			},
			{
				// 6. Participant still needs onboarding, unless they already
				// have groups and clearly want to launch a coin, in which
				// case onboarding is skipped.
				name: "needs_onboarding",
				when: func(_ context.Context, fc *Context) bool {
					if !needsOnboarding(fc) {
						return false
					}
					if fc.Participant.HasGroups() && fc.Signals.HighCoinLaunch() {
						return false
					}
					return true
				},
				handler: h.Onboarding,
			},
			{
				// 7. Continuation of an in-progress workflow, re-validated
				// each turn. A rejected continuation clears the in-progress
				// state before falling through.
				name: "workflow_continuation",
				when: func(ctx context.Context, fc *Context) bool {
					m := fc.Member()
					if m == nil || m.Progress == nil {
						return false
					}
					if continuesWorkflow(ctx, fc, m.Progress) {
						return true
					}
					if err := fc.UpdateGroup(ctx, func(g *state.GroupRecord) error {
						if gp, ok := g.Participants[state.Key(fc.Sender)]; ok {
							gp.Progress = nil
						}
						return nil
					}); err != nil {
						slog.Error("router: clearing rejected workflow progress failed", "error", err)
					}
					return false
				},
				handler: h.CoinLaunch,
			},
		},
		// 8. Default classifier-driven routing.
		fallback: &defaultRoute{h: h},
	}
}

// Route picks the handler for an engaged turn. Never returns nil.
func (r *Router) Route(ctx context.Context, fc *Context) Handler {
	for _, rt := range r.routes {
		if rt.when(ctx, fc) {
			slog.Debug("router: matched", "route", rt.name, "handler", rt.handler.Name())
			return rt.handler
		}
	}
	return r.fallback
}

// Handlers is the full handler set the router dispatches to.
type Handlers struct {
	PendingTx   Handler
	Onboarding  Handler
	GroupCreate Handler
	QA          Handler
	Management  Handler
	CoinLaunch  Handler
}

// defaultRoute is rule 8: route by the strongest remaining signal.
type defaultRoute struct {
	h Handlers
}

func (d *defaultRoute) Name() string { return "default" }

func (d *defaultRoute) Handle(ctx context.Context, fc *Context) error {
	switch {
	case fc.Signals.HighCoinLaunch():
		return d.h.CoinLaunch.Handle(ctx, fc)
	case fc.Signals.QAConfidence >= 0.5:
		return d.h.QA.Handle(ctx, fc)
	default:
		return d.h.Management.Handle(ctx, fc)
	}
}

func hasPendingTx(fc *Context) bool {
	m := fc.Member()
	return m != nil && m.PendingTx != nil
}

func needsOnboarding(fc *Context) bool {
	return fc.Participant.Status == state.StatusNew || fc.Participant.Status == state.StatusOnboarding
}

// continuesWorkflow re-validates that the turn keeps providing input for the
// in-progress workflow. Attachment turns always continue a collection step;
// text turns ask the classifier.
func continuesWorkflow(ctx context.Context, fc *Context, progress *state.LaunchProgress) bool {
	if fc.Turn.Attachment != nil && progress.Step == state.StepCollectingCoinData {
		return true
	}
	prior := "The participant was mid-way through providing token launch details (step: " + progress.Step + ")."
	return classifier.JudgeContinuation(ctx, fc.Completer, prior, fc.Turn.Body())
}
