// Package turn is the per-message pipeline: load state, classify, route,
// drive the model through the gated tool loop, guard the draft, persist.
package turn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/language"

	"github.com/convoflow/convoflow/internal/classify"
	"github.com/convoflow/convoflow/internal/config"
	"github.com/convoflow/convoflow/internal/llm"
	"github.com/convoflow/convoflow/internal/observability"
	"github.com/convoflow/convoflow/internal/policy"
	"github.com/convoflow/convoflow/internal/prompt"
	"github.com/convoflow/convoflow/internal/ratelimit"
	"github.com/convoflow/convoflow/internal/router"
	"github.com/convoflow/convoflow/internal/sessions"
	"github.com/convoflow/convoflow/internal/templates"
	"github.com/convoflow/convoflow/internal/tools"
	"github.com/convoflow/convoflow/pkg/models"
)

var (
	// ErrRateLimited is returned when the per-business limiter rejects a
	// turn. The HTTP layer maps it to 429.
	ErrRateLimited = errors.New("turn: rate limited")
	// ErrInvalidRequest is returned for requests missing required fields.
	ErrInvalidRequest = errors.New("turn: invalid request")
	// ErrSessionNotFound is returned when an explicit session ID does not
	// resolve. Explicit IDs never create sessions.
	ErrSessionNotFound = errors.New("turn: session not found")
)

// AutoVerifier may promote a VERIFICATION_REQUIRED result to OK when the
// channel itself proves identity (e.g. a verified phone number).
type AutoVerifier func(req *models.TurnRequest, session *models.Session, result *models.ToolResult) bool

// Options carries the per-deployment assistant identity.
type Options struct {
	Persona      string
	Knowledge    []prompt.KnowledgeItem
	StyleProfile string
	Snippets     []string
	AutoVerify   AutoVerifier
}

// Orchestrator runs the turn pipeline.
type Orchestrator struct {
	cfg        *config.Config
	store      sessions.Store
	locker     *sessions.Locker
	classifier classify.Classifier
	router     *router.Router
	provider   llm.Provider
	registry   *tools.Registry
	runner     *tools.Runner
	limiter    *ratelimit.Limiter
	calibrator *prompt.Calibrator
	log        *observability.Logger
	metrics    *observability.Metrics
	opts       Options
}

// New wires an orchestrator. limiter, calibrator and metrics may be nil.
func New(cfg *config.Config, store sessions.Store, locker *sessions.Locker, classifier classify.Classifier, rt *router.Router, provider llm.Provider, registry *tools.Registry, runner *tools.Runner, limiter *ratelimit.Limiter, calibrator *prompt.Calibrator, log *observability.Logger, metrics *observability.Metrics, opts Options) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		locker:     locker,
		classifier: classifier,
		router:     rt,
		provider:   provider,
		registry:   registry,
		runner:     runner,
		limiter:    limiter,
		calibrator: calibrator,
		log:        log,
		metrics:    metrics,
		opts:       opts,
	}
}

// HandleTurn runs the full pipeline for one inbound message.
func (o *Orchestrator) HandleTurn(ctx context.Context, req *models.TurnRequest) (*models.TurnResult, error) {
	start := time.Now()
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	normalizeLanguage(req)

	ctx = observability.WithBusinessID(ctx, req.BusinessID)
	ctx = observability.WithChannel(ctx, string(req.Channel))

	if o.limiter != nil && !o.limiter.Allow(req.BusinessID) {
		if o.metrics != nil {
			o.metrics.RateLimited.Inc()
		}
		return nil, ErrRateLimited
	}

	session, err := o.resolveSession(ctx, req)
	if err != nil {
		return nil, err
	}
	ctx = observability.WithSessionID(ctx, session.ID)

	if err := o.locker.Lock(ctx, session.ID); err != nil {
		return nil, err
	}
	defer o.locker.Unlock(session.ID)

	// Reload under the lock; a concurrent turn may have persisted.
	if fresh, err := o.store.Get(ctx, session.ID); err == nil {
		session = fresh
	}

	now := time.Now()
	if session.Locked(now) {
		return o.finishTurn(ctx, req, session, finish{
			reply:          templates.Render(templates.KeyLocked, req.Language),
			messageType:    models.MessageTypeLockNotice,
			grounding:      models.GroundingOutOfScope,
			guardAction:    models.GuardrailPass,
			routingAction:  "locked",
			classification: models.Classification{Type: models.IntentOther},
			start:          start,
		})
	}
	if session.FlowStatus == models.FlowTerminated {
		// Lock expired; the user gets a fresh conversation.
		resetSession(session)
	}

	// Post-result follow-up counting; the reset fires on the turn the
	// counter reaches the threshold.
	if session.FlowStatus == models.FlowPostResult {
		session.PostResultTurns++
		if session.PostResultTurns >= o.cfg.Orchestrator.PostResultResetTurns {
			resetToIdle(session)
		}
	}

	lastAssistant := o.lastAssistantContent(ctx, session.ID)
	classification, err := o.classifier.Classify(ctx, classify.Input{
		Text:          req.Text,
		LastAssistant: lastAssistant,
		Session:       session,
		Language:      req.Language,
		Channel:       req.Channel,
	})
	if err != nil {
		classification = models.SafeFallback()
	}
	if o.metrics != nil {
		o.metrics.RecordClassification(string(classification.Type), classification.Failed, classification.Confidence)
	}

	newSlots := classification.Slots
	for name, value := range newSlots {
		session.SetSlot(name, value)
	}
	if classification.SuggestedFlow != "" && session.ActiveFlow == "" {
		session.ActiveFlow = classification.SuggestedFlow
		if session.FlowStatus == models.FlowIdle {
			session.FlowStatus = models.FlowInProgress
		}
	}

	decision := o.router.Route(req, session, classification)

	base := finish{
		classification: classification,
		routingAction:  string(decision.Action),
		start:          start,
	}

	switch decision.Action {
	case router.ActionDirectReply, router.ActionClarify:
		base.reply = decision.Reply
		base.messageType = decision.MessageType
		base.guardAction = models.GuardrailPass
		base.grounding = models.GroundingClarification
		if decision.MessageType == models.MessageTypeSystemBarrier {
			base.grounding = models.GroundingOutOfScope
		}
		if decision.MessageType == models.MessageTypeAnswer {
			base.grounding = models.GroundingGrounded
		}
		return o.finishTurn(ctx, req, session, base)

	case router.ActionChatter:
		return o.runModelPath(ctx, req, session, classification, base, nil, nil, true)

	default:
		gated := policy.GateTools(o.registry.Catalog(), activeFlow(session, classification), req.ChannelMode, session.Verification)
		if decision.SafeMode {
			gated = nil
		}
		return o.runModelPath(ctx, req, session, classification, base, gated, newSlots, false)
	}
}

// runModelPath drives the LLM (with or without tools) and applies the
// guardrails.
func (o *Orchestrator) runModelPath(ctx context.Context, req *models.TurnRequest, session *models.Session, classification models.Classification, base finish, gated []models.CatalogEntry, newSlots map[string]string, austere bool) (*models.TurnResult, error) {
	budget := o.budget(austere)
	built := prompt.Build(prompt.Input{
		Persona:      o.opts.Persona,
		Now:          time.Now(),
		Timezone:     req.Timezone,
		Language:     req.Language,
		Knowledge:    o.opts.Knowledge,
		StyleProfile: o.opts.StyleProfile,
		Snippets:     o.opts.Snippets,
		Grounding:    groundingDirectives(classification, gated),
		Austere:      austere,
	}, budget)

	loop, err := o.runLoop(ctx, req, session, built.System, gated, newSlots, budget.OutputTokens)
	if err != nil {
		// Model failure: apologize, persist only the user turn so the
		// transcript never carries a poisoned assistant message.
		o.log.Error(ctx, "llm path failed", "error", err.Error())
		base.reply = templates.Render(templates.KeySystemError, req.Language)
		base.messageType = models.MessageTypeAnswer
		base.guardAction = models.GuardrailBlock
		base.grounding = models.GroundingOutOfScope
		base.skipAssistantPersist = true
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			// The deadline expired mid-pipeline; nothing mutated this turn
			// may land durably.
			base.skipPersist = true
		}
		return o.finishTurn(ctx, req, session, base)
	}

	guard := ApplyGuardrails(GuardInput{
		Draft:          loop.text,
		Language:       req.Language,
		Intent:         classification.Type,
		Results:        loop.results,
		Slots:          session.Slots,
		ShortCircuited: loop.shortCircuited || loop.repeatBlocked,
		GuidanceUsed:   loop.guidanceUsed,
	})
	if o.metrics != nil {
		o.metrics.GuardrailCounter.WithLabelValues(string(guard.Action)).Inc()
	}

	base.reply = guard.Text
	base.messageType = guard.MessageType
	base.guardAction = guard.Action
	base.grounding = guard.Grounding
	base.toolsCalled = loop.toolsCalled
	base.toolResults = loop.results
	base.inputTokens = loop.inputTokens
	base.outputTokens = loop.outputTokens
	if loop.repeatBlocked {
		base.messageType = models.MessageTypeClarification
	}
	return o.finishTurn(ctx, req, session, base)
}

func (o *Orchestrator) budget(austere bool) prompt.Budget {
	if austere {
		b := prompt.AustereBudget()
		b.CharsPerToken = o.cfg.Budget.CharsPerToken
		return b
	}
	return prompt.Budget{
		CharsPerToken: o.cfg.Budget.CharsPerToken,
		InputTokens:   o.cfg.Budget.LargeInputTokens,
		OutputTokens:  o.cfg.Budget.LargeOutputTokens,
		SafetyBuffer:  o.cfg.Budget.LargeSafetyTokens,
	}
}

// resolveSession loads the session: explicit IDs must exist, implicit keys
// create on first contact.
func (o *Orchestrator) resolveSession(ctx context.Context, req *models.TurnRequest) (*models.Session, error) {
	if req.SessionID != "" {
		session, err := o.store.Get(ctx, req.SessionID)
		if errors.Is(err, sessions.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return session, err
	}
	key := models.SessionKey(req.Channel, req.BusinessID, req.ChannelUserID)
	return o.store.GetOrCreate(ctx, key, req.Channel, req.BusinessID, req.ChannelUserID)
}

func (o *Orchestrator) lastAssistantContent(ctx context.Context, sessionID string) string {
	entries, err := o.store.History(ctx, sessionID, 10)
	if err != nil {
		return ""
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i] != nil && entries[i].Role == models.RoleAssistant {
			return entries[i].Content
		}
	}
	return ""
}

func (o *Orchestrator) historyMessages(ctx context.Context, sessionID string) ([]llm.Message, error) {
	entries, err := o.store.History(ctx, sessionID, 20)
	if err != nil {
		return nil, err
	}
	entries = sessions.RepairHistory(entries)
	messages := make([]llm.Message, 0, len(entries))
	for _, entry := range entries {
		role := "user"
		if entry.Role == models.RoleAssistant {
			role = "assistant"
		}
		messages = append(messages, llm.Message{Role: role, Content: entry.Content})
	}
	return messages, nil
}

func activeFlow(session *models.Session, c models.Classification) models.FlowType {
	if session.ActiveFlow != "" {
		return session.ActiveFlow
	}
	return c.SuggestedFlow
}

// groundingDirectives are the fact-grounding rules injected into the
// system prompt.
func groundingDirectives(c models.Classification, gated []models.CatalogEntry) []string {
	directives := []string{
		"Never state order, billing, stock, or account facts that did not come from a tool result in this conversation.",
		"Never claim an action was completed unless a tool confirmed it.",
		"Describe stock only as in stock, limited, or out of stock. Never give exact counts; if the customer needs a specific amount, ask how many they want.",
	}
	if policy.RequiresTool(c.Type) && len(gated) == 0 {
		directives = append(directives,
			"No account tools are available on this channel; ask the user to use a supported channel instead of guessing.")
	}
	return directives
}

func validateRequest(req *models.TurnRequest) error {
	if req == nil {
		return ErrInvalidRequest
	}
	switch req.Channel {
	case models.ChannelPhone, models.ChannelChat, models.ChannelWhatsApp, models.ChannelEmail:
	default:
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidRequest, req.Channel)
	}
	if req.BusinessID == "" {
		return fmt.Errorf("%w: business_id is required", ErrInvalidRequest)
	}
	if req.SessionID == "" && req.ChannelUserID == "" {
		return fmt.Errorf("%w: session_id or channel_user_id is required", ErrInvalidRequest)
	}
	if req.MessageID == "" {
		return fmt.Errorf("%w: message_id is required", ErrInvalidRequest)
	}
	if req.Text == "" {
		return fmt.Errorf("%w: text is required", ErrInvalidRequest)
	}
	if req.ChannelMode == "" {
		req.ChannelMode = models.ModeFull
	}
	return nil
}

var languageMatcher = language.NewMatcher([]language.Tag{language.Turkish, language.English})

// normalizeLanguage folds free-form language tags (tr, tr-TR, en-US, ...)
// onto the two supported languages. Unknown and empty default to Turkish.
func normalizeLanguage(req *models.TurnRequest) {
	switch req.Language {
	case models.LangTR, models.LangEN:
		return
	case "":
		req.Language = models.LangTR
		return
	}
	tag, _ := language.MatchStrings(languageMatcher, string(req.Language))
	base, _ := tag.Base()
	if base.String() == "en" {
		req.Language = models.LangEN
		return
	}
	req.Language = models.LangTR
}

// resetSession clears a terminated session after its lock expires.
func resetSession(session *models.Session) {
	session.FlowStatus = models.FlowIdle
	session.ActiveFlow = ""
	session.PostResultTurns = 0
	session.Anchor = nil
	session.Verification = models.Verification{Status: models.VerificationNone}
	session.LastToolAttempt = nil
	session.NotFoundAt = nil
	session.TerminationReason = ""
	session.LockUntil = time.Time{}
}

// resetToIdle is the post-result auto-reset. LastStockContext survives so
// stock follow-ups still resolve deterministically.
func resetToIdle(session *models.Session) {
	session.FlowStatus = models.FlowIdle
	session.ActiveFlow = ""
	session.PostResultTurns = 0
	session.Anchor = nil
	session.Verification = models.Verification{Status: models.VerificationNone}
	session.LastToolAttempt = nil
}
