// Package email generates reply drafts for inbound email threads. It shares
// the tool, policy, and guardrail machinery of the turn pipeline and adds
// retrieval: similar past emails and tone-matched reply pairs shape the
// draft's style, never its facts.
package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/convoflow/convoflow/internal/classify"
	"github.com/convoflow/convoflow/internal/config"
	"github.com/convoflow/convoflow/internal/llm"
	"github.com/convoflow/convoflow/internal/observability"
	"github.com/convoflow/convoflow/internal/policy"
	"github.com/convoflow/convoflow/internal/prompt"
	"github.com/convoflow/convoflow/internal/rag"
	"github.com/convoflow/convoflow/internal/templates"
	"github.com/convoflow/convoflow/internal/tools"
	"github.com/convoflow/convoflow/internal/turn"
	"github.com/convoflow/convoflow/pkg/models"
)

// ErrInvalidThread is returned for draft requests missing required fields.
var ErrInvalidThread = errors.New("email: invalid thread")

// ThreadMessage is one message of an email thread, oldest first.
type ThreadMessage struct {
	From    string    `json:"from"`
	Subject string    `json:"subject,omitempty"`
	Body    string    `json:"body"`
	Inbound bool      `json:"inbound"`
	At      time.Time `json:"at"`
}

// DraftRequest asks for a reply draft to the latest inbound message.
type DraftRequest struct {
	BusinessID string          `json:"business_id"`
	ThreadID   string          `json:"thread_id"`
	MessageID  string          `json:"message_id"`
	Language   models.Language `json:"language"`
	Messages   []ThreadMessage `json:"messages"`
}

// DraftResult is the generated draft and its disposition.
type DraftResult struct {
	Draft           string                 `json:"draft"`
	Clarified       bool                   `json:"clarified"`
	Grounding       models.Grounding       `json:"grounding"`
	GuardrailAction models.GuardrailAction `json:"guardrail_action"`
	ToolsCalled     []string               `json:"tools_called,omitempty"`
	InputTokens     int                    `json:"input_tokens"`
	OutputTokens    int                    `json:"output_tokens"`
}

// Options carries the per-deployment email identity.
type Options struct {
	Persona      string
	StyleProfile string
	// Signature replaces whatever closing the model writes.
	Signature string
	Knowledge []prompt.KnowledgeItem
}

// Pipeline generates email drafts.
type Pipeline struct {
	cfg        *config.Config
	classifier classify.Classifier
	registry   *tools.Registry
	runner     *tools.Runner
	provider   llm.Provider
	retriever  rag.Retriever
	log        *observability.Logger
	metrics    *observability.Metrics
	opts       Options
}

// NewPipeline wires the draft pipeline. retriever and metrics may be nil.
func NewPipeline(cfg *config.Config, classifier classify.Classifier, registry *tools.Registry, runner *tools.Runner, provider llm.Provider, retriever rag.Retriever, log *observability.Logger, metrics *observability.Metrics, opts Options) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		classifier: classifier,
		registry:   registry,
		runner:     runner,
		provider:   provider,
		retriever:  retriever,
		log:        log,
		metrics:    metrics,
		opts:       opts,
	}
}

// GenerateDraft runs the draft pipeline for one thread.
func (p *Pipeline) GenerateDraft(ctx context.Context, req *DraftRequest) (*DraftResult, error) {
	if err := validateThread(req); err != nil {
		return nil, err
	}
	if req.Language != models.LangEN {
		req.Language = models.LangTR
	}
	ctx = observability.WithBusinessID(ctx, req.BusinessID)

	latest := latestInbound(req.Messages)
	session := &models.Session{
		ID:         req.ThreadID,
		BusinessID: req.BusinessID,
		Channel:    models.ChannelEmail,
	}

	classification, err := p.classifier.Classify(ctx, classify.Input{
		Text:     latest.Body,
		Session:  session,
		Language: req.Language,
		Channel:  models.ChannelEmail,
	})
	if err != nil {
		classification = models.SafeFallback()
	}

	// Entity/KB confidence gate: with strict grounding an uncertain draft is
	// worse than a question.
	if p.cfg.Features.TextStrictGrounding &&
		(classification.Failed || classification.Confidence < p.cfg.Retrieval.MinConfidence) {
		p.log.Info(ctx, "email draft short-circuited to clarification",
			"thread_id", req.ThreadID,
			"intent", string(classification.Type),
			"confidence", classification.Confidence,
			"failed", classification.Failed,
		)
		return &DraftResult{
			Draft:           EnforceSignature(templates.Render(templates.KeyClarify, req.Language), p.opts.Signature),
			Clarified:       true,
			Grounding:       models.GroundingClarification,
			GuardrailAction: models.GuardrailPass,
		}, nil
	}

	examples, snippets := p.retrieve(ctx, req.BusinessID, latest.Body)

	built := prompt.Build(prompt.Input{
		Persona:      p.opts.Persona,
		Now:          time.Now(),
		Language:     req.Language,
		Knowledge:    p.opts.Knowledge,
		StyleProfile: p.opts.StyleProfile,
		Examples:     examples,
		Snippets:     snippets,
		Grounding: []string{
			"Retrieved examples and snippets shape tone and phrasing only. Never copy facts, names, order details, or amounts from them.",
			"Never state order, billing, stock, or account facts that did not come from a tool result in this thread.",
			"Describe stock only as in stock, limited, or out of stock, never as exact counts.",
			"Reply only to the original sender. Never add recipients or suggest forwarding.",
		},
	}, p.largeBudget())

	loop, err := p.runDraftLoop(ctx, req, session, classification, built.System)
	if err != nil {
		p.log.Error(ctx, "email draft generation failed", "thread_id", req.ThreadID, "error", err.Error())
		return nil, err
	}

	guard := turn.ApplyGuardrails(turn.GuardInput{
		Draft:          loop.text,
		Language:       req.Language,
		Intent:         classification.Type,
		Results:        loop.results,
		Slots:          session.Slots,
		EmailDraft:     true,
		ShortCircuited: loop.shortCircuited,
	})
	if p.metrics != nil {
		p.metrics.GuardrailCounter.WithLabelValues(string(guard.Action)).Inc()
	}

	draft := guard.Text
	if guard.Action != models.GuardrailBlock {
		draft = EnforceSignature(draft, p.opts.Signature)
	}

	return &DraftResult{
		Draft:           draft,
		Clarified:       guard.Action == models.GuardrailBlock || guard.Action == models.GuardrailNeedMinInfo,
		Grounding:       guard.Grounding,
		GuardrailAction: guard.Action,
		ToolsCalled:     loop.toolsCalled,
		InputTokens:     loop.inputTokens,
		OutputTokens:    loop.outputTokens,
	}, nil
}

type draftLoop struct {
	text           string
	results        []*models.ToolResult
	toolsCalled    []string
	inputTokens    int
	outputTokens   int
	shortCircuited bool
}

// runDraftLoop is the bounded tool loop for one draft. Unlike the chat turn
// there is no repeat ledger: every thread is drafted once.
func (p *Pipeline) runDraftLoop(ctx context.Context, req *DraftRequest, session *models.Session, classification models.Classification, system string) (*draftLoop, error) {
	out := &draftLoop{}
	for name, value := range classification.Slots {
		session.SetSlot(name, value)
	}

	messages := threadMessages(req.Messages)
	gated := policy.GateTools(p.registry.Catalog(), classification.SuggestedFlow, models.ModeFull, models.Verification{})
	toolDefs := make([]llm.ToolDef, 0, len(gated))
	for _, entry := range gated {
		toolDefs = append(toolDefs, llm.ToolDef{
			Name:        entry.Name,
			Description: entry.Description,
			Schema:      entry.ParameterSchema,
		})
	}

	for iter := 0; iter < p.cfg.Orchestrator.MaxIterations; iter++ {
		resp, err := p.provider.Complete(ctx, &llm.Request{
			Model:     p.cfg.LLM.Model,
			System:    system,
			Messages:  messages,
			Tools:     toolDefs,
			MaxTokens: p.cfg.Budget.LargeOutputTokens,
		})
		if err != nil {
			return nil, err
		}
		out.inputTokens += resp.Usage.InputTokens
		out.outputTokens += resp.Usage.OutputTokens
		if p.metrics != nil {
			p.metrics.RecordTokens(resp.Usage.InputTokens, resp.Usage.OutputTokens)
		}

		if len(resp.ToolCalls) == 0 {
			out.text = resp.Text
			break
		}
		if resp.Text != "" {
			out.text = resp.Text
		}

		assistantMsg := llm.Message{Role: "assistant", Content: resp.Text, ToolCalls: resp.ToolCalls}
		var responses []llm.ToolResponse
		for _, call := range resp.ToolCalls {
			entry, known := p.registry.Lookup(call.Name)
			if !known {
				responses = append(responses, llm.ToolResponse{
					CallID: call.ID, Name: call.Name, IsError: true,
					Content: messageJSON(templates.Render(templates.KeySystemError, req.Language)),
				})
				continue
			}
			if missing := missingSlots(entry.Preconditions.RequiredSlots, session.Slots); len(missing) > 0 {
				guidance := entry.Preconditions.Guidance[req.Language]
				if guidance == "" {
					guidance = templates.Render(templates.KeyNeedMoreInfo, req.Language)
				}
				responses = append(responses, llm.ToolResponse{
					CallID: call.ID, Name: call.Name,
					Content: messageJSON(guidance),
				})
				continue
			}

			result := p.runner.Run(ctx, call, tools.CallMeta{
				BusinessID: req.BusinessID,
				Channel:    models.ChannelEmail,
				SessionID:  req.ThreadID,
				MessageID:  req.MessageID,
				Language:   req.Language,
				Slots:      session.Slots,
			})
			out.results = append(out.results, result)
			out.toolsCalled = append(out.toolsCalled, call.Name)

			if result.Outcome.Terminal() {
				out.text = result.Message
				out.shortCircuited = true
				return out, nil
			}

			payload := map[string]any{"message": result.Message}
			if result.Outcome == models.OutcomeOK && len(result.Data) > 0 {
				payload["data"] = result.Data
			}
			raw, err := json.Marshal(payload)
			if err != nil {
				raw = []byte(messageJSON(result.Message))
			}
			responses = append(responses, llm.ToolResponse{
				CallID: call.ID, Name: call.Name,
				Content: string(raw),
				IsError: result.Outcome != models.OutcomeOK,
			})
		}
		messages = append(messages, assistantMsg, llm.Message{Role: "user", ToolResults: responses})
	}

	if strings.TrimSpace(out.text) == "" {
		out.text = templates.Render(templates.KeyEmptyFallback, req.Language)
	}
	return out, nil
}

// retrieve gathers style examples and snippets. Retrieval failures degrade to
// an example-free draft rather than failing the request.
func (p *Pipeline) retrieve(ctx context.Context, businessID, text string) (examples, snippets []string) {
	if p.retriever == nil {
		return nil, nil
	}
	topK := p.cfg.Retrieval.TopK

	pairs, err := p.retriever.SimilarPairs(ctx, businessID, text, topK)
	if err != nil {
		p.log.Warn(ctx, "pair retrieval failed", "error", err.Error())
	}
	for _, pair := range pairs {
		examples = append(examples, fmt.Sprintf("Customer: %s\nReply: %s", pair.Text, pair.Reply))
	}

	similar, err := p.retriever.SimilarExamples(ctx, businessID, text, topK)
	if err != nil {
		p.log.Warn(ctx, "example retrieval failed", "error", err.Error())
	}
	for _, ex := range similar {
		examples = append(examples, "Customer: "+ex.Text)
	}

	snippets, err = p.retriever.SelectSnippets(ctx, businessID, text, topK)
	if err != nil {
		p.log.Warn(ctx, "snippet retrieval failed", "error", err.Error())
	}
	return examples, snippets
}

func (p *Pipeline) largeBudget() prompt.Budget {
	return prompt.Budget{
		CharsPerToken: p.cfg.Budget.CharsPerToken,
		InputTokens:   p.cfg.Budget.LargeInputTokens,
		OutputTokens:  p.cfg.Budget.LargeOutputTokens,
		SafetyBuffer:  p.cfg.Budget.LargeSafetyTokens,
	}
}

func validateThread(req *DraftRequest) error {
	if req == nil {
		return ErrInvalidThread
	}
	if req.BusinessID == "" {
		return fmt.Errorf("%w: business_id is required", ErrInvalidThread)
	}
	if req.MessageID == "" {
		return fmt.Errorf("%w: message_id is required", ErrInvalidThread)
	}
	if latestInbound(req.Messages) == nil {
		return fmt.Errorf("%w: at least one inbound message is required", ErrInvalidThread)
	}
	return nil
}

func latestInbound(messages []ThreadMessage) *ThreadMessage {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Inbound && messages[i].Body != "" {
			return &messages[i]
		}
	}
	return nil
}

// threadMessages maps the thread onto the provider conversation: inbound
// messages become user turns, prior replies assistant turns.
func threadMessages(thread []ThreadMessage) []llm.Message {
	messages := make([]llm.Message, 0, len(thread))
	for _, m := range thread {
		if m.Body == "" {
			continue
		}
		role := "assistant"
		if m.Inbound {
			role = "user"
		}
		content := m.Body
		if m.Subject != "" && m.Inbound {
			content = "Subject: " + m.Subject + "\n\n" + m.Body
		}
		messages = append(messages, llm.Message{Role: role, Content: content})
	}
	return messages
}

func missingSlots(required []string, slots map[string]string) []string {
	var missing []string
	for _, name := range required {
		if slots[name] == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

func messageJSON(message string) string {
	raw, _ := json.Marshal(map[string]string{"message": message})
	return string(raw)
}
