package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PipelineState is the pipeline's position in the 3-stage state machine.
type PipelineState string

const (
	StateInit          PipelineState = "init"
	StateStage1Running PipelineState = "stage1_running"
	StateStage1Done    PipelineState = "stage1_done"
	StateStage2Running PipelineState = "stage2_running"
	StateStage2Done    PipelineState = "stage2_done"
	StateStage3Running PipelineState = "stage3_running"
	StateCompleted     PipelineState = "completed"
	StateFailed        PipelineState = "failed"
)

// MessageAppender is the persistence boundary. The pipeline appends one user
// turn at session start and one assistant turn after completion; it never
// reads stored history.
type MessageAppender interface {
	AppendUserMessage(conversationID, content string) error
	AppendAssistantMessage(conversationID string, result *CouncilResult) error
}

// CouncilPipeline orchestrates the three stages: independent responses,
// anonymous peer ranking, chairman synthesis. One pipeline serves many
// concurrent sessions; all per-session state lives in the CouncilSession and
// locals of Run.
type CouncilPipeline struct {
	client    *OpenRouterClient
	collector *FanOutCollector
	monitor   *PerformanceMonitor
	cfg       *CouncilConfig
	store     MessageAppender // nil disables persistence
}

// NewCouncilPipeline creates a pipeline over the given gateway client.
func NewCouncilPipeline(client *OpenRouterClient, monitor *PerformanceMonitor, cfg *CouncilConfig, store MessageAppender) *CouncilPipeline {
	return &CouncilPipeline{
		client:    client,
		collector: NewFanOutCollector(client, cfg.QueryTimeout()),
		monitor:   monitor,
		cfg:       cfg,
		store:     store,
	}
}

// NewSession creates a pending session for one user query.
func (p *CouncilPipeline) NewSession(conversationID, query string) *CouncilSession {
	return &CouncilSession{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Query:          query,
		CreatedAt:      time.Now().UTC(),
		Status:         SessionPending,
	}
}

// Run executes the full pipeline for one session, emitting progress events in
// order. The emitter always receives a terminal event (complete or error) and
// is closed by it. Partial results streamed before a fatal error stay with
// the consumer. Cancelling ctx stops further provider calls; in-flight calls
// settle on their own.
func (p *CouncilPipeline) Run(ctx context.Context, session *CouncilSession, emitter *StreamEmitter) (*CouncilResult, error) {
	state := StateInit

	fail := func(message string, err error) error {
		log.Printf("Session %s failed in state %s: %v", session.ID, state, err)
		state = StateFailed
		session.Status = SessionFailed
		emitter.Emit(ErrorEvent{Message: message})
		return err
	}

	if p.store != nil && session.ConversationID != "" {
		if err := p.store.AppendUserMessage(session.ConversationID, session.Query); err != nil {
			return nil, fail(fmt.Sprintf("Failed to save user message: %v", err), err)
		}
	}

	// Stage 1: independent responses
	state = StateStage1Running
	emitter.Emit(Stage1StartEvent{})

	stage1Results, err := p.runStage1(ctx, session.Query)
	if err != nil {
		return nil, fail(fmt.Sprintf("Stage 1 failed: %v", err), err)
	}
	state = StateStage1Done
	emitter.Emit(Stage1CompleteEvent{Results: stage1Results})

	if err := ctx.Err(); err != nil {
		return nil, fail("Session cancelled", err)
	}

	// Stage 2: anonymous peer rankings
	state = StateStage2Running
	emitter.Emit(Stage2StartEvent{})

	stage2Results, anon, err := p.runStage2(ctx, session.Query, stage1Results)
	if err != nil {
		return nil, fail(fmt.Sprintf("Stage 2 failed: %v", err), err)
	}

	aggregateRankings := CalculateAggregateRankings(stage2Results, anon)
	metadata := Metadata{
		LabelToModel:      anon.LabelToModel,
		AggregateRankings: aggregateRankings,
	}

	state = StateStage2Done
	emitter.Emit(Stage2CompleteEvent{Rankings: stage2Results, Metadata: metadata})

	if err := ctx.Err(); err != nil {
		return nil, fail("Session cancelled", err)
	}

	// Stage 3: chairman synthesis
	state = StateStage3Running
	emitter.Emit(Stage3StartEvent{})

	stage3Result, err := p.runStage3(ctx, session.Query, stage1Results, stage2Results)
	if err != nil {
		return nil, fail(fmt.Sprintf("Stage 3 failed: %v", err), err)
	}
	emitter.Emit(Stage3CompleteEvent{Result: *stage3Result})

	result := &CouncilResult{
		Stage1:   stage1Results,
		Stage2:   stage2Results,
		Stage3:   *stage3Result,
		Metadata: metadata,
	}

	if p.store != nil && session.ConversationID != "" {
		if err := p.store.AppendAssistantMessage(session.ConversationID, result); err != nil {
			return nil, fail(fmt.Sprintf("Failed to save message: %v", err), err)
		}
	}

	state = StateCompleted
	session.Status = SessionCompleted
	emitter.Emit(CompleteEvent{})

	return result, nil
}

// runStage1 queries all council models in parallel and keeps the usable
// responses in submission order, so later anonymization labels are
// deterministic for a given roster.
func (p *CouncilPipeline) runStage1(ctx context.Context, userQuery string) ([]Stage1Response, error) {
	timerID := p.monitor.StartStage(1)
	defer p.monitor.EndStage(timerID)

	messages := []OpenRouterMessage{
		{Role: "user", Content: userQuery},
	}

	calls := make([]ModelCall, 0, len(p.cfg.CouncilModels))
	for _, model := range p.cfg.CouncilModels {
		calls = append(calls, ModelCall{Model: model, Messages: messages})
	}

	log.Printf("Stage 1: querying %d models", len(calls))
	results := p.collector.Collect(ctx, calls)

	usable := CountUsable(results)
	log.Printf("Stage 1: collected %d/%d responses", usable, len(calls))

	if usable < p.cfg.MinSuccessful {
		return nil, fmt.Errorf("%w: %d/%d models responded (minimum %d)",
			ErrInsufficientResponses, usable, len(calls), p.cfg.MinSuccessful)
	}

	stage1Results := make([]Stage1Response, 0, usable)
	for _, result := range results {
		if result.OK() {
			stage1Results = append(stage1Results, Stage1Response{
				Model:    result.Model,
				Response: result.Response.Content,
			})
		}
	}

	return stage1Results, nil
}

// runStage2 has the council rank the anonymized Stage 1 responses. By default
// the reviewers are the Stage 1 survivors; reviewers_include_failed restores
// the full roster.
func (p *CouncilPipeline) runStage2(ctx context.Context, userQuery string, stage1Results []Stage1Response) ([]Stage2Ranking, *AnonymizationMap, error) {
	timerID := p.monitor.StartStage(2)
	defer p.monitor.EndStage(timerID)

	anonymizedText, anon := AnonymizeResponses(stage1Results)
	rankingPrompt := buildRankingPrompt(userQuery, anonymizedText)

	messages := []OpenRouterMessage{
		{Role: "user", Content: rankingPrompt},
	}

	reviewers := make([]string, 0, len(stage1Results))
	if p.cfg.ReviewersIncludeFailed {
		reviewers = append(reviewers, p.cfg.CouncilModels...)
	} else {
		for _, result := range stage1Results {
			reviewers = append(reviewers, result.Model)
		}
	}

	calls := make([]ModelCall, 0, len(reviewers))
	for _, model := range reviewers {
		calls = append(calls, ModelCall{Model: model, Messages: messages})
	}

	log.Printf("Stage 2: collecting rankings from %d reviewers", len(calls))
	results := p.collector.Collect(ctx, calls)

	usable := CountUsable(results)
	log.Printf("Stage 2: collected %d/%d rankings", usable, len(calls))

	if usable < p.cfg.MinSuccessful {
		return nil, nil, fmt.Errorf("%w: %d/%d reviewers responded (minimum %d)",
			ErrInsufficientResponses, usable, len(calls), p.cfg.MinSuccessful)
	}

	stage2Results := make([]Stage2Ranking, 0, usable)
	for _, result := range results {
		if result.OK() {
			fullText := result.Response.Content
			stage2Results = append(stage2Results, Stage2Ranking{
				Model:         result.Model,
				Ranking:       fullText,
				ParsedRanking: ParseRankingFromText(fullText, anon.Labels),
			})
		}
	}

	return stage2Results, anon, nil
}

// runStage3 performs the chairman synthesis. This is a single call; there is
// no pipeline-level retry beyond what the rate limiter already did.
func (p *CouncilPipeline) runStage3(ctx context.Context, userQuery string, stage1Results []Stage1Response, stage2Results []Stage2Ranking) (*Stage3Response, error) {
	timerID := p.monitor.StartStage(3)
	defer p.monitor.EndStage(timerID)

	chairmanPrompt := buildChairmanPrompt(userQuery, stage1Results, stage2Results)
	messages := []OpenRouterMessage{
		{Role: "user", Content: chairmanPrompt},
	}

	log.Printf("Stage 3: chairman (%s) synthesizing final answer", p.cfg.ChairmanModel)

	response, err := p.client.QueryModel(ctx, p.cfg.ChairmanModel, messages, p.cfg.QueryTimeout())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChairmanFailure, err)
	}

	return &Stage3Response{
		Model:    p.cfg.ChairmanModel,
		Response: response.Content,
	}, nil
}

// buildRankingPrompt builds the Stage 2 peer-review prompt around the
// anonymized responses.
func buildRankingPrompt(userQuery, anonymizedResponses string) string {
	return fmt.Sprintf(`You are evaluating different responses to the following question:

Question: %s

Here are the responses from different models (anonymized):

%s

Your task:
1. First, evaluate each response individually. For each response, explain what it does well and what it does poorly.
2. Then, at the very end of your response, provide a final ranking.

IMPORTANT: Your final ranking MUST be formatted EXACTLY as follows:
- Start with the line "FINAL RANKING:" (all caps, with colon)
- Then list the responses from best to worst as a numbered list
- Each line should be: number, period, space, then ONLY the response label (e.g., "1. Response A")
- Do not add any other text or explanations in the ranking section

Example of the correct format for your ENTIRE response:

Response A provides good detail on X but misses Y...
Response B is accurate but lacks depth on Z...
Response C offers the most comprehensive answer...

FINAL RANKING:
1. Response C
2. Response A
3. Response B

Now provide your evaluation and ranking:`, userQuery, anonymizedResponses)
}

// buildChairmanPrompt builds the Stage 3 synthesis prompt from the full
// Stage 1 text and Stage 2 rankings.
func buildChairmanPrompt(userQuery string, stage1Results []Stage1Response, stage2Results []Stage2Ranking) string {
	var stage1Text strings.Builder
	for _, result := range stage1Results {
		stage1Text.WriteString(fmt.Sprintf("Model: %s\nResponse: %s\n\n", result.Model, result.Response))
	}

	var stage2Text strings.Builder
	for _, result := range stage2Results {
		stage2Text.WriteString(fmt.Sprintf("Model: %s\nRanking: %s\n\n", result.Model, result.Ranking))
	}

	return fmt.Sprintf(`You are the Chairman of an LLM Council. Multiple AI models have provided responses to a user's question, and then ranked each other's responses.

Original Question: %s

STAGE 1 - Individual Responses:
%s

STAGE 2 - Peer Rankings:
%s

Your task as Chairman is to synthesize all of this information into a single, comprehensive, accurate answer to the user's original question. Consider:
- The individual responses and their insights
- The peer rankings and what they reveal about response quality
- Any patterns of agreement or disagreement

Provide a clear, well-reasoned final answer that represents the council's collective wisdom:`, userQuery, stage1Text.String(), stage2Text.String())
}

// GenerateTitle generates a short conversation title for the user's query
// using the configured fast model.
func (p *CouncilPipeline) GenerateTitle(ctx context.Context, userQuery string) (string, error) {
	titlePrompt := fmt.Sprintf(`Generate a very short title (3-5 words maximum) that summarizes the following question.
The title should be concise and descriptive. Do not use quotes or punctuation in the title.

Question: %s

Title:`, userQuery)

	messages := []OpenRouterMessage{
		{Role: "user", Content: titlePrompt},
	}

	response, err := p.client.QueryModel(ctx, p.cfg.TitleModel, messages, p.cfg.TitleTimeout())
	if err != nil {
		return "", fmt.Errorf("title generation failed: %w", err)
	}

	title := strings.TrimSpace(response.Content)
	title = strings.Trim(title, "\"'")

	if len(title) > 50 {
		title = title[:47] + "..."
	}

	return title, nil
}
