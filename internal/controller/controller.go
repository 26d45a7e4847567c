// Package controller drives one question through planning, iterative
// retrieval, generation and citation verification. It is an explicit state
// machine: Step performs exactly the work of the current phase and returns
// the next state; Run loops Step until the phase is done.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/edupolicy-go/internal/citation"
	"github.com/54b3r/edupolicy-go/internal/fusion"
	"github.com/54b3r/edupolicy-go/internal/graph"
	"github.com/54b3r/edupolicy-go/internal/lang"
	"github.com/54b3r/edupolicy-go/internal/logging"
	"github.com/54b3r/edupolicy-go/internal/provider"
	"github.com/54b3r/edupolicy-go/internal/rag"
	"github.com/54b3r/edupolicy-go/internal/retrieval"
)

// ErrNoEvidence is recorded when every round came back empty.
var ErrNoEvidence = errors.New("no evidence")

// ErrEmptyQuery is returned by Run for a blank question.
var ErrEmptyQuery = errors.New("controller: query is empty")

// ErrSimulatedFailure stands in for a generation outage when a request asks
// for one. Clients use it to exercise their degraded-answer handling.
var ErrSimulatedFailure = fmt.Errorf("controller: simulated failure: %w", provider.ErrGenerationUnavailable)

// Answers used when no grounded answer can be produced.
const (
	NoEvidenceAnswer = "[no evidence] No passages in the policy corpus address this question. " +
		"Try rephrasing it or naming the specific policy, scheme or programme."
	DegradedAnswer = "[degraded] The answer service is temporarily unavailable, so no answer could be generated. " +
		"Please try again shortly."
)

// Phase is a controller state.
type Phase string

const (
	PhasePlanning   Phase = "planning"
	PhaseRetrieving Phase = "retrieving"
	PhaseEvaluating Phase = "evaluating"
	PhaseGenerating Phase = "generating"
	PhaseVerifying  Phase = "verifying"
	PhaseDone       Phase = "done"
)

// Termination records why a run reached PhaseDone.
type Termination string

const (
	TermAnswered        Termination = "answered"
	TermMaxIterations   Termination = "max-iterations-reached"
	TermUpstreamFailure Termination = "upstream-failure"
)

// EntityExtractor finds graph entity names in question text.
type EntityExtractor interface {
	Extract(ctx context.Context, text string) ([]string, error)
}

// Deps holds the long-lived collaborators shared by every query. Built once
// at process start; safe for concurrent use.
type Deps struct {
	Retrievers []retrieval.Retriever
	Extractor  EntityExtractor
	Chunks     rag.ChunkReader
	Generator  provider.Generator
	Policy     Policy
	// Observer receives per-retriever round status. May be nil.
	Observer retrieval.Observer
}

// Request is one question.
type Request struct {
	Query        string
	Model        string
	ThinkingMode ThinkingMode
	// Filters restrict round-1 dense and sparse retrieval by metadata.
	Filters rag.Filters
	// SimulateFailure makes generation fail after retrieval has run.
	SimulateFailure bool
}

// Round records one retrieval round.
type Round struct {
	Iteration int
	Plan      retrieval.Request
	// Hits holds the raw chunk ids each source returned, in rank order.
	Hits map[rag.Source][]string
	// Failed maps a source to the reason it contributed nothing.
	Failed map[rag.Source]string
	Fused  fusion.EvidenceSet
}

// State is the controller's working state for one question. It is created
// by Start, advanced only by Step, and never persisted.
type State struct {
	Query   lang.Query
	ModelID string
	Mode    ThinkingMode
	Filters rag.Filters
	// Simulate forces the generating phase to fail.
	Simulate bool

	Phase     Phase
	Iteration int
	Plan      retrieval.Request
	Entities  []string
	// Discovered accumulates graph node names reached over all rounds.
	Discovered []string
	Graph      *graph.Result
	Evidence   fusion.EvidenceSet
	Rounds     []Round
	Exhausted  bool

	Chunks map[string]rag.Chunk
	// Prompted is the evidence the generator actually saw. Citations are
	// verified against it, not against Evidence.
	Prompted     fusion.EvidenceSet
	Draft        *Draft
	Verification citation.Result

	Answer      string
	Citations   []citation.Citation
	Termination Termination
	Err         error
}

// Controller runs questions against a fixed set of dependencies.
type Controller struct {
	deps   Deps
	policy Policy
}

// New returns a Controller. Out-of-range policy values are clamped.
func New(deps Deps) *Controller {
	return &Controller{deps: deps, policy: deps.Policy.normalized()}
}

// Policy returns the effective policy.
func (c *Controller) Policy() Policy { return c.policy }

// Start returns the initial state for req.
func (c *Controller) Start(req Request) State {
	mode := req.ThinkingMode
	if mode == "" {
		mode = ModeSmart
	}
	return State{
		Query:    lang.Query{Raw: req.Query},
		ModelID:  req.Model,
		Mode:     mode,
		Filters:  req.Filters,
		Simulate: req.SimulateFailure,
		Phase:    PhasePlanning,
	}
}

// Run answers one question. The only error is ErrEmptyQuery; backend
// failures degrade the result instead.
func (c *Controller) Run(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	st := c.Start(req)
	for st.Phase != PhaseDone {
		st = c.Step(ctx, st)
	}
	return st.Result(), nil
}

// Step performs the work of st.Phase and returns the successor state.
// A done context moves any non-terminal state to done with
// upstream-failure.
func (c *Controller) Step(ctx context.Context, st State) State {
	if st.Phase == PhaseDone {
		return st
	}
	log := logging.FromContext(ctx)
	if err := ctx.Err(); err != nil {
		return c.fail(log, st, err, "context done")
	}

	from := st.Phase
	switch st.Phase {
	case PhasePlanning:
		st = c.plan(ctx, st)
	case PhaseRetrieving:
		st = c.retrieve(ctx, st)
	case PhaseEvaluating:
		st = c.evaluate(st)
	case PhaseGenerating:
		st = c.generate(ctx, st)
	case PhaseVerifying:
		st = c.verify(ctx, st)
	default:
		return c.fail(log, st, fmt.Errorf("controller: unknown phase %q", st.Phase), "invalid state")
	}
	log.Debug("controller: step",
		slog.String("from", string(from)),
		slog.String("to", string(st.Phase)),
		slog.Int("iteration", st.Iteration),
		slog.Int("evidence", len(st.Evidence)),
	)
	return st
}

func (c *Controller) plan(ctx context.Context, st State) State {
	st.Query = lang.NewQuery(st.Query.Raw)
	var entities []string
	if c.deps.Extractor != nil {
		var err error
		entities, err = c.deps.Extractor.Extract(ctx, st.Query.Normalized)
		if err != nil {
			logging.FromContext(ctx).Warn("controller: entity extraction failed, continuing without graph seeds",
				slog.String("error", err.Error()),
			)
			entities = nil
		}
	}
	st.Entities = entities
	st.Plan = c.policy.Initial(st.Query.Normalized, entities, st.Filters)
	st.Phase = PhaseRetrieving
	return st
}

func (c *Controller) retrieve(ctx context.Context, st State) State {
	plan := st.Plan
	statuses := retrieval.Gather(ctx, c.deps.Retrievers, &plan, c.policy.RetrievalTimeout, c.deps.Observer)
	if err := ctx.Err(); err != nil {
		return c.fail(logging.FromContext(ctx), st, err, "context done during retrieval")
	}

	round := Round{
		Iteration: st.Iteration + 1,
		Plan:      plan,
		Hits:      make(map[rag.Source][]string, len(statuses)),
		Failed:    map[rag.Source]string{},
	}
	discovered := append([]string(nil), st.Discovered...)
	for _, s := range statuses {
		ids := make([]string, len(s.Hits))
		for i, h := range s.Hits {
			ids[i] = h.ChunkID
		}
		round.Hits[s.Source] = ids
		if s.Err != nil {
			round.Failed[s.Source] = s.Err.Error()
		}
		if s.Graph != nil && len(s.Graph.Seeds) > 0 {
			st.Graph = s.Graph
			discovered = append(discovered, s.Graph.Discovered...)
		}
	}
	round.Fused = fusion.Fuse(c.policy.TopN, retrieval.BySource(statuses))

	st.Discovered = sortedUnique(discovered)
	st.Evidence = fusion.Merge(c.policy.TopN, st.Evidence, round.Fused)
	st.Rounds = append(append([]Round(nil), st.Rounds...), round)
	st.Iteration++
	st.Phase = PhaseEvaluating
	return st
}

func (c *Controller) evaluate(st State) State {
	switch {
	case c.policy.Sufficient(st.Evidence):
		st.Phase = PhaseGenerating
	case st.Iteration < c.policy.MaxIterations:
		st.Plan = c.policy.Refine(st.Iteration+1, st.Query.Normalized, st.Entities, st.Discovered)
		st.Phase = PhaseRetrieving
	case len(st.Evidence) > 0:
		st.Exhausted = true
		st.Phase = PhaseGenerating
	default:
		st.Exhausted = true
		st.Answer = NoEvidenceAnswer
		st.Citations = []citation.Citation{}
		st.Termination = TermMaxIterations
		st.Err = ErrNoEvidence
		st.Phase = PhaseDone
	}
	return st
}

func (c *Controller) generate(ctx context.Context, st State) State {
	log := logging.FromContext(ctx)
	if st.Simulate {
		return c.fail(log, st, ErrSimulatedFailure, "simulating generation failure as requested")
	}
	chunks, err := c.deps.Chunks.GetChunks(ctx, st.Evidence.IDs())
	if err != nil {
		return c.fail(log, st, err, "loading evidence chunks failed")
	}
	st.Chunks = chunks

	msgs, prompted := buildMessages(st.Query, st.Mode, st.Evidence, chunks, c.policy.ContextTokens)
	st.Prompted = prompted
	raw, err := c.deps.Generator.Generate(ctx, st.ModelID, msgs)
	if err != nil {
		return c.fail(log, st, err, "generation failed")
	}
	d := ParseDraft(raw)
	st.Draft = &d
	st.Phase = PhaseVerifying
	return st
}

func (c *Controller) verify(ctx context.Context, st State) State {
	res := citation.Verify(st.Draft.Claims, st.Prompted, st.Chunks)
	if len(res.Dropped) > 0 {
		logging.FromContext(ctx).Warn("controller: dropped unverifiable citations",
			slog.Any("chunk_ids", res.Dropped),
			slog.String("reason", citation.ErrCitationUnverifiable.Error()),
		)
	}
	st.Verification = res
	st.Answer = removeMarkers(st.Draft.Answer, res.Dropped)
	st.Citations = res.Citations
	st.Termination = TermAnswered
	st.Phase = PhaseDone
	return st
}

// fail terminates with upstream-failure and the degraded answer.
func (c *Controller) fail(log *slog.Logger, st State, err error, msg string) State {
	log.Warn("controller: "+msg,
		slog.String("phase", string(st.Phase)),
		slog.Int("iteration", st.Iteration),
		slog.String("error", err.Error()),
	)
	if st.Query.Normalized == "" {
		st.Query = lang.NewQuery(st.Query.Raw)
	}
	st.Answer = DegradedAnswer
	st.Citations = []citation.Citation{}
	st.Termination = TermUpstreamFailure
	st.Err = err
	st.Phase = PhaseDone
	return st
}
