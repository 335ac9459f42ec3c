package grading

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/noah-isme/gema-grader/pkg/ai"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// scriptedGenerator returns queued replies in order; the last entry repeats.
type scriptedGenerator struct {
	mu      sync.Mutex
	replies []generatorReply
	calls   []ai.GenerateRequest
}

type generatorReply struct {
	text string
	err  error
}

func (g *scriptedGenerator) Generate(_ context.Context, req ai.GenerateRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, req)
	idx := len(g.calls) - 1
	if idx >= len(g.replies) {
		idx = len(g.replies) - 1
	}
	reply := g.replies[idx]
	return reply.text, reply.err
}

func (g *scriptedGenerator) Calls() []ai.GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ai.GenerateRequest, len(g.calls))
	copy(out, g.calls)
	return out
}

// stubGrader replays one result per call: index 0 is the initial grade.
type stubGrader struct {
	mu      sync.Mutex
	name    string
	results []AgentResult
	errs    []error
	peers   []*PeerReview
}

func (s *stubGrader) Name() string { return s.name }

func (s *stubGrader) Grade(_ context.Context, _ GradingRequest, peer *PeerReview) (AgentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := len(s.peers)
	s.peers = append(s.peers, peer)
	if idx < len(s.errs) && s.errs[idx] != nil {
		return AgentResult{}, s.errs[idx]
	}
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	return s.results[idx], nil
}

func (s *stubGrader) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

type stubArbiter struct {
	mu     sync.Mutex
	result AgentResult
	err    error
	calls  int
}

func (s *stubArbiter) Arbitrate(context.Context, GradingRequest, AgentResult, AgentResult) (AgentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.result, s.err
}

type fixedSimilarity struct {
	score float64
}

func (f fixedSimilarity) Compare(_ context.Context, a, b string) SimilarityResult {
	if a == b {
		return SimilarityResult{Score: 1, Method: MethodIdentical}
	}
	return SimilarityResult{Score: f.score, Method: MethodLexical}
}

type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (s stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	vec, ok := s.vectors[text]
	if !ok {
		return nil, errors.New("unknown text")
	}
	return vec, nil
}

type stubCompleter struct {
	reply string
	err   error
}

func (s stubCompleter) Complete(context.Context, ai.GenerateRequest) (string, string, error) {
	return s.reply, "analyst-model", s.err
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.QuestionDelay = 0
	cfg.BatchTimeout = 0
	return cfg
}

// stallingGrader answers the initial grade and then waits for ctx on every peer round.
type stallingGrader struct {
	name    string
	initial AgentResult
	mu      sync.Mutex
	calls   int
}

func (s *stallingGrader) Name() string { return s.name }

func (s *stallingGrader) Grade(ctx context.Context, _ GradingRequest, peer *PeerReview) (AgentResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if peer == nil {
		return s.initial, nil
	}
	<-ctx.Done()
	return AgentResult{}, ctx.Err()
}
