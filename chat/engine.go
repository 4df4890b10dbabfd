// Package chat answers questions about the indexed catalog, one at a time,
// keeping the conversation history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/bookrag/metrics"
	"github.com/aluiziolira/bookrag/models"
	"github.com/aluiziolira/bookrag/provider"
)

// DefaultTopK is the number of chunks retrieved per question.
const DefaultTopK = 4

// DefaultHistoryTurns bounds how many past turns feed the retrieval query.
const DefaultHistoryTurns = 3

// ErrBusy is returned when a question arrives while another is being answered.
var ErrBusy = errors.New("a query is already in flight")

// ErrEmptyQuestion is returned for blank questions.
var ErrEmptyQuestion = errors.New("question is empty")

// QueryError reports a failed question. The conversation is unchanged.
type QueryError struct {
	Stage string // "condense", "retrieve" or "complete"
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed during %s: %v", e.Stage, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Retriever returns the texts most relevant to query, best first.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]string, error)
}

// State is the engine's position in its Idle/Answering cycle.
type State int

const (
	Idle State = iota
	Answering
)

func (s State) String() string {
	if s == Answering {
		return "answering"
	}
	return "idle"
}

// Options configures an Engine.
type Options struct {
	TopK int
	// CondenseQuestion rewrites follow-ups into standalone questions with
	// the completer before retrieval.
	CondenseQuestion bool
	// HistoryTurns caps the past turns folded into the retrieval query;
	// zero means DefaultHistoryTurns.
	HistoryTurns int
	Metrics      *metrics.Metrics
}

// Engine owns one conversation.
type Engine struct {
	retriever Retriever
	completer provider.Completer
	topK      int
	history   int
	condense  bool
	metrics   *metrics.Metrics

	mu        sync.Mutex
	answering atomic.Bool
	turns     []models.Turn
}

// NewEngine creates an engine with an empty conversation.
func NewEngine(retriever Retriever, completer provider.Completer, opts Options) *Engine {
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	history := opts.HistoryTurns
	if history <= 0 {
		history = DefaultHistoryTurns
	}
	return &Engine{
		retriever: retriever,
		completer: completer,
		topK:      topK,
		history:   history,
		condense:  opts.CondenseQuestion,
		metrics:   opts.Metrics,
	}
}

// State reports whether a question is being answered.
func (e *Engine) State() State {
	if e.answering.Load() {
		return Answering
	}
	return Idle
}

// Turns returns a copy of the conversation so far.
func (e *Engine) Turns() []models.Turn {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Turn, len(e.turns))
	copy(out, e.turns)
	return out
}

// Ask answers question in the context of the conversation. On success the
// turn is appended; on failure the conversation is left as it was and the
// error is a *QueryError. Ask returns ErrBusy instead of waiting when
// another question is in flight.
func (e *Engine) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	if !e.mu.TryLock() {
		return "", ErrBusy
	}
	defer e.mu.Unlock()

	e.answering.Store(true)
	defer e.answering.Store(false)

	start := time.Now()
	answer, err := e.answer(ctx, question)
	if err != nil {
		e.metrics.ObserveQuery("error", time.Since(start))
		slog.Warn("query failed", slog.String("question", question), slog.Any("error", err))
		return "", err
	}

	e.turns = append(e.turns, models.Turn{Question: question, Answer: answer})
	e.metrics.ObserveQuery("ok", time.Since(start))
	slog.Debug("query answered",
		slog.Int("turns", len(e.turns)),
		slog.Duration("duration", time.Since(start)),
	)
	return answer, nil
}

func (e *Engine) answer(ctx context.Context, question string) (string, error) {
	history := e.turns

	query := RetrievalQuery(history, question, e.history)
	if e.condense && len(history) > 0 {
		standalone, err := e.completer.Complete(ctx, CondensePrompt(history, question), nil)
		if err != nil {
			return "", &QueryError{Stage: "condense", Err: err}
		}
		query = strings.TrimSpace(standalone)
	}

	texts, err := e.retriever.Retrieve(ctx, query, e.topK)
	if err != nil {
		return "", &QueryError{Stage: "retrieve", Err: err}
	}

	answer, err := e.completer.Complete(ctx, BuildPrompt(texts, question), history)
	if err != nil {
		return "", &QueryError{Stage: "complete", Err: err}
	}
	return answer, nil
}

// RetrievalQuery conjoins the last maxTurns prior turns with the new
// question. maxTurns <= 0 keeps the question alone.
func RetrievalQuery(history []models.Turn, question string, maxTurns int) string {
	if len(history) == 0 || maxTurns <= 0 {
		return question
	}
	if len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}
	var sb strings.Builder
	for _, t := range history {
		sb.WriteString(t.Question)
		sb.WriteString("\n")
		sb.WriteString(t.Answer)
		sb.WriteString("\n")
	}
	sb.WriteString(question)
	return sb.String()
}

// BuildPrompt numbers the retrieved excerpts and appends the question.
func BuildPrompt(texts []string, question string) string {
	var sb strings.Builder
	sb.WriteString("<excerpts>\n")
	for i, text := range texts {
		fmt.Fprintf(&sb, "<excerpt index=\"%d\">\n%s\n</excerpt>\n", i+1, text)
	}
	sb.WriteString("</excerpts>\n\n")
	fmt.Fprintf(&sb, "Question: %s", question)
	return sb.String()
}

// CondensePrompt asks for the follow-up rephrased as a standalone question.
func CondensePrompt(history []models.Turn, question string) string {
	var sb strings.Builder
	sb.WriteString("Given the following conversation and a follow up question, ")
	sb.WriteString("rephrase the follow up question to be a standalone question.\n\n")
	sb.WriteString("Chat History:\n")
	for _, t := range history {
		fmt.Fprintf(&sb, "Human: %s\nAssistant: %s\n", t.Question, t.Answer)
	}
	fmt.Fprintf(&sb, "Follow Up Input: %s\nStandalone question:", question)
	return sb.String()
}
