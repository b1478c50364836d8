// Package eval compares answers produced with and without retrieval on a
// fixed question set, using a judge model to pick the better one.
package eval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode"

	"github.com/54b3r/lexrag/internal/index"
	"github.com/54b3r/lexrag/internal/logging"
	"github.com/54b3r/lexrag/internal/rag"
)

const (
	baselineTemplate = "Answer the following question as concisely as possible: %s"

	judgeTemplate = "For the given question there are two possible answers, 'O' and 'R'. " +
		"Which gives the best answer to the question? " +
		"STRICTLY respond with the letter 'O' or 'R' only. " +
		"Question: %s. Reference answer: %s. Answer O: %s. Answer R: %s"
)

// Case is one entry of the question set file.
type Case struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Verdict is the judge's pick for one case.
type Verdict string

const (
	VerdictBaseline Verdict = "O"
	VerdictRAG      Verdict = "R"
	// VerdictInvalid marks a judge reply that named neither answer.
	VerdictInvalid Verdict = "?"
)

// Outcome holds everything produced for one case. Err is set when any of the
// three calls failed; the remaining fields hold what was collected before it.
type Outcome struct {
	Question string
	Baseline string
	RAG      string
	Judge    string
	Verdict  Verdict
	Err      error
}

// Tally counts verdicts across a run.
type Tally struct {
	Cases    int
	Baseline int
	RAG      int
	Invalid  int
	Errors   int
}

// Share returns the fraction of decided cases won by v.
func (t Tally) Share(v Verdict) float64 {
	decided := t.Baseline + t.RAG
	if decided == 0 {
		return 0
	}
	switch v {
	case VerdictBaseline:
		return float64(t.Baseline) / float64(decided)
	case VerdictRAG:
		return float64(t.RAG) / float64(decided)
	default:
		return 0
	}
}

// Answerer produces a retrieval-grounded answer. *rag.Orchestrator
// satisfies it.
type Answerer interface {
	Answer(ctx context.Context, q rag.Query) (rag.Result, error)
}

// Runner asks answerer for a RAG answer, gen for a baseline answer and the
// judge model for a verdict, case by case.
type Runner struct {
	answerer   Answerer
	gen        rag.Generator
	model      string
	judgeModel string
}

// NewRunner returns a Runner. judgeModel defaults to model when empty.
func NewRunner(answerer Answerer, gen rag.Generator, model, judgeModel string) (*Runner, error) {
	if answerer == nil {
		return nil, fmt.Errorf("eval: answerer must not be nil")
	}
	if gen == nil {
		return nil, fmt.Errorf("eval: generator must not be nil")
	}
	if judgeModel == "" {
		judgeModel = model
	}
	return &Runner{answerer: answerer, gen: gen, model: model, judgeModel: judgeModel}, nil
}

// Run evaluates every case in order. A failing case is counted in
// Tally.Errors and the run moves on. Cancellation and an empty index stop
// the run; the outcomes gathered so far are returned with the error.
func (r *Runner) Run(ctx context.Context, cases []Case, progress func(int, Outcome)) (Tally, []Outcome, error) {
	log := logging.FromContext(ctx)
	tally := Tally{}
	outcomes := make([]Outcome, 0, len(cases))

	for i, c := range cases {
		if err := ctx.Err(); err != nil {
			return tally, outcomes, err
		}
		o := r.evaluate(ctx, c)
		if errors.Is(o.Err, index.ErrEmptyMatrix) {
			return tally, outcomes, fmt.Errorf("eval: %w", o.Err)
		}
		if o.Err != nil && ctx.Err() != nil {
			return tally, outcomes, ctx.Err()
		}

		tally.Cases++
		switch {
		case o.Err != nil:
			tally.Errors++
			log.Warn("eval: case failed", slog.Int("case", i+1), slog.Any("error", o.Err))
		case o.Verdict == VerdictBaseline:
			tally.Baseline++
		case o.Verdict == VerdictRAG:
			tally.RAG++
		default:
			tally.Invalid++
			log.Warn("eval: judge reply not understood", slog.Int("case", i+1), slog.String("reply", o.Judge))
		}
		outcomes = append(outcomes, o)
		if progress != nil {
			progress(i, o)
		}
	}
	return tally, outcomes, nil
}

func (r *Runner) evaluate(ctx context.Context, c Case) Outcome {
	o := Outcome{Question: c.Question}

	// Retrieval first, so an empty index is reported before any backend call.
	res, err := r.answerer.Answer(ctx, rag.Query{Prompt: c.Question})
	if err != nil {
		o.Err = fmt.Errorf("rag: %w", err)
		return o
	}
	o.RAG = strings.TrimSpace(res.Response.Body)

	base, err := r.gen.Generate(ctx, r.model, fmt.Sprintf(baselineTemplate, c.Question))
	if err != nil {
		o.Err = fmt.Errorf("baseline: %w", &rag.BackendError{Model: r.model, Err: err})
		return o
	}
	o.Baseline = strings.TrimSpace(base)

	reply, err := r.gen.Generate(ctx, r.judgeModel, JudgePrompt(c, o.Baseline, o.RAG))
	if err != nil {
		o.Err = fmt.Errorf("judge: %w", &rag.BackendError{Model: r.judgeModel, Err: err})
		return o
	}
	o.Judge = strings.TrimSpace(reply)
	o.Verdict = ParseVerdict(reply)
	return o
}

// JudgePrompt renders the comparison prompt for one case.
func JudgePrompt(c Case, baseline, ragAnswer string) string {
	return fmt.Sprintf(judgeTemplate, c.Question, c.Answer, baseline, ragAnswer)
}

// ParseVerdict reads the judge's reply. Surrounding quotes, punctuation and
// case are ignored; anything that is not a lone O or R is VerdictInvalid.
func ParseVerdict(reply string) Verdict {
	s := strings.TrimFunc(reply, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	switch strings.ToUpper(s) {
	case "O":
		return VerdictBaseline
	case "R":
		return VerdictRAG
	}
	// "Answer R" and similar short forms.
	if fields := strings.Fields(s); len(fields) == 2 && strings.EqualFold(fields[0], "answer") {
		return ParseVerdict(fields[1])
	}
	return VerdictInvalid
}

// LoadCases reads a JSON array of {question, answer} objects.
func LoadCases(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("eval: read %s: %w", path, err)
	}
	var cases []Case
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("eval: parse %s: %w", path, err)
	}
	for i, c := range cases {
		if strings.TrimSpace(c.Question) == "" {
			return nil, fmt.Errorf("eval: %s: case %d has no question", path, i+1)
		}
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("eval: %s contains no cases", path)
	}
	return cases, nil
}
