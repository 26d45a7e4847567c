// Package retrieval runs the dense, sparse and graph retrievers behind one
// capability interface and gathers their results concurrently, each under
// its own deadline. A retriever that fails or times out contributes an empty
// list; the round never fails as a whole.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/54b3r/edupolicy-go/internal/graph"
	"github.com/54b3r/edupolicy-go/internal/logging"
	"github.com/54b3r/edupolicy-go/internal/rag"
)

// ErrTimeout is recorded when a retriever misses its per-call deadline.
var ErrTimeout = errors.New("retrieval timeout")

// Request is one retrieval round's plan.
type Request struct {
	// Text is the (possibly expanded) query text.
	Text string
	// Entities seed the graph traversal.
	Entities []string
	// K is the per-source result budget.
	K int
	// Filters restrict dense and sparse results by chunk metadata.
	Filters rag.Filters
	// MaxHops bounds the graph traversal.
	MaxHops int
}

// Outcome is what one retriever produced.
type Outcome struct {
	Hits []rag.Hit
	// Graph is set by the graph retriever only.
	Graph *graph.Result
}

// Retriever is the capability every evidence source implements.
type Retriever interface {
	Source() rag.Source
	Retrieve(ctx context.Context, req *Request) (Outcome, error)
}

// Status records one retriever's contribution to a round.
type Status struct {
	Source   rag.Source
	Hits     []rag.Hit
	Graph    *graph.Result
	Err      error
	TimedOut bool
	Duration time.Duration
}

// Observer receives one call per retriever per round. The server wires it to
// Prometheus; nil is allowed.
type Observer func(st Status)

// Gather runs every retriever concurrently, each with its own timeout derived
// from ctx, and waits for all of them. The result has one Status per
// retriever, in the order given. Failures are logged and absorbed.
func Gather(ctx context.Context, retrievers []Retriever, req *Request, timeout time.Duration, observe Observer) []Status {
	out := make([]Status, len(retrievers))
	var wg sync.WaitGroup
	for i, r := range retrievers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = runOne(ctx, r, req, timeout)
		}()
	}
	wg.Wait()

	log := logging.FromContext(ctx)
	for _, st := range out {
		if st.Err != nil {
			log.Warn("retrieval: source contributed nothing",
				slog.String("source", string(st.Source)),
				slog.Bool("timed_out", st.TimedOut),
				slog.Duration("duration", st.Duration),
				slog.String("error", st.Err.Error()),
			)
		}
		if observe != nil {
			observe(st)
		}
	}
	return out
}

func runOne(ctx context.Context, r Retriever, req *Request, timeout time.Duration) Status {
	st := Status{Source: r.Source()}
	cctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	type result struct {
		out Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		o, err := r.Retrieve(cctx, req)
		done <- result{o, err}
	}()

	// A backend that ignores its context must not hold the round open.
	select {
	case res := <-done:
		st.Duration = time.Since(start)
		if res.err != nil {
			st.Err = res.err
			if errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
				st.TimedOut = true
				st.Err = fmt.Errorf("%s: %w: %w", st.Source, ErrTimeout, res.err)
			}
			return st
		}
		st.Hits = res.out.Hits
		st.Graph = res.out.Graph
	case <-cctx.Done():
		st.Duration = time.Since(start)
		if ctx.Err() == nil {
			st.TimedOut = true
			st.Err = fmt.Errorf("%s: %w after %s", st.Source, ErrTimeout, timeout)
		} else {
			st.Err = ctx.Err()
		}
	}
	return st
}

// BySource collects the hits of a round keyed by source, the shape the fuser
// consumes. Failed sources map to an empty list.
func BySource(statuses []Status) map[rag.Source][]rag.Hit {
	out := make(map[rag.Source][]rag.Hit, len(statuses))
	for _, st := range statuses {
		out[st.Source] = append(out[st.Source], st.Hits...)
	}
	return out
}
