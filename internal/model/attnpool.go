package model

import (
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/lorallama/internal/tensor"
)

// attnContext is the read-only input shared by every head plus the arenas
// each head writes its own disjoint slice of.
type attnContext struct {
	q, k, v []float32 // head-major: [nHead|kvHeads, seq, headDim]

	scores  []float32 // [nHead, seq, seq]
	attnOut []float32 // [nHead, seq, headDim]

	seq, headDim   int
	nHead, kvHeads int
	scale          float32
	causal         bool
}

func attnWorkersFor(nHead int) int {
	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	if nHead > 0 && workers > nHead {
		workers = nHead
	}
	if workers < 1 {
		return 1
	}
	return workers
}

// kvHeadFor maps query head h to the key/value head it shares. Consecutive
// runs of nHead/kvHeads query heads map to the same KV head.
func kvHeadFor(h, nHead, kvHeads int) int {
	return h / (nHead / kvHeads)
}

// runAttnHeads fans the heads out over a bounded set of goroutines. Heads
// only read q/k/v and only write their own scores/attnOut regions, so no
// locking is needed.
func runAttnHeads(ctx *attnContext) {
	var g errgroup.Group
	g.SetLimit(attnWorkersFor(ctx.nHead))
	for h := 0; h < ctx.nHead; h++ {
		g.Go(func() error {
			runAttnHead(ctx, h)
			return nil
		})
	}
	// Head workers never return an error.
	g.Wait()
}

func runAttnHead(ctx *attnContext, h int) {
	seq, hd := ctx.seq, ctx.headDim
	kvHead := kvHeadFor(h, ctx.nHead, ctx.kvHeads)

	qh := ctx.q[h*seq*hd : (h+1)*seq*hd]
	kh := ctx.k[kvHead*seq*hd : (kvHead+1)*seq*hd]
	vh := ctx.v[kvHead*seq*hd : (kvHead+1)*seq*hd]
	scores := ctx.scores[h*seq*seq : (h+1)*seq*seq]
	out := ctx.attnOut[h*seq*hd : (h+1)*seq*hd]

	// scores = Q·Kᵀ / sqrt(head_dim)
	tensor.Gemm(scores, qh, kh, seq, hd, seq, true)
	negInf := float32(math.Inf(-1))
	for i := 0; i < seq; i++ {
		row := scores[i*seq : (i+1)*seq]
		for j := range row {
			if ctx.causal && j > i {
				row[j] = negInf
				continue
			}
			row[j] *= ctx.scale
		}
	}
	tensor.SoftmaxRows(scores, seq)
	tensor.Gemm(out, scores, vh, seq, seq, hd, false)
}
