package model

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/samcharles93/lorallama/internal/tensor"
)

// Candidate is one vocabulary entry ranked by logit.
type Candidate struct {
	Token int     `json:"token"`
	Logit float32 `json:"logit"`
	Prob  float32 `json:"prob"`
}

// TopK ranks the k highest logits of every row of a [seq, vocab] tensor.
// Probabilities come from a softmax over the full row. Ties keep the lower
// token id first.
func TopK(logits *tensor.Tensor, k int) ([][]Candidate, error) {
	if logits.Rank() != 2 {
		return nil, fmt.Errorf("%w: logits must be [seq, vocab], got %v", tensor.ErrShapeMismatch, logits.Shape())
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: top-k %d must be positive", tensor.ErrConfigInvalid, k)
	}
	probs, err := tensor.Softmax(logits, -1)
	if err != nil {
		return nil, err
	}
	seq, vocab := logits.Dim(0), logits.Dim(1)
	k = min(k, vocab)
	out := make([][]Candidate, seq)
	for r := range out {
		row := logits.Data()[r*vocab : (r+1)*vocab]
		p := probs.Data()[r*vocab : (r+1)*vocab]
		cands := make([]Candidate, vocab)
		for i, v := range row {
			cands[i] = Candidate{Token: i, Logit: v, Prob: p[i]}
		}
		slices.SortStableFunc(cands, func(a, b Candidate) int { return cmp.Compare(b.Logit, a.Logit) })
		out[r] = cands[:k:k]
	}
	return out, nil
}
