package belief

import (
	"math"
	"strings"
)

// Jaccard is the lexical fallback similarity: token-set overlap of the two
// statements. It is deliberately crude; when an embedder is configured the
// merge pass uses cosine similarity over embeddings instead.
func Jaccard(a, b string) float64 {
	wa := tokenSet(a)
	wb := tokenSet(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 1.0
	}
	if len(wa) == 0 || len(wb) == 0 {
		return 0.0
	}
	inter := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

// Cosine returns the cosine similarity of two embedding vectors, or 0 when
// either vector is degenerate or the dimensions disagree.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0.0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?'\"()")
		if len(w) > 2 {
			out[w] = struct{}{}
		}
	}
	return out
}
