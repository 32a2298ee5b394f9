package index

import "fmt"

// Corpus is the ordered sequence of chunk texts aligned positionally with the
// index vectors: the text at ordinal i belongs to the vector at ordinal i.
// Callers append to both in lock-step.
type Corpus struct {
	texts []string
}

// NewCorpus creates an empty corpus.
func NewCorpus() *Corpus { return &Corpus{} }

// Len returns the number of stored texts.
func (c *Corpus) Len() int { return len(c.texts) }

// Append extends the stored sequence. The caller guarantees the count and
// order match the corresponding Index.Add call.
func (c *Corpus) Append(texts []string) {
	c.texts = append(c.texts, texts...)
}

// Get returns the texts for the given ordinals, preserving their order.
func (c *Corpus) Get(ordinals []int) ([]string, error) {
	out := make([]string, len(ordinals))
	for i, ord := range ordinals {
		if ord < 0 || ord >= len(c.texts) {
			return nil, fmt.Errorf("%w: ordinal %d, corpus size %d", ErrOutOfRange, ord, len(c.texts))
		}
		out[i] = c.texts[ord]
	}
	return out, nil
}
