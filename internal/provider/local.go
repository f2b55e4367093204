package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"sort"
	"strings"

	"github.com/thebtf/bubbles/pkg/models"
	"github.com/thebtf/bubbles/pkg/vectormath"
)

// LocalEmbeddingModel names the deterministic offline embedder.
const LocalEmbeddingModel = "local-hash-v1"

// maxEmbedChars caps the text length fed into any embedder.
const maxEmbedChars = 8000

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "must": true, "shall": true,
	"this": true, "that": true, "these": true, "those": true,
	"and": true, "or": true, "but": true, "if": true, "then": true,
	"for": true, "from": true, "with": true, "about": true, "into": true,
	"to": true, "of": true, "in": true, "on": true, "at": true, "by": true,
	"it": true, "its": true, "which": true, "who": true, "what": true,
	"when": true, "where": true, "how": true, "why": true,
	"just": true, "really": true, "very": true, "also": true,
	"not": true, "you": true, "they": true, "people": true,
}

// tokenize splits text into lowercase terms, dropping stop words and
// anything shorter than three characters.
func tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_')
	})

	terms := make([]string, 0, len(words))
	for _, word := range words {
		if len(word) >= 3 && !stopWords[word] {
			terms = append(terms, word)
		}
	}
	return terms
}

// LocalEmbedder is a deterministic bag-of-words embedder: each term is
// hashed to a bucket and the bucket histogram is L2-normalized. Texts
// sharing vocabulary land near each other, and identical text always
// produces a bit-identical vector.
type LocalEmbedder struct {
	dim int
}

// NewLocalEmbedder creates a LocalEmbedder with the given dimension.
func NewLocalEmbedder(dim int) *LocalEmbedder {
	return &LocalEmbedder{dim: dim}
}

// Dim returns the embedding dimension.
func (e *LocalEmbedder) Dim() int { return e.dim }

// ModelName returns the local model identifier.
func (e *LocalEmbedder) ModelName() string { return LocalEmbeddingModel }

// Embed produces the deterministic vector for text.
func (e *LocalEmbedder) Embed(_ context.Context, text string) (models.Embedding, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Embedding{}, &ProviderError{Op: "embed", Err: fmt.Errorf("text is empty")}
	}
	text = clip(text, maxEmbedChars)

	vec := make([]float64, e.dim)
	for _, term := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(term))
		vec[int(h.Sum32())%e.dim]++
	}

	if norm := vectormath.L2Norm(vec); norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	} else {
		// All terms filtered out; fall back to a stable one-hot on the raw text.
		h := fnv.New32a()
		h.Write([]byte(text))
		vec[int(h.Sum32())%e.dim] = 1
	}

	return models.Embedding{
		Vector: vec,
		Dim:    e.dim,
		Model:  LocalEmbeddingModel,
		Hash:   models.ContentHash(LocalEmbeddingModel, text),
	}, nil
}

// EmbedBatch embeds each text in order.
func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]models.Embedding, error) {
	out := make([]models.Embedding, 0, len(texts))
	for _, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, emb)
	}
	return out, nil
}

// LocalLabeler is an extractive labeler: the label is built from the most
// frequent non-stop-word terms across the members, the essence is the first
// sentence of the first representative.
type LocalLabeler struct{}

// NewLocalLabeler creates a LocalLabeler.
func NewLocalLabeler() *LocalLabeler { return &LocalLabeler{} }

// Mode reports the local provider mode.
func (l *LocalLabeler) Mode() models.ProviderMode { return models.ProviderModeLocal }

var sentenceSplitRegex = regexp.MustCompile(`[.!?]+`)

// Label produces an extractive label and essence for the request.
func (l *LocalLabeler) Label(_ context.Context, req LabelRequest) (LabelResult, error) {
	if len(req.Representatives) == 0 {
		return LabelResult{Label: "Miscellaneous", Essence: "No comments available."}, nil
	}

	counts := make(map[string]int)
	for _, c := range req.Members {
		for _, term := range tokenize(c.Text) {
			counts[term]++
		}
	}

	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}
	// Order by frequency, ties alphabetically, so the label is deterministic.
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > 3 {
		terms = terms[:3]
	}

	label := "Miscellaneous"
	if len(terms) > 0 {
		titled := make([]string, len(terms))
		for i, term := range terms {
			titled[i] = strings.ToUpper(term[:1]) + term[1:]
		}
		label = strings.Join(titled, " / ")
	}

	essence := "Various discussion topics."
	if first := sentenceSplitRegex.Split(req.Representatives[0].Text, 2)[0]; strings.TrimSpace(first) != "" {
		essence = strings.TrimSpace(first)
		if len(essence) > 150 {
			essence = essence[:150] + "..."
		}
	}

	repIDs := make([]string, len(req.Representatives))
	for i, c := range req.Representatives {
		repIDs[i] = c.ID
	}

	return LabelResult{
		Label:                    label,
		Essence:                  essence,
		Confidence:               SizeConfidence(len(req.Members)),
		RepresentativeCommentIDs: repIDs,
	}, nil
}

// agreeTerms and disagreeTerms are a small stance lexicon for offline voting.
var (
	agreeTerms = map[string]bool{
		"agree": true, "yes": true, "exactly": true, "true": true,
		"right": true, "correct": true, "great": true, "good": true,
		"love": true, "support": true, "absolutely": true, "definitely": true,
		"thanks": true, "helpful": true, "best": true, "awesome": true,
	}
	disagreeTerms = map[string]bool{
		"disagree": true, "wrong": true, "false": true, "bad": true,
		"hate": true, "terrible": true, "awful": true, "worst": true,
		"nonsense": true, "never": true, "oppose": true, "against": true,
		"stupid": true, "ridiculous": true, "misleading": true,
	}
)

// LocalVoter classifies stance with a term lexicon. It is deterministic
// and never fails, mirroring the "absence of a vote is valid" contract.
type LocalVoter struct{}

// NewLocalVoter creates a LocalVoter.
func NewLocalVoter() *LocalVoter { return &LocalVoter{} }

// Mode reports the local provider mode.
func (v *LocalVoter) Mode() models.ProviderMode { return models.ProviderModeLocal }

// Classify scores the comment text against the stance lexicon.
func (v *LocalVoter) Classify(_ context.Context, comment models.Comment, _ models.Post) (models.Vote, error) {
	var score int
	for _, term := range tokenize(comment.Text) {
		if agreeTerms[term] {
			score++
		}
		if disagreeTerms[term] {
			score--
		}
	}

	switch {
	case score > 0:
		return models.VoteAgree, nil
	case score < 0:
		return models.VoteDisagree, nil
	default:
		return models.VotePass, nil
	}
}
