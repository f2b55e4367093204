package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/thebtf/bubbles/internal/privacy"
	"github.com/thebtf/bubbles/pkg/models"
)

const (
	embedTimeout = 30 * time.Second
	labelTimeout = 60 * time.Second
	voteTimeout  = 20 * time.Second
)

// OpenAIConfig holds the settings for the live providers.
type OpenAIConfig struct {
	APIKey         string
	EmbeddingModel string
	EmbeddingDim   int
	ChatModel      string
}

// OpenAIEmbedder is the live EmbeddingProvider backed by the OpenAI
// embeddings API through langchaingo.
type OpenAIEmbedder struct {
	llm   *openai.LLM
	model string
	dim   int
}

// NewOpenAIEmbedder creates an OpenAIEmbedder.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	llm, err := openai.New(
		openai.WithToken(cfg.APIKey),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
	)
	if err != nil {
		return nil, fmt.Errorf("init openai embedder: %w", err)
	}
	return &OpenAIEmbedder{llm: llm, model: cfg.EmbeddingModel, dim: cfg.EmbeddingDim}, nil
}

// Dim returns the embedding dimension.
func (e *OpenAIEmbedder) Dim() int { return e.dim }

// ModelName returns the embedding model identifier.
func (e *OpenAIEmbedder) ModelName() string { return e.model }

// Embed embeds a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (models.Embedding, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return models.Embedding{}, err
	}
	return out[0], nil
}

// EmbedBatch embeds several texts in one API call, preserving order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]models.Embedding, error) {
	cleaned := make([]string, len(texts))
	for i, text := range texts {
		t := privacy.Clean(text)
		if t == "" {
			return nil, &ProviderError{Op: "embed", Err: fmt.Errorf("text %d is empty after redaction", i)}
		}
		cleaned[i] = clip(t, maxEmbedChars)
	}

	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	vecs, err := e.llm.CreateEmbedding(ctx, cleaned)
	if err != nil {
		return nil, &ProviderError{Op: "embed", Err: err}
	}
	if len(vecs) != len(cleaned) {
		return nil, &ProviderError{Op: "embed", Err: fmt.Errorf("got %d vectors for %d texts", len(vecs), len(cleaned))}
	}

	out := make([]models.Embedding, len(vecs))
	for i, v := range vecs {
		if len(v) != e.dim {
			return nil, &ProviderError{Op: "embed", Err: fmt.Errorf("vector %d has dim %d, want %d", i, len(v), e.dim)}
		}
		vec := make([]float64, len(v))
		for j, x := range v {
			vec[j] = float64(x)
		}
		out[i] = models.Embedding{
			Vector: vec,
			Dim:    e.dim,
			Model:  e.model,
			Hash:   models.ContentHash(e.model, cleaned[i]),
		}
	}
	return out, nil
}

// OpenAILabeler is the live Labeler backed by an OpenAI chat model.
type OpenAILabeler struct {
	llm   *openai.LLM
	model string
}

// NewOpenAILabeler creates an OpenAILabeler.
func NewOpenAILabeler(cfg OpenAIConfig) (*OpenAILabeler, error) {
	llm, err := openai.New(
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.ChatModel),
	)
	if err != nil {
		return nil, fmt.Errorf("init openai labeler: %w", err)
	}
	return &OpenAILabeler{llm: llm, model: cfg.ChatModel}, nil
}

// Mode reports the live provider mode.
func (l *OpenAILabeler) Mode() models.ProviderMode { return models.ProviderModeLive }

// Label asks the chat model for a label and essence over the representative
// comments. Representative ids come back unchanged: the model is only
// shown the coordinator's selection, so proposing other ids would be
// a hallucination anyway.
func (l *OpenAILabeler) Label(ctx context.Context, req LabelRequest) (LabelResult, error) {
	if len(req.Representatives) == 0 {
		return LabelResult{Label: "Miscellaneous", Essence: "No comments available."}, nil
	}

	var sb strings.Builder
	for i, c := range req.Representatives {
		fmt.Fprintf(&sb, "Comment %d: %s\n\n", i+1, privacy.Clean(c.Text))
	}

	prompt := fmt.Sprintf(`Analyze the following comments and provide:
1. A concise label (2-4 words, use " / " to separate multiple topics)
2. A brief essence (1-2 sentences describing what people are discussing)

Comments:
%s
Respond in this exact format:
LABEL: [your label here]
ESSENCE: [your essence here]`, sb.String())

	ctx, cancel := context.WithTimeout(ctx, labelTimeout)
	defer cancel()

	resp, err := llms.GenerateFromSinglePrompt(ctx, l.llm, prompt,
		llms.WithTemperature(0.7),
		llms.WithMaxTokens(200),
	)
	if err != nil {
		return LabelResult{}, &LabelingError{Op: "generate", Err: err}
	}

	label, essence := parseLabelResponse(resp)

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

// parseLabelResponse extracts the LABEL and ESSENCE lines from the model
// output, falling back to generic values for anything malformed.
func parseLabelResponse(resp string) (label, essence string) {
	label = "Miscellaneous"
	essence = "People are discussing various topics."

	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "LABEL:"):
			if v := strings.TrimSpace(line[len("LABEL:"):]); v != "" {
				label = v
			}
		case strings.HasPrefix(upper, "ESSENCE:"):
			if v := strings.TrimSpace(line[len("ESSENCE:"):]); v != "" {
				essence = v
			}
		}
	}
	return label, essence
}

// OpenAIVoter is the live Voter backed by an OpenAI chat model.
type OpenAIVoter struct {
	llm   *openai.LLM
	model string
}

// NewOpenAIVoter creates an OpenAIVoter.
func NewOpenAIVoter(cfg OpenAIConfig) (*OpenAIVoter, error) {
	llm, err := openai.New(
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.ChatModel),
	)
	if err != nil {
		return nil, fmt.Errorf("init openai voter: %w", err)
	}
	return &OpenAIVoter{llm: llm, model: cfg.ChatModel}, nil
}

// Mode reports the live provider mode.
func (v *OpenAIVoter) Mode() models.ProviderMode { return models.ProviderModeLive }

// Classify asks the chat model for a one-word stance.
func (v *OpenAIVoter) Classify(ctx context.Context, comment models.Comment, post models.Post) (models.Vote, error) {
	body := clip(privacy.Clean(post.Body), 500)
	text := clip(privacy.Clean(comment.Text), 1000)

	prompt := fmt.Sprintf(`You are analyzing a comment on a discussion post. Classify the comment's stance relative to the post.

Post Title: %s
Post Body: %s

Comment: %s

Classify the comment as one of:
- "agree" if the comment supports, agrees with, or positively responds to the post
- "disagree" if the comment opposes, disagrees with, or negatively responds to the post
- "pass" if the comment is neutral, asks a question, provides information without taking a stance, or doesn't clearly agree/disagree

Respond with ONLY one word: agree, disagree, or pass`, post.Title, body, text)

	ctx, cancel := context.WithTimeout(ctx, voteTimeout)
	defer cancel()

	resp, err := llms.GenerateFromSinglePrompt(ctx, v.llm, prompt,
		llms.WithTemperature(0.3),
		llms.WithMaxTokens(10),
	)
	if err != nil {
		return "", &VotingError{Op: "generate", Err: err}
	}

	result := strings.ToLower(strings.TrimSpace(resp))
	switch {
	case strings.HasPrefix(result, "agree"):
		return models.VoteAgree, nil
	case strings.HasPrefix(result, "disagree"):
		return models.VoteDisagree, nil
	default:
		return models.VotePass, nil
	}
}
