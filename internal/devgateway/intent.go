package devgateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"commerce-portal-backend/internal/types"
)

const (
	IntentUnknown           = "unknown"
	IntentDiscover          = "discover"
	IntentDiscoverComposite = "discover_composite"
	IntentCheckout          = "checkout"
	IntentSmalltalk         = "smalltalk"
)

// ClassifiedIntent is the classifier's verdict; it is sent back to the
// portal as data.intent.
type ClassifiedIntent struct {
	Type        string  `json:"intent_type"`
	SearchQuery string  `json:"search_query"`
	Confidence  float32 `json:"confidence"`
}

type IntentClassifier struct {
	spec   PromptSpec
	client *openai.Client
	model  string
}

// NewIntentClassifier returns a classifier. With a nil client only the
// keyword heuristics are used.
func NewIntentClassifier(spec PromptSpec, client *openai.Client, model string) *IntentClassifier {
	return &IntentClassifier{spec: spec, client: client, model: model}
}

// Classify asks the model first and falls back to keywords when the model
// is unavailable or answers with something unusable.
func (c *IntentClassifier) Classify(ctx context.Context, history []types.HistoryEntry, message string) (ClassifiedIntent, bool) {
	if c.client != nil {
		if ci, err := c.classifyLLM(ctx, history, message); err == nil && ci.Type != "" {
			if ci.SearchQuery == "" {
				ci.SearchQuery = searchQuery(message)
			}
			return ci, true
		}
	}
	return c.DetectIntent(message), false
}

func (c *IntentClassifier) classifyLLM(ctx context.Context, history []types.HistoryEntry, message string) (ClassifiedIntent, error) {
	var names []string
	for _, in := range c.spec.Intents {
		names = append(names, in.Name+": "+in.Description)
	}

	var b strings.Builder
	b.WriteString(c.spec.System)
	b.WriteString("\n\nIntents:\n")
	b.WriteString(strings.Join(names, "\n"))
	b.WriteString("\n\nTranscript (role: content):\n")
	for _, m := range history {
		b.WriteString(strings.ToUpper(m.Role))
		b.WriteString(": ")
		b.WriteString(strings.ReplaceAll(strings.TrimSpace(m.Content), "\n\n", "\n"))
		b.WriteString("\n")
	}
	b.WriteString("USER: ")
	b.WriteString(strings.TrimSpace(message))
	b.WriteString("\n")

	temp := c.spec.Style.Temperature
	if temp <= 0 {
		temp = 0.1
	}
	maxTok := c.spec.Style.MaxTokens
	if maxTok <= 0 {
		maxTok = 200
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: temp,
		MaxTokens:   maxTok,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: b.String()},
		},
	})
	if err != nil {
		return ClassifiedIntent{}, err
	}
	if len(resp.Choices) == 0 {
		return ClassifiedIntent{}, errors.New("no choices")
	}
	return parseClassification(resp.Choices[0].Message.Content)
}

// parseClassification accepts the model's JSON answer, tolerating prose
// around the object.
func parseClassification(raw string) (ClassifiedIntent, error) {
	var out struct {
		Type        string  `json:"type"`
		SearchQuery string  `json:"search_query"`
		Confidence  float32 `json:"confidence"`
	}
	err := json.Unmarshal([]byte(raw), &out)
	if err != nil {
		first := strings.IndexByte(raw, '{')
		last := strings.LastIndexByte(raw, '}')
		if first < 0 || last <= first {
			return ClassifiedIntent{}, err
		}
		if err := json.Unmarshal([]byte(raw[first:last+1]), &out); err != nil {
			return ClassifiedIntent{}, err
		}
	}
	return ClassifiedIntent{
		Type:        strings.TrimSpace(out.Type),
		SearchQuery: strings.ToLower(strings.TrimSpace(out.SearchQuery)),
		Confidence:  out.Confidence,
	}, nil
}

// DetectIntent performs keyword heuristics from the prompt spec. Intents
// listed earlier lose to later ones only on a longer keyword match.
func (c *IntentClassifier) DetectIntent(message string) ClassifiedIntent {
	m := strings.ToLower(strings.TrimSpace(message))
	if m == "" {
		return ClassifiedIntent{Type: IntentUnknown}
	}
	best, bestLen := IntentUnknown, 0
	for _, in := range c.spec.Intents {
		for _, kw := range in.Keywords {
			if containsWord(m, kw) && len(kw) > bestLen {
				best, bestLen = in.Name, len(kw)
			}
		}
	}
	ci := ClassifiedIntent{Type: best, Confidence: 0.5}
	if best == IntentDiscover || best == IntentDiscoverComposite {
		ci.SearchQuery = searchQuery(m)
	}
	return ci
}

var fillerWords = map[string]bool{
	"i": true, "im": true, "i'm": true, "me": true, "my": true, "a": true, "an": true, "the": true,
	"for": true, "some": true, "want": true, "need": true, "looking": true, "show": true,
	"find": true, "please": true, "can": true, "you": true, "help": true, "to": true, "plan": true,
}

// searchQuery strips filler words and punctuation from a message.
func searchQuery(message string) string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(message)) {
		w = strings.Trim(w, ".,!?;:\"'")
		if w == "" || fillerWords[w] {
			continue
		}
		words = append(words, w)
	}
	return strings.Join(words, " ")
}

// containsWord matches kw on word boundaries, allowing a plural "s".
func containsWord(s, kw string) bool {
	kw = strings.ToLower(kw)
	idx := strings.Index(s, kw)
	for idx >= 0 {
		end := idx + len(kw)
		if end < len(s) && s[end] == 's' {
			end++
		}
		if (idx == 0 || !isLetter(s[idx-1])) && (end == len(s) || !isLetter(s[end])) {
			return true
		}
		next := strings.Index(s[idx+1:], kw)
		if next < 0 {
			break
		}
		idx += next + 1
	}
	return false
}

func isLetter(b byte) bool { return b >= 'a' && b <= 'z' }
