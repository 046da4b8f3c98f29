package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Suggestion is a single advisory edit hint with a byte range into the
// analyzed text.
type Suggestion struct {
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	Message     string `json:"message"`
	StartPos    int    `json:"startPos"`
	EndPos      int    `json:"endPos"`
	Replacement string `json:"suggestedReplacement,omitempty"`
}

// Suggester produces suggestions for document content. The local analyzer
// implements it directly; RemoteSuggester delegates to an external service.
type Suggester interface {
	Suggest(ctx context.Context, content string) ([]Suggestion, error)
}

const longSentenceWords = 25

// Suggest scans text for long sentences, passive voice and adverb overuse.
// It never fails; the error return satisfies Suggester.
func (a *Analyzer) Suggest(_ context.Context, text string) ([]Suggestion, error) {
	var suggestions []Suggestion

	for _, loc := range a.sentenceSpans(text) {
		sentence := text[loc[0]:loc[1]]
		if len(a.wordRe.FindAllString(sentence, -1)) > longSentenceWords {
			suggestions = append(suggestions, Suggestion{
				Type:     "sentence_length",
				Priority: "medium",
				Message:  "Consider breaking this long sentence into shorter ones for better readability.",
				StartPos: loc[0],
				EndPos:   loc[1],
			})
		}
	}

	for _, loc := range a.passiveRe.FindAllStringIndex(text, -1) {
		suggestions = append(suggestions, Suggestion{
			Type:     "passive_voice",
			Priority: "low",
			Message:  "Consider using active voice for more engaging writing.",
			StartPos: loc[0],
			EndPos:   loc[1],
		})
	}

	for _, loc := range a.adverbRe.FindAllStringIndex(text, -1) {
		suggestions = append(suggestions, Suggestion{
			Type:     "adverb_usage",
			Priority: "low",
			Message:  "Consider using stronger verbs instead of adverbs.",
			StartPos: loc[0],
			EndPos:   loc[1],
		})
	}

	return suggestions, nil
}

// sentenceSpans returns the [start,end) byte ranges of sentences, delimited
// by the sentence-terminator pattern.
func (a *Analyzer) sentenceSpans(text string) [][2]int {
	var spans [][2]int
	start := 0
	for _, loc := range a.sentenceRe.FindAllStringIndex(text, -1) {
		if loc[0] > start {
			spans = append(spans, [2]int{start, loc[0]})
		}
		start = loc[1]
	}
	if start < len(text) {
		spans = append(spans, [2]int{start, len(text)})
	}
	return spans
}

// RemoteSuggester calls an external suggestion service. It posts the content
// as JSON and expects a {"suggestions": [...]} reply.
type RemoteSuggester struct {
	URL    string
	Client *http.Client
}

func NewRemoteSuggester(url string) *RemoteSuggester {
	return &RemoteSuggester{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *RemoteSuggester) Suggest(ctx context.Context, content string) ([]Suggestion, error) {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("suggestion service returned %d", resp.StatusCode)
	}

	var reply struct {
		Suggestions []Suggestion `json:"suggestions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode suggestion reply: %w", err)
	}
	return reply.Suggestions, nil
}

// Fallback tries Primary and degrades to Backup on failure, so a broken
// external service never blocks editing.
type Fallback struct {
	Primary Suggester
	Backup  Suggester
}

func (f *Fallback) Suggest(ctx context.Context, content string) ([]Suggestion, error) {
	if f.Primary != nil {
		if suggestions, err := f.Primary.Suggest(ctx, content); err == nil {
			return suggestions, nil
		}
	}
	if f.Backup == nil {
		return nil, nil
	}
	return f.Backup.Suggest(ctx, content)
}

// NewSuggester wires the configured suggestion capability: remote with local
// fallback when a URL is set, local only otherwise.
func NewSuggester(remoteURL string) Suggester {
	local := NewAnalyzer()
	if remoteURL == "" {
		return local
	}
	return &Fallback{Primary: NewRemoteSuggester(remoteURL), Backup: local}
}
