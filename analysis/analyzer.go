// Package analysis computes writing metrics and optimization suggestions for
// document content. It is advisory only: the editing core calls it on demand
// and a failure degrades to "no suggestions".
package analysis

import (
	"crypto/sha256"
	"encoding/base64"
	"regexp"
	"strings"
)

// Metrics summarizes the readability and style of a text.
type Metrics struct {
	WordCount           int     `json:"wordCount"`
	CharacterCount      int     `json:"characterCount"`
	SentenceCount       int     `json:"sentenceCount"`
	ParagraphCount      int     `json:"paragraphCount"`
	AvgWordsPerSentence float64 `json:"avgWordsPerSentence"`
	AvgSyllablesPerWord float64 `json:"avgSyllablesPerWord"`
	UniqueWordRatio     float64 `json:"uniqueWordRatio"`
	FleschReadingEase   float64 `json:"fleschReadingEase"`
	FogIndex            float64 `json:"fogIndex"`
	PassiveVoiceRatio   float64 `json:"passiveVoiceRatio"`
	AdverbRatio         float64 `json:"adverbRatio"`
	DialogueRatio       float64 `json:"dialogueRatio"`
	ContentHash         string  `json:"contentHash"`
}

// Analyzer computes Metrics and Suggestions. It is safe for concurrent use;
// the compiled patterns are read-only.
type Analyzer struct {
	wordRe      *regexp.Regexp
	sentenceRe  *regexp.Regexp
	paragraphRe *regexp.Regexp
	passiveRe   *regexp.Regexp
	adverbRe    *regexp.Regexp
	dialogueRe  *regexp.Regexp
}

func NewAnalyzer() *Analyzer {
	return &Analyzer{
		wordRe:      regexp.MustCompile(`\b\w+\b`),
		sentenceRe:  regexp.MustCompile(`[.!?]+`),
		paragraphRe: regexp.MustCompile(`\n\s*\n`),
		passiveRe:   regexp.MustCompile(`\b(was|were|been|being)\s+\w+ed\b`),
		adverbRe:    regexp.MustCompile(`\b\w+ly\b`),
		dialogueRe:  regexp.MustCompile(`"[^"]*"`),
	}
}

// Analyze computes the full metric set for text.
func (a *Analyzer) Analyze(text string) Metrics {
	words := a.wordRe.FindAllString(text, -1)
	sentences := nonEmpty(a.sentenceRe.Split(text, -1))
	paragraphs := nonEmpty(a.paragraphRe.Split(text, -1))

	m := Metrics{
		WordCount:      len(words),
		CharacterCount: len([]rune(text)),
		SentenceCount:  len(sentences),
		ParagraphCount: len(paragraphs),
		ContentHash:    ContentHash(text),
	}

	if m.SentenceCount > 0 {
		m.AvgWordsPerSentence = float64(m.WordCount) / float64(m.SentenceCount)
	}
	m.AvgSyllablesPerWord = avgSyllables(words)

	if m.WordCount > 0 {
		unique := make(map[string]struct{}, len(words))
		complexWords := 0
		for _, w := range words {
			unique[strings.ToLower(w)] = struct{}{}
			if countSyllables(w) >= 3 {
				complexWords++
			}
		}
		m.UniqueWordRatio = float64(len(unique)) / float64(m.WordCount)
		m.FogIndex = 0.4 * (m.AvgWordsPerSentence + 100.0*float64(complexWords)/float64(m.WordCount))
	}

	m.FleschReadingEase = 206.835 - 1.015*m.AvgWordsPerSentence - 84.6*m.AvgSyllablesPerWord

	if m.SentenceCount > 0 {
		m.PassiveVoiceRatio = float64(len(a.passiveRe.FindAllString(text, -1))) / float64(m.SentenceCount)
	}
	if m.WordCount > 0 {
		m.AdverbRatio = float64(len(a.adverbRe.FindAllString(text, -1))) / float64(m.WordCount)
	}
	if m.ParagraphCount > 0 {
		m.DialogueRatio = float64(len(a.dialogueRe.FindAllString(text, -1))) / float64(m.ParagraphCount)
	}

	return m
}

// ContentHash returns the base64-encoded SHA-256 of text, used to detect
// content drift between saves.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func nonEmpty(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// countSyllables estimates syllables by counting vowel groups, with the
// trailing silent 'e' discounted. Always at least 1.
func countSyllables(word string) int {
	const vowels = "aeiouyAEIOUY"
	count := 0
	prevVowel := false
	for _, ch := range word {
		isVowel := strings.ContainsRune(vowels, ch)
		if isVowel && !prevVowel {
			count++
		}
		prevVowel = isVowel
	}
	if strings.HasSuffix(word, "e") && count > 1 {
		count--
	}
	if count < 1 {
		count = 1
	}
	return count
}

func avgSyllables(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	total := 0
	for _, w := range words {
		total += countSyllables(w)
	}
	return float64(total) / float64(len(words))
}
