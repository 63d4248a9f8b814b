package news

import (
	"regexp"
	"strings"
)

// Keyword extraction: no model calls, runs on every spiking signal.
// Strategies are tried in order and the first one that yields anything wins:
//  1. known entities (whole-word, case-insensitive)
//  2. quoted phrases
//  3. capitalised spans of two or more words

var quotedRegex = regexp.MustCompile(`["“]([^"“”]+)["”]`)

var capsSpanRegex = regexp.MustCompile(`\b[A-Z][A-Za-z0-9]*(?:[ \t]+[A-Z][A-Za-z0-9]*)+`)

var relevanceWordRegex = regexp.MustCompile(`\b\w{4,}\b`)

// questionLeaders are dropped from the front of a capitalised span so that
// "Why Does Silicon Valley" reduces to "Silicon Valley".
var questionLeaders = map[string]bool{
	"how": true, "what": true, "why": true, "when": true, "where": true,
	"who": true, "which": true, "is": true, "are": true, "was": true,
	"were": true, "do": true, "does": true, "did": true, "can": true,
	"could": true, "should": true, "would": true, "will": true, "has": true,
	"have": true, "i": true, "eli5": true,
}

// ExtractKeywords returns at most five search keywords for question.
// An empty result means correlation should be skipped.
func ExtractKeywords(question string, knownEntities []string) []string {
	if kws := matchEntities(question, knownEntities); len(kws) > 0 {
		return limit(kws)
	}
	if kws := quotedPhrases(question); len(kws) > 0 {
		return limit(kws)
	}
	return limit(capitalisedSpans(question))
}

func matchEntities(question string, entities []string) []string {
	lower := strings.ToLower(question)
	seen := make(map[string]bool)
	var result []string
	for _, entity := range entities {
		key := strings.ToLower(strings.TrimSpace(entity))
		if key == "" || seen[key] {
			continue
		}
		if containsWord(lower, key) {
			seen[key] = true
			result = append(result, entity)
		}
	}
	return result
}

func quotedPhrases(question string) []string {
	seen := make(map[string]bool)
	var result []string
	for _, m := range quotedRegex.FindAllStringSubmatch(question, -1) {
		phrase := strings.TrimSpace(m[1])
		key := strings.ToLower(phrase)
		if phrase == "" || seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, phrase)
	}
	return result
}

func capitalisedSpans(question string) []string {
	seen := make(map[string]bool)
	var result []string
	for _, span := range capsSpanRegex.FindAllString(question, -1) {
		words := strings.Fields(span)
		for len(words) > 0 && questionLeaders[strings.ToLower(words[0])] {
			words = words[1:]
		}
		if len(words) < 2 {
			continue
		}
		phrase := strings.Join(words, " ")
		if seen[phrase] {
			continue
		}
		seen[phrase] = true
		result = append(result, phrase)
	}
	return result
}

func limit(kws []string) []string {
	if len(kws) > maxQueryKeywords {
		return kws[:maxQueryKeywords]
	}
	return kws
}

// Relevance scores how well an article matches question: each distinct
// question word of four or more characters counts 2 when it appears in the
// title and 1 when it appears in the description. The total is divided by
// the number of distinct words and capped at 1.
func Relevance(question string, a Article) float64 {
	words := make(map[string]bool)
	for _, w := range relevanceWordRegex.FindAllString(strings.ToLower(question), -1) {
		words[w] = true
	}
	if len(words) == 0 {
		return 0
	}

	title := strings.ToLower(a.Title)
	desc := strings.ToLower(a.Description)
	matches := 0
	for w := range words {
		if strings.Contains(title, w) {
			matches += 2
		}
		if strings.Contains(desc, w) {
			matches++
		}
	}

	score := float64(matches) / float64(len(words))
	if score > 1 {
		return 1
	}
	return score
}

// containsWord checks if text contains word as a whole word (not substring)
func containsWord(text, word string) bool {
	for from := 0; from < len(text); {
		idx := strings.Index(text[from:], word)
		if idx < 0 {
			return false
		}
		idx += from
		end := idx + len(word)
		left := idx == 0 || !isAlphaNum(text[idx-1])
		right := end == len(text) || !isAlphaNum(text[end])
		if left && right {
			return true
		}
		from = idx + 1
	}
	return false
}

func isAlphaNum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
