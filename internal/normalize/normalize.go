// Package normalize cleans scraped question text into a comparable form
// before it is embedded.
package normalize

import (
	"errors"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/abelbrown/curiosity/internal/model"
)

// ErrRejected is returned when the cleaned text is too short to embed.
var ErrRejected = errors.New("normalize: rejected")

// DefaultMinLength is the shortest cleaned text, in runes, that is kept.
const DefaultMinLength = 15

// extraPasses is added to the input length to bound the fixpoint loop.
// Each nesting level of entities or links takes one pass to unwrap.
const extraPasses = 8

var (
	htmlCodeRe     = regexp.MustCompile(`(?is)<(pre|code)\b[^>]*>.*?</(pre|code)>`)
	htmlTagRe      = regexp.MustCompile(`(?s)<[^>]+>`)
	fencedCodeRe   = regexp.MustCompile("(?s)```.*?```")
	markdownLinkRe = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	urlRe          = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
	spaceRe        = regexp.MustCompile(`\s+`)

	questionRunRe = regexp.MustCompile(`\?{2,}`)
	bangRunRe     = regexp.MustCompile(`!{2,}`)
	dotRunRe      = regexp.MustCompile(`\.{3,}`)
	spaceBeforeRe = regexp.MustCompile(`\s+([?!.,])`)
)

var emphasis = []*regexp.Regexp{
	regexp.MustCompile(`\*\*(.+?)\*\*`),
	regexp.MustCompile(`__(.+?)__`),
	regexp.MustCompile(`\*(.+?)\*`),
	regexp.MustCompile(`~~(.+?)~~`),
	regexp.MustCompile("`(.+?)`"),
}

var artifacts = map[model.Platform][]*regexp.Regexp{
	model.PlatformReddit: {
		regexp.MustCompile(`^\[[^\]]*\]\s*`),       // leading flair
		regexp.MustCompile(`\s*\[[^\]]*\]$`),       // trailing flair
		regexp.MustCompile(`(?i)\(x-?post[^)]*\)`), // cross-post note
		regexp.MustCompile(`(?i)(?:^|\s)/?r/\w+`),
		regexp.MustCompile(`(?i)(?:^|\s)/?u/[\w-]+`),
		regexp.MustCompile(`(?i)\bedit\d*:.*$`),
	},
	model.PlatformStackExchange: {
		regexp.MustCompile(`(?i)\s*\[(?:closed|duplicate|on hold|migrated)\]`),
	},
	model.PlatformHackerNews: {
		regexp.MustCompile(`(?i)^(?:ask|tell) hn:\s*`),
	},
}

type expansion struct {
	re   *regexp.Regexp
	with string
}

// Order matters: specific forms before their prefixes.
var abbreviations = []expansion{
	{regexp.MustCompile(`(?i)\bgpt-?4\b`), "GPT-4"},
	{regexp.MustCompile(`(?i)\bgpt-?3\.?5\b`), "GPT-3.5"},
	{regexp.MustCompile(`(?i)\bgpt\b`), "GPT"},
	{regexp.MustCompile(`(?i)\bllms\b`), "large language models"},
	{regexp.MustCompile(`(?i)\bllm\b`), "large language model"},
	{regexp.MustCompile(`(?i)\bml\b`), "machine learning"},
	{regexp.MustCompile(`(?i)\bai\b`), "artificial intelligence"},
	{regexp.MustCompile(`(?i)\bnlp\b`), "natural language processing"},
	{regexp.MustCompile(`(?i)\brag\b`), "retrieval augmented generation"},
	{regexp.MustCompile(`(?i)\bapi\b`), "API"},
	{regexp.MustCompile(`(?i)\beli5\b`), "explain like I'm 5"},
}

var questionStarters = map[string]bool{
	"what": true, "why": true, "how": true, "when": true, "where": true,
	"who": true, "which": true, "can": true, "could": true, "would": true,
	"should": true, "will": true, "is": true, "are": true, "do": true,
	"does": true, "has": true, "have": true, "am": true, "was": true,
	"were": true,
}

// Normalizer cleans raw question text. The zero value uses DefaultMinLength.
type Normalizer struct {
	MinLength int
}

// New returns a Normalizer rejecting text shorter than minLength runes.
func New(minLength int) *Normalizer {
	return &Normalizer{MinLength: minLength}
}

// Normalize returns the cleaned text for raw, or ErrRejected when fewer
// than MinLength runes survive. Case is preserved; compare with Key.
// Normalizing an accepted result returns it unchanged.
func (n *Normalizer) Normalize(raw string, platform model.Platform) (string, error) {
	min := n.MinLength
	if min <= 0 {
		min = DefaultMinLength
	}

	text := raw
	for passes := len(raw) + extraPasses; ; passes-- {
		next := clean(text, platform)
		if next == text {
			break
		}
		if passes == 0 {
			// Still changing: no stable form to return.
			return "", ErrRejected
		}
		text = next
	}

	if utf8.RuneCountInString(text) < min {
		return "", ErrRejected
	}
	return text, nil
}

// Key is the comparison form of a normalized text: lower-cased with
// whitespace collapsed.
func Key(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func clean(s string, platform model.Platform) string {
	s = htmlCodeRe.ReplaceAllString(s, " ")
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = fencedCodeRe.ReplaceAllString(s, " ")
	s = dropBlockLines(s)

	s = markdownLinkRe.ReplaceAllString(s, "$1")
	s = urlRe.ReplaceAllString(s, " ")
	s = collapse(s)

	for _, re := range artifacts[platform] {
		s = strings.TrimSpace(re.ReplaceAllString(s, " "))
	}
	for _, re := range emphasis {
		s = re.ReplaceAllString(s, "$1")
	}
	for _, a := range abbreviations {
		s = a.re.ReplaceAllString(s, a.with)
	}

	s = collapse(s)
	s = questionRunRe.ReplaceAllString(s, "?")
	s = bangRunRe.ReplaceAllString(s, "!")
	s = dotRunRe.ReplaceAllString(s, "...")
	s = spaceBeforeRe.ReplaceAllString(s, "$1")

	if s != "" && !strings.HasSuffix(s, "?") && isQuestion(s) {
		s = strings.TrimRight(s, ".! ") + "?"
	}
	return s
}

// dropBlockLines removes indented code lines and quoted (">") lines.
func dropBlockLines(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(line, "    ") || strings.HasPrefix(line, "\t") {
			continue
		}
		if strings.HasPrefix(strings.TrimLeft(line, " "), ">") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func collapse(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

func isQuestion(s string) bool {
	if strings.Contains(s, "?") {
		return true
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return false
	}
	first := strings.ToLower(strings.Trim(fields[0], `"'(`))
	return questionStarters[first]
}
