// Package treesitter implements the highlight.Tokenizer contract with
// tree-sitter grammars, plus regex paths for languages that have no usable
// grammar. Unlike a full incremental parser it only ever sees one line of
// text: the engine guarantees tokenization is bounded by the viewport, so a
// per-line parse is cheap and needs no document-wide state.
package treesitter

import (
	"context"
	"math"
	"regexp"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/toml"
	"github.com/smacker/go-tree-sitter/yaml"

	"github.com/kobzarvs/qbuf/internal/highlight"
	"github.com/kobzarvs/qbuf/internal/logger"
)

type langEntry struct {
	mu     sync.Mutex // tree-sitter parsers are not reentrant
	parser *sitter.Parser
	query  *sitter.Query
}

// Tokenizer tokenizes single lines. Safe for concurrent use; each language
// serializes on its own parser.
type Tokenizer struct {
	langs map[string]*langEntry
}

// New builds a tokenizer with every grammar that compiles. A grammar whose
// query fails to compile is skipped and its language degrades to plain text.
func New() *Tokenizer {
	t := &Tokenizer{langs: make(map[string]*langEntry)}

	grammars := []struct {
		name  string
		lang  *sitter.Language
		query string
	}{
		{"go", golang.GetLanguage(), goHighlightQuery},
		{"yaml", yaml.GetLanguage(), yamlHighlightQuery},
		{"toml", toml.GetLanguage(), tomlHighlightQuery},
		{"bash", bash.GetLanguage(), bashHighlightQuery},
	}
	for _, g := range grammars {
		query, err := sitter.NewQuery([]byte(g.query), g.lang)
		if err != nil {
			logger.Warn("highlight query failed to compile", "language", g.name, "error", err)
			continue
		}
		parser := sitter.NewParser()
		parser.SetLanguage(g.lang)
		t.langs[g.name] = &langEntry{parser: parser, query: query}
	}
	return t
}

// Tokenize implements highlight.Tokenizer. Unknown languages return no
// spans and no error.
func (t *Tokenizer) Tokenize(line, lang string) ([]highlight.Span, error) {
	switch lang {
	case "json":
		return tokenizeJSONLine(line), nil
	case "gitignore":
		return tokenizeGitignoreLine(line), nil
	}

	e, ok := t.langs[lang]
	if !ok {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tree, err := e.parser.ParseCtx(context.Background(), nil, []byte(line))
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	return querySpans(e.query, tree, []byte(line)), nil
}

// querySpans runs the highlight query over a single-line tree and collects
// the row-zero captures.
func querySpans(query *sitter.Query, tree *sitter.Tree, source []byte) []highlight.Span {
	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(query, tree.RootNode())

	var spans []highlight.Span
	for {
		match, ok := cursor.NextMatch()
		if !ok {
			break
		}
		match = cursor.FilterPredicates(match, source)
		if match == nil {
			continue
		}
		for _, capture := range match.Captures {
			kind := query.CaptureNameForId(capture.Index)
			start := capture.Node.StartPoint()
			end := capture.Node.EndPoint()
			if start.Row != 0 {
				continue
			}
			endCol := int(end.Column)
			if end.Row > 0 {
				endCol = math.MaxInt32
			}
			spans = append(spans, highlight.Span{
				StartCol: int(start.Column),
				EndCol:   endCol,
				Kind:     kind,
			})
		}
	}
	return spans
}

// Regex paths for languages without a grammar.
var (
	jsonString = regexp.MustCompile(`"(?:[^"\\]|\\.)*"`)
	jsonNumber = regexp.MustCompile(`-?\d+(?:\.\d+)?(?:[eE][+-]?\d+)?`)
	jsonConst  = regexp.MustCompile(`\b(true|false|null)\b`)

	gitComment = regexp.MustCompile(`^#.*`)
	gitNegate  = regexp.MustCompile(`^!`)
	gitGlob    = regexp.MustCompile(`[*?]|\[.+?\]`)
)

func tokenizeJSONLine(line string) []highlight.Span {
	var spans []highlight.Span

	for _, loc := range jsonString.FindAllStringIndex(line, -1) {
		startRune := len([]rune(line[:loc[0]]))
		endRune := len([]rune(line[:loc[1]]))

		// A string followed by a colon is a key.
		rest := strings.TrimLeft(line[loc[1]:], " \t")
		kind := "string"
		if len(rest) > 0 && rest[0] == ':' {
			kind = "field"
		}
		spans = append(spans, highlight.Span{StartCol: startRune, EndCol: endRune, Kind: kind})
	}

	outsideStrings := func(loc []int) bool {
		before := line[:loc[0]]
		quotes := strings.Count(before, `"`) - strings.Count(before, `\"`)
		return quotes%2 == 0
	}
	for _, loc := range jsonNumber.FindAllStringIndex(line, -1) {
		if outsideStrings(loc) {
			spans = append(spans, highlight.Span{
				StartCol: len([]rune(line[:loc[0]])),
				EndCol:   len([]rune(line[:loc[1]])),
				Kind:     "number",
			})
		}
	}
	for _, loc := range jsonConst.FindAllStringIndex(line, -1) {
		if outsideStrings(loc) {
			spans = append(spans, highlight.Span{
				StartCol: len([]rune(line[:loc[0]])),
				EndCol:   len([]rune(line[:loc[1]])),
				Kind:     "constant",
			})
		}
	}
	return spans
}

func tokenizeGitignoreLine(line string) []highlight.Span {
	lineLen := len([]rune(line))
	if lineLen == 0 {
		return nil
	}
	if gitComment.MatchString(line) {
		return []highlight.Span{{StartCol: 0, EndCol: lineLen, Kind: "comment"}}
	}

	var spans []highlight.Span
	if gitNegate.MatchString(line) {
		spans = append(spans, highlight.Span{StartCol: 0, EndCol: 1, Kind: "keyword"})
	}
	for _, loc := range gitGlob.FindAllStringIndex(line, -1) {
		spans = append(spans, highlight.Span{
			StartCol: len([]rune(line[:loc[0]])),
			EndCol:   len([]rune(line[:loc[1]])),
			Kind:     "operator",
		})
	}
	return spans
}
