package ai

import (
	"context"
	"strings"

	"github.com/xxxsen/common/logutil"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"go.uber.org/zap"
)

// Chunk is one contiguous slice of a note, ready for embedding.
type Chunk struct {
	Content    string
	TokenCount int
	Index      int
}

// Chunker splits markdown into heading-scoped chunks bounded by a token
// budget, preserving a small overlap between adjacent text chunks.
type Chunker struct {
	maxTokens     int
	overlapTokens int
}

func NewChunker(maxTokens, overlapTokens int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = 400
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	return &Chunker{maxTokens: maxTokens, overlapTokens: overlapTokens}
}

func (c *Chunker) Chunk(ctx context.Context, markdown string) []Chunk {
	logger := logutil.GetLogger(ctx)
	md := goldmark.New()
	reader := text.NewReader([]byte(markdown))
	doc := md.Parser().Parse(reader)

	var chunks []Chunk
	var currentParts []string
	var currentTokens int
	var currentHeading string
	position := 0

	flush := func(keepOverlap bool) {
		if len(currentParts) == 0 {
			return
		}
		content := strings.Join(currentParts, "\n\n")
		// Heading context improves recall for every chunk under it
		if currentHeading != "" {
			content = "Heading: " + currentHeading + "\n" + content
		}
		chunks = append(chunks, Chunk{
			Content:    content,
			TokenCount: estimateTokens(content),
			Index:      position,
		})
		position++

		if keepOverlap && c.overlapTokens > 0 && len(currentParts) > 1 {
			overlapTokens := 0
			var overlapParts []string
			for i := len(currentParts) - 1; i >= 0; i-- {
				t := estimateTokens(currentParts[i])
				if overlapTokens+t > c.overlapTokens {
					break
				}
				overlapTokens += t
				overlapParts = append([]string{currentParts[i]}, overlapParts...)
			}
			currentParts = overlapParts
			currentTokens = overlapTokens
			return
		}
		currentParts = nil
		currentTokens = 0
	}

	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		switch n := node.(type) {
		case *ast.Heading:
			if n.Level == 1 || n.Level == 2 {
				flush(false)
				currentHeading = string(n.Text(reader.Source()))
			} else {
				txt := string(n.Text(reader.Source()))
				currentParts = append(currentParts, txt)
				currentTokens += estimateTokens(txt)
			}
		case *ast.FencedCodeBlock:
			lang := string(n.Language(reader.Source()))
			var code strings.Builder
			for i := 0; i < n.Lines().Len(); i++ {
				line := n.Lines().At(i)
				code.Write(line.Value(reader.Source()))
			}
			fenced := "```" + lang + "\n" + code.String() + "\n```"
			tokens := estimateTokens(fenced)
			if currentTokens > 0 && currentTokens+tokens > c.maxTokens {
				flush(false)
			}
			currentParts = append(currentParts, fenced)
			currentTokens += tokens
			if currentTokens >= c.maxTokens {
				flush(false)
			}
		default:
			txt := extractText(node, reader.Source())
			if txt == "" {
				continue
			}
			tokens := estimateTokens(txt)
			if currentTokens+tokens > c.maxTokens {
				flush(true)
			}
			currentParts = append(currentParts, txt)
			currentTokens += tokens
		}
	}
	flush(false)
	logger.Debug("markdown chunking completed", zap.Int("size", len(markdown)), zap.Int("total_chunks", len(chunks)))
	return chunks
}

// estimateTokens counts words for ASCII text and characters for CJK.
func estimateTokens(text string) int {
	count := 0
	for _, r := range text {
		if r > 127 {
			count++
		}
	}
	words := strings.Fields(text)
	count += len(words)
	if count == 0 && len(text) > 0 {
		return 1
	}
	return count
}

func extractText(n ast.Node, source []byte) string {
	var sb strings.Builder
	ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if node.Type() == ast.TypeBlock || node.Type() == ast.TypeInline {
			if node.Kind() == ast.KindText {
				sb.Write(node.(*ast.Text).Segment.Value(source))
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}
