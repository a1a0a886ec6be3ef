package retrieval

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/xxxsen/recall/internal/model"
)

// searchLexical scores the user's chunk corpus against the query with
// BM25. Dense embeddings under-rank exact identifiers ("invoice-4471");
// lexical scoring catches them. A query with no matching terms returns an
// empty list.
func searchLexical(corpus []model.NoteChunk, query string, k1, b float64, topN int) []model.ScoredChunk {
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 || len(corpus) == 0 || topN <= 0 {
		return []model.ScoredChunk{}
	}

	docTerms := make([]map[string]int, len(corpus))
	docLens := make([]int, len(corpus))
	var totalLen int
	for i, chunk := range corpus {
		terms := tokenize(chunk.Title + " " + chunk.Content)
		freq := make(map[string]int, len(terms))
		for _, t := range terms {
			freq[t]++
		}
		docTerms[i] = freq
		docLens[i] = len(terms)
		totalLen += len(terms)
	}
	avgLen := float64(totalLen) / float64(len(corpus))
	if avgLen == 0 {
		return []model.ScoredChunk{}
	}

	// document frequency per query term
	df := make(map[string]int, len(queryTerms))
	for _, term := range queryTerms {
		if _, ok := df[term]; ok {
			continue
		}
		for i := range corpus {
			if docTerms[i][term] > 0 {
				df[term]++
			}
		}
	}

	n := float64(len(corpus))
	results := make([]model.ScoredChunk, 0, topN)
	for i, chunk := range corpus {
		var score float64
		for term, docFreq := range df {
			tf := float64(docTerms[i][term])
			if tf == 0 || docFreq == 0 {
				continue
			}
			idf := math.Log(1 + (n-float64(docFreq)+0.5)/(float64(docFreq)+0.5))
			norm := tf * (k1 + 1) / (tf + k1*(1-b+b*float64(docLens[i])/avgLen))
			score += idf * norm
		}
		if score > 0 {
			results = append(results, model.ScoredChunk{Chunk: chunk, Score: score})
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	if len(results) > topN {
		results = results[:topN]
	}
	return results
}

// tokenize lowercases and splits on anything that is not a letter or
// digit, keeping hyphenated identifiers like "invoice-4471" intact.
func tokenize(input string) []string {
	var sb strings.Builder
	for _, r := range strings.ToLower(input) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteRune(' ')
		}
	}
	fields := strings.Fields(sb.String())
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "-")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
