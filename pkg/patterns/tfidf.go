// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package patterns

import (
	"math"
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "had": {}, "her": {}, "was": {},
	"one": {}, "our": {}, "out": {}, "has": {}, "have": {}, "this": {},
	"that": {}, "with": {}, "they": {}, "from": {}, "will": {}, "would": {},
	"there": {}, "their": {}, "what": {}, "about": {}, "which": {}, "when": {},
	"your": {}, "them": {}, "then": {}, "than": {}, "some": {}, "into": {},
	"only": {}, "over": {}, "such": {}, "more": {}, "also": {}, "been": {},
	"were": {}, "these": {}, "those": {}, "should": {}, "could": {}, "where": {},
}

// tokenize lowercases, strips punctuation, and drops stop words and tokens
// of two characters or fewer.
func tokenize(text string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 2 {
			word := b.String()
			if _, stop := stopWords[word]; !stop {
				tokens = append(tokens, word)
			}
		}
		b.Reset()
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// termFrequency computes the normalized TF vector of a token stream.
func termFrequency(tokens []string) map[string]float64 {
	if len(tokens) == 0 {
		return map[string]float64{}
	}
	tf := make(map[string]float64, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	n := float64(len(tokens))
	for tok := range tf {
		tf[tok] /= n
	}
	return tf
}

// weight applies IDF weights to a TF vector. Terms absent from the
// document-frequency table get the maximum IDF (unseen is distinctive).
func weight(tf map[string]float64, idf map[string]float64, maxIDF float64) map[string]float64 {
	out := make(map[string]float64, len(tf))
	for term, freq := range tf {
		w, ok := idf[term]
		if !ok {
			w = maxIDF
		}
		out[term] = freq * w
	}
	return out
}

// cosine computes cosine similarity between two sparse vectors.
// Symmetric by construction: cosine(a,b) == cosine(b,a).
func cosine(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	// Iterate the smaller vector.
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot, normA, normB float64
	for term, va := range a {
		normA += va * va
		if vb, ok := b[term]; ok {
			dot += va * vb
		}
	}
	for _, vb := range b {
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
