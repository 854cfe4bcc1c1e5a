// Package embedding turns text into sparse bag-of-tokens vectors and compares them.
package embedding

import (
	"math"
	"strings"
)

// Vector is a sparse term-frequency vector keyed by lowercase token.
type Vector map[string]float64

// Tokenize lowercases text and splits it on whitespace.
func Tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// Vectorize builds a term-frequency vector from whitespace tokens.
func Vectorize(text string) Vector {
	tokens := Tokenize(text)
	v := make(Vector, len(tokens))
	for _, t := range tokens {
		v[t]++
	}
	return v
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	// iterate the smaller map for the dot product
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	var dot float64
	for k, x := range small {
		dot += x * large[k]
	}
	normA, normB := norm(a), norm(b)
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (normA * normB)
}

func norm(v Vector) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Jaccard computes |A∩B| / |A∪B| over the sets of whitespace tokens.
// Either side being empty yields 0.
func Jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for t := range setA {
		if setB[t] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func tokenSet(text string) map[string]bool {
	set := map[string]bool{}
	for _, t := range Tokenize(text) {
		set[t] = true
	}
	return set
}
