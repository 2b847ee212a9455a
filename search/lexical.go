package search

import (
	"math"
	"regexp"
	"strings"

	"github.com/discoveryhq/toolmesh/descriptor"
)

// FieldBoosts weights each descriptor field's contribution to a document's
// BM25F term frequency.
type FieldBoosts struct {
	Name        float64
	Description float64
	Keywords    float64
	Categories  float64
}

// DefaultFieldBoosts returns the default per-field weights.
func DefaultFieldBoosts() FieldBoosts {
	return FieldBoosts{Name: 2.0, Keywords: 1.5, Description: 1.0, Categories: 1.0}
}

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

func tokenize(s string) []string {
	return tokenPattern.FindAllString(strings.ToLower(s), -1)
}

type fieldTerms struct {
	name        []string
	description []string
	keywords    []string
	categories  []string
}

// lexicalDoc holds the per-field term frequencies for one indexed descriptor.
type lexicalDoc struct {
	id     string
	fields map[string]map[string]int // field -> term -> count
	length map[string]int            // field -> token count
}

// lexicalIndex is a BM25F index over name/description/keywords/categories.
type lexicalIndex struct {
	boosts FieldBoosts
	docs   map[string]*lexicalDoc
	order  []string // insertion order, for deterministic scans

	docFreq  map[string]int // term -> number of docs containing it
	avgLen   map[string]float64
	totalLen map[string]int
}

func newLexicalIndex(boosts FieldBoosts) *lexicalIndex {
	return &lexicalIndex{
		boosts:   boosts,
		docs:     make(map[string]*lexicalDoc),
		docFreq:  make(map[string]int),
		avgLen:   make(map[string]float64),
		totalLen: make(map[string]int),
	}
}

func fieldText(d descriptor.Descriptor) fieldTerms {
	return fieldTerms{
		name:        tokenize(d.Name),
		description: tokenize(d.Description),
		keywords:    tokenize(strings.Join(d.Keywords, " ")),
		categories:  tokenize(strings.Join(d.Categories, " ")),
	}
}

func (x *lexicalIndex) build(descriptors []descriptor.Descriptor) {
	x.docs = make(map[string]*lexicalDoc, len(descriptors))
	x.order = make([]string, 0, len(descriptors))
	x.docFreq = make(map[string]int)
	x.totalLen = make(map[string]int)
	x.avgLen = make(map[string]float64)

	for _, d := range descriptors {
		terms := fieldText(d)
		doc := &lexicalDoc{
			id:     d.ID,
			fields: map[string]map[string]int{"name": {}, "description": {}, "keywords": {}, "categories": {}},
			length: map[string]int{},
		}
		seen := make(map[string]bool) // per document, so docFreq counts docs
		fill := func(field string, tokens []string) {
			doc.length[field] = len(tokens)
			for _, tok := range tokens {
				doc.fields[field][tok]++
				if !seen[tok] {
					x.docFreq[tok]++
					seen[tok] = true
				}
			}
			x.totalLen[field] += len(tokens)
		}
		fill("name", terms.name)
		fill("description", terms.description)
		fill("keywords", terms.keywords)
		fill("categories", terms.categories)

		x.docs[d.ID] = doc
		x.order = append(x.order, d.ID)
	}

	n := len(descriptors)
	for _, field := range []string{"name", "description", "keywords", "categories"} {
		if n == 0 {
			x.avgLen[field] = 0
			continue
		}
		x.avgLen[field] = float64(x.totalLen[field]) / float64(n)
	}
}

func (x *lexicalIndex) boostOf(field string) float64 {
	switch field {
	case "name":
		return x.boosts.Name
	case "description":
		return x.boosts.Description
	case "keywords":
		return x.boosts.Keywords
	case "categories":
		return x.boosts.Categories
	default:
		return 1.0
	}
}

// score returns raw (unnormalized) BM25F scores for every document with at
// least one matching query term.
func (x *lexicalIndex) score(query string) map[string]float64 {
	n := len(x.docs)
	if n == 0 {
		return nil
	}
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return nil
	}

	idf := make(map[string]float64, len(queryTerms))
	for _, t := range queryTerms {
		df := x.docFreq[t]
		idf[t] = math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
	}

	scores := make(map[string]float64)
	for _, id := range x.order {
		doc := x.docs[id]
		var total float64
		for _, t := range queryTerms {
			weightedTF := 0.0
			for _, field := range []string{"name", "description", "keywords", "categories"} {
				tf := doc.fields[field][t]
				if tf == 0 {
					continue
				}
				avg := x.avgLen[field]
				norm := 1.0
				if avg > 0 {
					norm = (1 - bm25B) + bm25B*(float64(doc.length[field])/avg)
				}
				weightedTF += x.boostOf(field) * float64(tf) / norm
			}
			if weightedTF == 0 {
				continue
			}
			total += idf[t] * (weightedTF * (bm25K1 + 1)) / (weightedTF + bm25K1)
		}
		if total > 0 {
			scores[id] = total
		}
	}
	return scores
}
