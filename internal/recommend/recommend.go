// Package recommend implements the TF-IDF–driven query-recommendation
// engine (component C6) and the effectiveness-feedback learning loop
// (component C7) that adapts its parameters over time.
package recommend

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	apperrors "local-search-mcp/internal/errors"
	"local-search-mcp/internal/store"
)

// Strategy is one of the three recommendation shapes the engine can emit.
type Strategy string

const (
	StrategyTermRemoval        Strategy = "TERM_REMOVAL"
	StrategyTermRefinement     Strategy = "TERM_REFINEMENT"
	StrategyContextualAddition Strategy = "CONTEXTUAL_ADDITION"
)

// DefaultMaxQueryTerms caps how many distinct terms a query may contain
// before the engine refuses to analyze it.
const DefaultMaxQueryTerms = 8

// DefaultTopN is how many top-ranked result chunks feed the TF/DF analysis.
const DefaultTopN = 5

// recommendationTTL is how long a persisted recommendation stays current.
const recommendationTTL = 30 * 24 * time.Hour

// structuralKeywords are always essential and never suggested for removal.
var structuralKeywords = map[string]bool{
	"and": true, "or": true, "not": true,
}

// stopWords are excluded when mining candidate vocabulary from result
// content for CONTEXTUAL_ADDITION; they carry no discriminating signal.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "of": true, "to": true, "in": true, "on": true, "for": true,
	"with": true, "this": true, "that": true, "it": true, "as": true, "by": true,
	"at": true, "be": true, "from": true, "has": true, "have": true, "its": true,
}

// candidateVocabularyLimit bounds how many document terms are scored as
// CONTEXTUAL_ADDITION candidates per Recommend call.
const candidateVocabularyLimit = 20

// synonyms is a small closed set of code-search term relations used by
// TERM_REFINEMENT to find a lexically/semantically related term.
var synonyms = map[string][]string{
	"function": {"method", "func", "fn", "def"},
	"method":   {"function", "func", "fn", "def"},
	"error":    {"err", "exception", "failure"},
	"err":      {"error", "exception"},
	"class":    {"type", "struct", "interface"},
	"type":     {"class", "struct"},
	"request":  {"req"},
	"response": {"resp"},
}

var quotedPhrase = regexp.MustCompile(`"([^"]+)"`)
var tokenPattern = regexp.MustCompile(`[A-Za-z0-9_]+`)

// ResultDoc is one of the top-N chunks returned for the query, reduced to
// what the TF-IDF pass needs: which file it came from and its text.
type ResultDoc struct {
	FilePath string
	Content  string
}

// Recommendation is the engine's suggestion, ready to hand back over MCP.
type Recommendation struct {
	Query          string
	SuggestedTerms []string
	Strategy       Strategy
	Confidence     float64
	TFIDFThreshold float64
}

// Engine ties TF-IDF analysis to the persisted recommendation cache.
type Engine struct {
	repo         *store.RecommendationRepository
	maxQueryTerms int
	topN          int
	now           func() time.Time
}

// NewEngine builds an Engine backed by repo.
func NewEngine(repo *store.RecommendationRepository) *Engine {
	return &Engine{repo: repo, maxQueryTerms: DefaultMaxQueryTerms, topN: DefaultTopN, now: time.Now}
}

// LowConfidence reports whether a search result warrants a recommendation:
// too few results, a weak mean score, or an overly long query.
func LowConfidence(resultCount int, meanScore, tfidfThreshold float64, queryTermCount int) bool {
	return resultCount < 3 || meanScore < tfidfThreshold || queryTermCount > 5
}

// Recommend runs the full TF-IDF pipeline for query over docs (the top-N
// chunks from the search that triggered analysis), persisting and
// returning a recommendation if one applies. totalDocuments is the corpus
// size used for the IDF term.
func (e *Engine) Recommend(ctx context.Context, query string, docs []ResultDoc, totalDocuments int, tfidfThreshold float64) (*Recommendation, error) {
	now := e.now().UTC()

	if cached, err := e.repo.CurrentRecommendation(ctx, query, now.Format(time.RFC3339Nano)); err != nil {
		return nil, err
	} else if cached != nil {
		return &Recommendation{
			Query:          cached.Query,
			SuggestedTerms: cached.SuggestedTerms,
			Strategy:       Strategy(cached.Strategy),
			Confidence:     cached.Confidence,
			TFIDFThreshold: cached.TFIDFThreshold,
		}, nil
	}

	terms, essential := tokenizeQuery(query)
	if len(terms) == 0 {
		return nil, apperrors.Input("query has zero analyzable terms", nil)
	}
	if len(terms) > e.maxQueryTerms {
		return nil, apperrors.Input("query exceeds max_query_terms", nil)
	}

	if len(docs) > e.topN {
		docs = docs[:e.topN]
	}

	analyzed := len(docs)
	scores := computeTFIDF(terms, docs, totalDocuments)

	exclude := make(map[string]bool, len(terms))
	for _, t := range terms {
		exclude[t] = true
	}
	candidateTerms := candidateVocabulary(docs, exclude, candidateVocabularyLimit)
	candidateScores := computeTFIDF(candidateTerms, docs, totalDocuments)

	rec := chooseStrategy(terms, essential, scores, candidateScores, tfidfThreshold)
	if rec == nil {
		return nil, nil
	}
	rec.Query = query

	if err := e.persist(ctx, *rec, tfidfThreshold, totalDocuments, analyzed, now); err != nil {
		return nil, err
	}
	return rec, nil
}

func (e *Engine) persist(ctx context.Context, rec Recommendation, threshold float64, totalDocs, analyzedDocs int, now time.Time) error {
	_, err := e.repo.SaveRecommendation(ctx, store.Recommendation{
		Query:             rec.Query,
		SuggestedTerms:    rec.SuggestedTerms,
		Strategy:          string(rec.Strategy),
		TFIDFThreshold:    threshold,
		Confidence:        rec.Confidence,
		GeneratedAt:       now.Format(time.RFC3339Nano),
		ExpiresAt:         now.Add(recommendationTTL).Format(time.RFC3339Nano),
		TotalDocuments:    totalDocs,
		AnalyzedDocuments: analyzedDocs,
	})
	return err
}

// termScore holds the TF-IDF analysis for one query term.
type termScore struct {
	term      string
	tf        float64
	df        int
	tfidf     float64
	removable bool
}

// tokenizeQuery splits a query into deduplicated terms, preserving quoted
// phrases as single essential terms and dropping single-character terms.
func tokenizeQuery(query string) (terms []string, essential map[string]bool) {
	essential = map[string]bool{}
	seen := map[string]bool{}

	for _, m := range quotedPhrase.FindAllStringSubmatch(query, -1) {
		phrase := strings.ToLower(strings.TrimSpace(m[1]))
		if phrase == "" || seen[phrase] {
			continue
		}
		seen[phrase] = true
		essential[phrase] = true
		terms = append(terms, phrase)
	}

	withoutQuotes := quotedPhrase.ReplaceAllString(query, " ")
	for _, tok := range tokenPattern.FindAllString(withoutQuotes, -1) {
		lower := strings.ToLower(tok)
		if len(lower) <= 1 || seen[lower] {
			continue
		}
		seen[lower] = true
		terms = append(terms, lower)
		if structuralKeywords[lower] {
			essential[lower] = true
		}
	}
	return terms, essential
}

// computeTFIDF scores each term against the given top-N documents. TF is
// the average occurrence count per containing document; DF is the count
// of documents containing the term at least once.
func computeTFIDF(terms []string, docs []ResultDoc, totalDocuments int) []termScore {
	scores := make([]termScore, len(terms))
	for i, term := range terms {
		containingDocs := 0
		totalOccurrences := 0
		for _, d := range docs {
			count := strings.Count(strings.ToLower(d.Content), term)
			if count > 0 {
				containingDocs++
				totalOccurrences += count
			}
		}

		var tf float64
		if containingDocs > 0 {
			tf = float64(totalOccurrences) / float64(containingDocs)
		}
		idf := math.Log(float64(totalDocuments+1) / float64(containingDocs+1))
		tfidf := tf * idf

		scores[i] = termScore{term: term, tf: tf, df: containingDocs, tfidf: tfidf}
	}
	return scores
}

// candidateVocabulary mines terms out of docs that are not already part of
// the query, ranked by how many of docs they appear in, so
// CONTEXTUAL_ADDITION can surface a term the query never mentioned (spec
// §4.6 step 4's "original terms ∪ up to 2 other terms").
func candidateVocabulary(docs []ResultDoc, exclude map[string]bool, limit int) []string {
	freq := map[string]int{}
	for _, d := range docs {
		seenInDoc := map[string]bool{}
		for _, tok := range tokenPattern.FindAllString(strings.ToLower(d.Content), -1) {
			if len(tok) <= 2 || exclude[tok] || stopWords[tok] || seenInDoc[tok] {
				continue
			}
			seenInDoc[tok] = true
			freq[tok]++
		}
	}

	candidates := make([]string, 0, len(freq))
	for term := range freq {
		candidates = append(candidates, term)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if freq[candidates[i]] != freq[candidates[j]] {
			return freq[candidates[i]] > freq[candidates[j]]
		}
		return candidates[i] < candidates[j]
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

// chooseStrategy implements spec §4.6 step 4's decision tree. candidates
// holds the separately-scored non-query vocabulary that CONTEXTUAL_ADDITION
// draws from; removal and refinement still operate on the query's own terms.
func chooseStrategy(terms []string, essential map[string]bool, scores []termScore, candidates []termScore, threshold float64) *Recommendation {
	for i := range scores {
		scores[i].removable = scores[i].tfidf < 1.0 && !essential[scores[i].term]
	}

	sorted := append([]termScore(nil), scores...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].tfidf < sorted[j].tfidf })

	if len(sorted) > 0 {
		weakest := sorted[0]
		if weakest.removable && len(terms) >= 3 {
			remaining := removeTerm(terms, weakest.term)
			return &Recommendation{
				SuggestedTerms: remaining,
				Strategy:       StrategyTermRemoval,
				Confidence:     clamp01(weakest.tfidf / 5),
			}
		}
	}

	for _, s := range scores {
		if s.tfidf <= 2 {
			continue
		}
		if refined, ok := findRelatedTerm(s.term, terms); ok {
			return &Recommendation{
				SuggestedTerms: []string{refined},
				Strategy:       StrategyTermRefinement,
				Confidence:     0.7,
			}
		}
	}

	var additions []string
	for _, s := range candidates {
		if s.tfidf > 3 && s.df >= 2 {
			additions = append(additions, s.term)
		}
		if len(additions) == 2 {
			break
		}
	}
	if len(additions) > 0 {
		return &Recommendation{
			SuggestedTerms: append(append([]string(nil), terms...), additions...),
			Strategy:       StrategyContextualAddition,
			Confidence:     0.6,
		}
	}

	return nil
}

// findRelatedTerm looks for a synonym of term that is lexically related
// (substring relation) or present in the closed synonym map, and that is
// not already one of the query's terms.
func findRelatedTerm(term string, queryTerms []string) (string, bool) {
	present := map[string]bool{}
	for _, t := range queryTerms {
		present[t] = true
	}

	for _, candidate := range synonyms[term] {
		if !present[candidate] {
			return candidate, true
		}
	}
	for _, other := range queryTerms {
		if other == term {
			continue
		}
		if strings.Contains(other, term) || strings.Contains(term, other) {
			return other, true
		}
	}
	return "", false
}

func removeTerm(terms []string, target string) []string {
	out := make([]string, 0, len(terms)-1)
	for _, t := range terms {
		if t != target {
			out = append(out, t)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
