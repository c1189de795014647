package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"

	geoquery "github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/query"
)

const (
	minCandidates = 50
	maxCandidates = 500
)

var (
	alphabeticWord   = regexp.MustCompile(`^\p{L}+$`)
	alphabeticPhrase = regexp.MustCompile(`^[\p{L} ]+$`)
	housenumberSplit = regexp.MustCompile(`[ ,;]+`)
)

// Response is the outcome of one search.
type Response struct {
	Results []*Result
	// Query is the JSON form of the executed index query, for debugging.
	Query json.RawMessage
	// Lenient is set when the strict pass found nothing.
	Lenient bool
	Took    time.Duration
}

// Searcher runs geocoding requests against the index.
type Searcher struct {
	store  *Store
	logger *slog.Logger
}

func NewSearcher(store *Store) *Searcher {
	return &Searcher{
		store:  store,
		logger: slog.Default().With("component", "searcher"),
	}
}

// Search runs a free-text search returning at most size results. A
// lenient, fuzzy pass is tried when the strict pass has no hits.
func (s *Searcher) Search(ctx context.Context, req *geoquery.SearchRequest, size int) (*Response, error) {
	start := time.Now()
	text := strings.TrimSpace(req.Query)

	var resp *Response
	for _, lenient := range []bool{false, true} {
		q, rk := s.textQuery(text, lenient)
		f := &filtered{scoring: q}
		f.base(req.Base)
		f.boundingBox(req.BBox)
		rk.bias = newLocationBias(req.Bias)

		var err error
		resp, err = s.execute(ctx, f.build(), rk, size, text == "")
		if err != nil {
			return nil, err
		}
		resp.Lenient = lenient
		// An empty query has no fuzzy variant.
		if len(resp.Results) > 0 || text == "" {
			break
		}
	}
	resp.Took = time.Since(start)
	s.logger.Debug("search executed",
		"query", text,
		"results", len(resp.Results),
		"lenient", resp.Lenient,
		"took_ms", resp.Took.Milliseconds(),
	)
	return resp, nil
}

// execute runs q over a candidate window larger than size, reranks the
// candidates and returns the best size results. byImportance sorts the
// candidates by importance, which is used when q matches everything.
func (s *Searcher) execute(ctx context.Context, q query.Query, rk ranking, size int, byImportance bool) (*Response, error) {
	window := min(max(size*4, minCandidates), maxCandidates)
	req := bleve.NewSearchRequestOptions(q, window, 0, false)
	req.Fields = []string{fieldSource}
	if byImportance {
		req.SortBy([]string{"-" + fieldImportance, "-_score"})
	}
	res, err := s.store.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("executing search: %w", err)
	}
	results, err := decodeHits(res.Hits)
	if err != nil {
		return nil, err
	}
	rk.rerank(results)
	if len(results) > size {
		results = results[:size]
	}
	raw, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}
	return &Response{Results: results, Query: raw}, nil
}

func decodeHits(hits search.DocumentMatchCollection) ([]*Result, error) {
	results := make([]*Result, 0, len(hits))
	for _, hit := range hits {
		source, ok := hit.Fields[fieldSource].(string)
		if !ok {
			return nil, fmt.Errorf("document %s has no stored source", hit.ID)
		}
		r, err := decodeResult(hit.ID, source)
		if err != nil {
			return nil, err
		}
		r.TextScore = hit.Score
		results = append(results, r)
	}
	return results, nil
}

// analyze splits text into the terms the search analyzer produces.
func (s *Searcher) analyze(text string) []string {
	a := s.store.idx.Mapping().AnalyzerNamed(analyzerSearch)
	if a == nil {
		return strings.Fields(strings.ToLower(text))
	}
	var terms []string
	for _, tok := range a.Analyze([]byte(text)) {
		terms = append(terms, string(tok.Term))
	}
	return terms
}

// autoFuzziness allows no edits for terms of up to two characters, one
// for up to five and two beyond.
func autoFuzziness(term string) int {
	switch n := len([]rune(term)); {
	case n <= 2:
		return 0
	case n <= 5:
		return 1
	}
	return 2
}

// termMatch matches one analyzed term, fuzzily when fuzzy is set and the
// term is long enough.
func termMatch(field, term string, fuzzy bool, prefix int) query.Query {
	if fuzzy {
		if f := autoFuzziness(term); f > 0 {
			q := bleve.NewFuzzyQuery(term)
			q.SetField(field)
			q.SetFuzziness(f)
			q.SetPrefix(prefix)
			return q
		}
	}
	return termQuery(field, term)
}

// termsMatch requires at least minMatch of terms to match field.
func termsMatch(field string, terms []string, fuzzy bool, prefix int, minMatch int, boost float64) query.Query {
	qs := make([]query.Query, 0, len(terms))
	for _, t := range terms {
		qs = append(qs, termMatch(field, t, fuzzy, prefix))
	}
	if minMatch >= len(qs) {
		c := bleve.NewConjunctionQuery(qs...)
		c.SetBoost(boost)
		return c
	}
	d := bleve.NewDisjunctionQuery(qs...)
	d.SetMin(float64(max(minMatch, 1)))
	d.SetBoost(boost)
	return d
}

// lenientMinimum keeps all terms of queries with up to two terms, all but
// one of up to six and all but two beyond.
func lenientMinimum(n int) int {
	switch {
	case n <= 2:
		return n
	case n <= 6:
		return n - 1
	}
	return n - 2
}

func matchQuery(field, text, analyzer string, boost float64) *query.MatchQuery {
	q := bleve.NewMatchQuery(text)
	q.SetField(field)
	q.Analyzer = analyzer
	q.SetBoost(boost)
	return q
}

// textQuery builds the scoring query of a free-text search together with
// the ranking applied afterwards.
func (s *Searcher) textQuery(text string, lenient bool) (query.Query, ranking) {
	if text == "" {
		return bleve.NewMatchAllQuery(), ranking{}
	}
	terms := s.analyze(text)
	if len(terms) == 0 {
		return bleve.NewMatchNoneQuery(), ranking{}
	}
	if len([]rune(text)) < 4 || alphabeticWord.MatchString(text) {
		return s.shortQuery(text, terms, lenient), ranking{importanceFactor: 40, demoteOther: true}
	}
	return s.fullQuery(text, terms, lenient)
}

// shortQuery handles single words and very short input, matching name
// prefixes and complete names.
func (s *Searcher) shortQuery(text string, terms []string, lenient bool) query.Query {
	qlen := len([]rune(text))
	b := bleve.NewBooleanQuery()

	b.AddShould(matchQuery(collectorNamePrefix, text, analyzerKeyword, 1))

	full := bleve.NewMatchQuery(text)
	full.SetField(collectorFieldFull("name"))
	full.Analyzer = analyzerKeyword
	if qlen >= 4 {
		full.SetFuzziness(autoFuzziness(text))
		if qlen <= 6 {
			full.SetPrefix(1)
		} else {
			full.SetPrefix(2)
		}
	}
	b.AddShould(full)

	if lenient {
		b.AddShould(termsMatch(collectorName, terms, true, 2, 1, 0.2))
	}
	b.SetMinShould(1)
	return b
}

// fullQuery handles everything else: all terms must appear somewhere in
// the address and either the name or the housenumber and street must
// match.
func (s *Searcher) fullQuery(text string, terms []string, lenient bool) (query.Query, ranking) {
	isAlphabetic := alphabeticPhrase.MatchString(text)
	b := bleve.NewBooleanQuery()

	required := len(terms)
	if lenient {
		required = lenientMinimum(len(terms))
	}
	b.AddMust(termsMatch(collectorAllNgram, terms, lenient, 2, required, 0.1))

	nameBoost := 1.0
	if isAlphabetic {
		nameBoost = 1.5
	}
	nameMatch := termsMatch(collectorName, terms, lenient, 2, 1, nameBoost)

	hnr := bleve.NewBooleanQuery()
	hnr.AddMust(matchQuery(fieldHousenumber, text, analyzerSearch, 0.6))
	var exact []string
	for _, part := range housenumberSplit.Split(strings.ToLower(text), -1) {
		if part != "" {
			exact = append(exact, part)
		}
	}
	if len(exact) > 0 {
		full := anyTerm(fieldHousenumberRaw, exact)
		if bq, ok := full.(query.BoostableQuery); ok {
			bq.SetBoost(2)
		}
		hnr.AddShould(full)
	}
	hnr.AddMust(termsMatch(collectorParent, terms, lenient, 2, 1, 1))

	either := bleve.NewDisjunctionQuery(nameMatch, hnr)
	either.SetBoost(0.2)
	b.AddMust(either)

	b.AddShould(matchQuery(collectorAll, text, analyzerSearch, 1))
	if !lenient && !strings.Contains(text, ",") {
		boost := 0.01
		if isAlphabetic {
			boost = 0.1
		}
		b.AddShould(matchQuery(collectorNamePrefix, text, analyzerKeyword, boost))
	}

	factor := 20.0
	if isAlphabetic {
		factor = 40
	}
	return b, ranking{importanceFactor: factor}
}
