package index

import (
	"context"
	"fmt"
	"net/http"

	"github.com/blevesearch/bleve/v2"

	geoquery "github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/errors"
)

// Lookup returns the first document of a place.
func (s *Searcher) Lookup(ctx context.Context, req *geoquery.LookupRequest) (*Result, error) {
	q := bleve.NewDocIDQuery([]string{req.PlaceID})
	sreq := bleve.NewSearchRequestOptions(q, 1, 0, false)
	sreq.Fields = []string{fieldSource}
	res, err := s.store.idx.SearchInContext(ctx, sreq)
	if err != nil {
		return nil, fmt.Errorf("looking up place %s: %w", req.PlaceID, err)
	}
	if len(res.Hits) == 0 {
		return nil, apperrors.Newf(apperrors.ErrPlaceNotFound, http.StatusNotFound,
			"Place %s not found.", req.PlaceID)
	}
	results, err := decodeHits(res.Hits)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}
