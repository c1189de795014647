package index

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/paulmach/orb/geo"

	geoquery "github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/errors"
)

// Reverse returns places around the request location, nearest first
// unless the request asks for score order.
func (s *Searcher) Reverse(ctx context.Context, req *geoquery.ReverseRequest) (*Response, error) {
	start := time.Now()

	dist := bleve.NewGeoDistanceQuery(req.Location.Lon(), req.Location.Lat(),
		strconv.FormatFloat(req.Radius, 'f', -1, 64)+"km")
	dist.SetField(fieldCoordinate)

	f := &filtered{}
	if req.QueryStringFilter != "" {
		f.scoring = bleve.NewQueryStringQuery(req.QueryStringFilter)
		f.filter(dist)
	} else {
		f.scoring = dist
	}
	f.tagFilters(req.OsmTagFilters)
	f.layers(req.LayerFilters)
	f.categories(req.IncludeCategories, req.ExcludeCategories)
	q := f.build()

	sreq := bleve.NewSearchRequestOptions(q, max(req.Limit, 1), 0, false)
	sreq.Fields = []string{fieldSource}
	if req.DistanceSort {
		sort, err := search.NewSortGeoDistance(fieldCoordinate, "m", req.Location.Lon(), req.Location.Lat(), false)
		if err != nil {
			return nil, apperrors.BadRequest("invalid location: %v", err)
		}
		sreq.SortByCustom(search.SortOrder{sort})
	}
	res, err := s.store.idx.SearchInContext(ctx, sreq)
	if err != nil {
		return nil, fmt.Errorf("executing reverse search: %w", err)
	}
	results, err := decodeHits(res.Hits)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		r.Score = r.TextScore
		if r.Coordinate != nil {
			r.Distance = geo.Distance(req.Location, *r.Coordinate)
		}
	}
	raw, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}
	resp := &Response{Results: results, Query: raw, Took: time.Since(start)}
	s.logger.Debug("reverse search executed",
		"lon", req.Location.Lon(),
		"lat", req.Location.Lat(),
		"radius_km", req.Radius,
		"results", len(results),
	)
	return resp, nil
}
