package index

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	geoquery "github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/query"
)

const (
	// textWeight is the score of the best text match in a candidate set.
	textWeight = 10.0
	// functionScale maps the function weights below onto textWeight.
	functionScale = 0.25

	missingImportance = 0.00001
	nonOtherBonus     = 0.4
	biasWeight        = 38.0
	biasDecay         = 0.8
)

// locationBias is an exponential decay around a point. Places within the
// offset get the full weight.
type locationBias struct {
	origin   orb.Point
	weight   float64
	scaleKm  float64
	offsetKm float64
}

// newLocationBias returns nil when there is no point or the zoom is too
// small for a bias.
func newLocationBias(b geoquery.Bias) *locationBias {
	if b.Location == nil || b.Zoom < 4 {
		return nil
	}
	zoom := min(b.Zoom, 18)
	radius := float64(int(1)<<(18-zoom)) * 0.25
	scale := math.Max(0, math.Min(1, b.Scale))
	return &locationBias{
		origin:   *b.Location,
		weight:   biasWeight * (1 - scale),
		scaleKm:  radius,
		offsetKm: radius / 10,
	}
}

func (lb *locationBias) value(p *orb.Point) float64 {
	if lb == nil || p == nil {
		return 0
	}
	distKm := geo.Distance(lb.origin, *p) / 1000
	d := math.Max(0, distKm-lb.offsetKm)
	lambda := math.Log(biasDecay) / lb.scaleKm
	return lb.weight * math.Exp(lambda*d)
}

// ranking describes how index scores are combined with place importance
// and location.
type ranking struct {
	importanceFactor float64
	demoteOther      bool
	bias             *locationBias
}

// rerank computes the final score of every result and sorts them,
// best first. Text scores are normalized by the best score of the set.
func (rk ranking) rerank(results []*Result) {
	maxText := 0.0
	for _, r := range results {
		maxText = math.Max(maxText, r.TextScore)
	}
	for _, r := range results {
		text := 0.0
		if maxText > 0 {
			text = textWeight * r.TextScore / maxText
		}
		importance := r.Importance
		if importance <= 0 {
			importance = missingImportance
		}
		fn := importance * rk.importanceFactor
		if rk.demoteOther && r.Type != "other" {
			fn += nonOtherBonus
		}
		fn += rk.bias.value(r.Coordinate)
		r.Score = math.Round((text+functionScale*fn)*10000) / 10000
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Importance != results[j].Importance {
			return results[i].Importance > results[j].Importance
		}
		return results[i].ID < results[j].ID
	})
}
