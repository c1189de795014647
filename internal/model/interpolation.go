package model

import (
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

const (
	maxInterpolationRange = 600
	maxInterpolationStep  = 10
)

// InterpolationSet synthesizes the housenumbers of an address interpolation
// line. Numbers from first to last in the given step are spread evenly over
// the line by length. Ranges that are too wide or too sparse produce no
// documents.
func InterpolationSet(base *Doc, first, last, step int64, line orb.Geometry) []*Doc {
	if line == nil {
		return nil
	}
	base.SetBBox(line)

	if first == last {
		c, _ := planar.CentroidArea(line)
		base.HouseNumber = strconv.FormatInt(first, 10)
		base.SetCentroid(c)
		return []*Doc{base}
	}

	if first > last || last-first >= maxInterpolationRange || step >= maxInterpolationStep {
		return nil
	}
	if step <= 0 {
		step = 1
	}

	ls := asLineString(line)
	if len(ls) == 0 {
		return nil
	}
	total := planar.Length(ls)
	var docs []*Doc
	for num := int64(0); first+num <= last; num += step {
		doc := base.Clone()
		doc.HouseNumber = strconv.FormatInt(first+num, 10)
		doc.SetCentroid(pointAlong(ls, total*float64(num)/float64(last-first)))
		docs = append(docs, doc)
	}
	return docs
}

func asLineString(g orb.Geometry) orb.LineString {
	switch v := g.(type) {
	case orb.LineString:
		return v
	case orb.MultiLineString:
		var out orb.LineString
		for _, ls := range v {
			out = append(out, ls...)
		}
		return out
	case orb.Point:
		return orb.LineString{v}
	}
	return nil
}

// pointAlong returns the point at the given planar distance from the start
// of the line, clamped to its end points.
func pointAlong(ls orb.LineString, dist float64) orb.Point {
	if dist <= 0 || len(ls) == 1 {
		return ls[0]
	}
	for i := 1; i < len(ls); i++ {
		seg := planar.Distance(ls[i-1], ls[i])
		if dist <= seg {
			if seg == 0 {
				return ls[i]
			}
			f := dist / seg
			return orb.Point{
				ls[i-1][0] + (ls[i][0]-ls[i-1][0])*f,
				ls[i-1][1] + (ls[i][1]-ls[i-1][1])*f,
			}
		}
		dist -= seg
	}
	return ls[len(ls)-1]
}
