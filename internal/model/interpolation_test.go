package model

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func interpolationBase() *Doc {
	d := NewDoc("99", "W", 5, "place", "house_number")
	d.RankAddress = 30
	return d
}

func near(a, b orb.Point) bool {
	return math.Abs(a[0]-b[0]) < 1e-9 && math.Abs(a[1]-b[1]) < 1e-9
}

func TestInterpolationSingleNumber(t *testing.T) {
	line := orb.LineString{{0, 0}, {2, 0}}
	docs := InterpolationSet(interpolationBase(), 7, 7, 1, line)
	if len(docs) != 1 {
		t.Fatalf("expected 1 doc, got %d", len(docs))
	}
	if docs[0].HouseNumber != "7" {
		t.Errorf("expected housenumber 7, got %s", docs[0].HouseNumber)
	}
	if !near(*docs[0].Centroid, orb.Point{1, 0}) {
		t.Errorf("expected centroid at line middle, got %v", *docs[0].Centroid)
	}
	if docs[0].BBox == nil || docs[0].BBox.Max != (orb.Point{2, 0}) {
		t.Errorf("unexpected bbox %v", docs[0].BBox)
	}
}

func TestInterpolationRange(t *testing.T) {
	line := orb.LineString{{0, 0}, {1, 0}, {1, 1}}
	docs := InterpolationSet(interpolationBase(), 2, 6, 2, line)
	if len(docs) != 3 {
		t.Fatalf("expected 3 docs, got %d", len(docs))
	}
	want := []struct {
		hnr string
		pt  orb.Point
	}{
		{"2", orb.Point{0, 0}},
		{"4", orb.Point{1, 0}},
		{"6", orb.Point{1, 1}},
	}
	for i, w := range want {
		if docs[i].HouseNumber != w.hnr {
			t.Errorf("doc %d: expected %s, got %s", i, w.hnr, docs[i].HouseNumber)
		}
		if !near(*docs[i].Centroid, w.pt) {
			t.Errorf("doc %d: expected %v, got %v", i, w.pt, *docs[i].Centroid)
		}
	}
}

func TestInterpolationRejected(t *testing.T) {
	line := orb.LineString{{0, 0}, {1, 0}}
	tests := []struct {
		name              string
		first, last, step int64
	}{
		{"reversed", 10, 2, 1},
		{"range too wide", 1, 601, 2},
		{"step too big", 1, 100, 10},
	}
	for _, tt := range tests {
		if docs := InterpolationSet(interpolationBase(), tt.first, tt.last, tt.step, line); len(docs) != 0 {
			t.Errorf("%s: expected no docs, got %d", tt.name, len(docs))
		}
	}
}

func TestInterpolationZeroStep(t *testing.T) {
	docs := InterpolationSet(interpolationBase(), 1, 3, 0, orb.LineString{{0, 0}, {1, 0}})
	if len(docs) != 3 {
		t.Errorf("expected 3 docs, got %d", len(docs))
	}
}
