package main

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/model"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/nominatim"
	"github.com/cheggaaa/pb/v3"
)

const placeTemplate = `{{string . "prefix"}} {{counters . }} places {{speed . "%s/s" "?"}} {{etime . }}`

// countingSink forwards place sets to next and advances a progress bar
// for every place.
type countingSink struct {
	next nominatim.Sink
	bar  *pb.ProgressBar
}

func newCountingSink(next nominatim.Sink, prefix string) *countingSink {
	bar := pb.New64(0).SetTemplateString(placeTemplate).SetWriter(os.Stderr)
	bar.Set("prefix", prefix)
	bar.Start()
	return &countingSink{next: next, bar: bar}
}

func (s *countingSink) Add(ctx context.Context, docs []*model.Doc) error {
	if err := s.next.Add(ctx, docs); err != nil {
		return err
	}
	s.bar.Increment()
	return nil
}

func (s *countingSink) Finish() int64 {
	s.bar.Finish()
	return s.bar.Current()
}

// byteBar reports read progress over a file of known size.
func byteBar(size int64, prefix string) *pb.ProgressBar {
	bar := pb.New64(size).SetWriter(os.Stderr)
	bar.Set("prefix", prefix+" ")
	bar.Set(pb.Bytes, true)
	return bar.Start()
}

// dirSize sums the sizes of all regular files below dir.
func dirSize(dir string) uint64 {
	var total uint64
	filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += uint64(info.Size())
		}
		return nil
	})
	return total
}
