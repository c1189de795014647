package dump

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/model"
)

// Writer is an import sink that writes a dump instead of an index. It is
// safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	out    *bufio.Writer
	closer io.Closer
	enc    *json.Encoder
	props  *model.DatabaseProperties
	places int64
	logger *slog.Logger
}

// NewWriter writes the dump to w.
func NewWriter(w io.Writer, props *model.DatabaseProperties) *Writer {
	out := bufio.NewWriterSize(w, 1<<20)
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	return &Writer{
		out:    out,
		enc:    enc,
		props:  props,
		logger: slog.Default().With("component", "dump-writer"),
	}
}

// Create opens path for writing. "-" writes to stdout.
func Create(path string, props *model.DatabaseProperties) (*Writer, error) {
	if path == "-" {
		return NewWriter(os.Stdout, props), nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating dump file %s: %w", path, err)
	}
	w := NewWriter(f, props)
	w.closer = f
	return w, nil
}

// WriteHeader writes the header and the country names. It must be called
// before the first Add.
func (w *Writer) WriteHeader(countries map[string]model.NameMap, sortedByCountry bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	h := Header{
		Version:         FormatVersion,
		Generator:       "photon-geocoder",
		DatabaseVersion: model.DatabaseVersion,
		DataTimestamp:   w.props.ImportDate,
		Languages:       w.props.LanguageList(),
		ExtraTags:       w.props.ExtraTags,
		Features: Features{
			SortedByCountry: sortedByCountry,
			HasGeometries:   w.props.SupportGeometries,
		},
	}
	if err := w.enc.Encode(line{Type: typeHeader, Content: h}); err != nil {
		return fmt.Errorf("writing dump header: %w", err)
	}

	codes := make([]string, 0, len(countries))
	for cc := range countries {
		if cc != "" {
			codes = append(codes, cc)
		}
	}
	sort.Strings(codes)
	infos := make([]countryInfo, 0, len(codes))
	for _, cc := range codes {
		infos = append(infos, countryInfo{CountryCode: cc, Name: countries[cc]})
	}
	if err := w.enc.Encode(line{Type: typeCountry, Content: infos}); err != nil {
		return fmt.Errorf("writing country names: %w", err)
	}
	return nil
}

// Add writes the document set of one place as a single line. Documents
// without a centroid are skipped.
func (w *Writer) Add(ctx context.Context, docs []*model.Doc) error {
	places := make([]*place, 0, len(docs))
	for _, d := range docs {
		if d.Centroid == nil {
			continue
		}
		p, err := fromDoc(d, w.props.ExtraTags)
		if err != nil {
			return err
		}
		places = append(places, p)
	}
	if len(places) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(line{Type: typePlace, Content: places}); err != nil {
		return fmt.Errorf("writing place %s: %w", places[0].PlaceID, err)
	}
	w.places++
	return nil
}

// Finish flushes the output and closes the file opened by Create.
func (w *Writer) Finish(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.out.Flush(); err != nil {
		return fmt.Errorf("flushing dump: %w", err)
	}
	if w.closer != nil {
		if err := w.closer.Close(); err != nil {
			return fmt.Errorf("closing dump: %w", err)
		}
		w.closer = nil
	}
	w.logger.Info("dump finished", "places", w.places)
	return nil
}

// Places returns the number of place lines written.
func (w *Writer) Places() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.places
}
