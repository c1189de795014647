package dump

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/model"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/nominatim"
)

const maxLineSize = 256 << 20

// Reader reads a dump written by Writer.
type Reader struct {
	scanner   *bufio.Scanner
	lineNo    int
	header    *Header
	countries map[string]model.NameMap
	logger    *slog.Logger
}

// NewReader reads the header from r. The remaining lines are consumed by
// ReadAll.
func NewReader(r io.Reader) (*Reader, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), maxLineSize)
	rd := &Reader{
		scanner:   sc,
		countries: map[string]model.NameMap{},
		logger:    slog.Default().With("component", "dump-reader"),
	}
	raw, err := rd.next()
	if err != nil {
		return nil, err
	}
	if raw == nil || gjson.GetBytes(raw, "type").String() != typeHeader {
		return nil, fmt.Errorf("not a dump file: first line must be a %s header", typeHeader)
	}
	var h Header
	if err := json.Unmarshal([]byte(gjson.GetBytes(raw, "content").Raw), &h); err != nil {
		return nil, fmt.Errorf("decoding dump header: %w", err)
	}
	if major(h.Version) != major(FormatVersion) {
		return nil, fmt.Errorf("dump format version %s not supported, expected %s", h.Version, FormatVersion)
	}
	rd.header = &h
	return rd, nil
}

func (r *Reader) Header() *Header {
	return r.header
}

// next returns the next non-empty line, or nil at the end of input.
func (r *Reader) next() ([]byte, error) {
	for r.scanner.Scan() {
		r.lineNo++
		b := r.scanner.Bytes()
		if len(strings.TrimSpace(string(b))) == 0 {
			continue
		}
		return b, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading dump line %d: %w", r.lineNo+1, err)
	}
	return nil, nil
}

// ReadAll feeds every place to sink. With a non-empty country list only
// places of those countries are passed on. It returns the number of places
// sent to the sink.
func (r *Reader) ReadAll(ctx context.Context, sink nominatim.Sink, countries []string) (int64, error) {
	wanted := make(map[string]bool, len(countries))
	for _, cc := range countries {
		wanted[strings.ToLower(cc)] = true
	}
	var added, skipped int64
	for {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		raw, err := r.next()
		if err != nil {
			return added, err
		}
		if raw == nil {
			break
		}
		content := gjson.GetBytes(raw, "content")
		switch t := gjson.GetBytes(raw, "type").String(); t {
		case typeCountry:
			if err := r.readCountries(content); err != nil {
				return added, err
			}
		case typePlace:
			if len(wanted) > 0 && !wanted[content.Get("0.country_code").String()] {
				skipped++
				continue
			}
			docs, err := r.readPlace(content)
			if err != nil {
				return added, fmt.Errorf("line %d: %w", r.lineNo, err)
			}
			if len(docs) == 0 {
				continue
			}
			if err := sink.Add(ctx, docs); err != nil {
				return added, err
			}
			added++
		default:
			r.logger.Warn("skipping unknown line type", "type", t, "line", r.lineNo)
		}
	}
	r.logger.Info("dump read", "places", added, "skipped", skipped)
	return added, nil
}

func (r *Reader) readCountries(content gjson.Result) error {
	var infos []countryInfo
	if err := json.Unmarshal([]byte(content.Raw), &infos); err != nil {
		return fmt.Errorf("line %d: decoding country names: %w", r.lineNo, err)
	}
	for _, ci := range infos {
		r.countries[strings.ToLower(ci.CountryCode)] = ci.Name
	}
	return nil
}

func (r *Reader) readPlace(content gjson.Result) ([]*model.Doc, error) {
	if !content.IsArray() {
		return nil, fmt.Errorf("place content must be an array")
	}
	var docs []*model.Doc
	var err error
	content.ForEach(func(_, value gjson.Result) bool {
		var p place
		if err = json.Unmarshal([]byte(value.Raw), &p); err != nil {
			err = fmt.Errorf("decoding place: %w", err)
			return false
		}
		var d *model.Doc
		if d, err = p.toDoc(r.countries); err != nil {
			return false
		}
		docs = append(docs, d)
		return true
	})
	return docs, err
}

func major(version string) string {
	v, _, _ := strings.Cut(version, ".")
	return v
}
