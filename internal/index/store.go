package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/model"
)

// ErrIndexNotFound is returned by Open when the data directory holds no
// index.
var ErrIndexNotFound = errors.New("no search index found")

var propertiesKey = []byte("photon_properties")

// Store owns the bleve index and the database properties stored with it.
type Store struct {
	idx    bleve.Index
	path   string
	mu     sync.RWMutex
	props  *model.DatabaseProperties
	logger *slog.Logger
}

// Create builds a fresh index at path, removing any index that is already
// there. An empty path creates an in-memory index.
func Create(path string, props *model.DatabaseProperties) (*Store, error) {
	m, err := newIndexMapping()
	if err != nil {
		return nil, err
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("removing old index %s: %w", path, err)
		}
		idx, err = bleve.New(path, m)
	}
	if err != nil {
		return nil, fmt.Errorf("creating index: %w", err)
	}

	s := &Store{
		idx:    idx,
		path:   path,
		props:  props,
		logger: slog.Default().With("component", "index"),
	}
	if err := s.SaveProperties(props); err != nil {
		idx.Close()
		return nil, err
	}
	s.logger.Info("index created", "path", path, "languages", props.LanguageList())
	return s, nil
}

// NewMemOnly creates an in-memory index with the given properties.
func NewMemOnly(props *model.DatabaseProperties) (*Store, error) {
	return Create("", props)
}

// Open opens an existing index and loads its properties. The stored
// version must match model.DatabaseVersion.
func Open(path string) (*Store, error) {
	idx, err := bleve.Open(path)
	if err != nil {
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) || errors.Is(err, bleve.ErrorIndexMetaMissing) {
			return nil, fmt.Errorf("%w at %s", ErrIndexNotFound, path)
		}
		return nil, fmt.Errorf("opening index %s: %w", path, err)
	}
	s := &Store{
		idx:    idx,
		path:   path,
		logger: slog.Default().With("component", "index"),
	}
	props, err := s.loadProperties()
	if err != nil {
		idx.Close()
		return nil, err
	}
	if err := props.CheckVersion(); err != nil {
		idx.Close()
		return nil, err
	}
	s.props = props
	s.logger.Info("index opened",
		"path", path,
		"languages", props.LanguageList(),
		"import_date", props.ImportDate,
	)
	return s, nil
}

func (s *Store) loadProperties() (*model.DatabaseProperties, error) {
	raw, err := s.idx.GetInternal(propertiesKey)
	if err != nil {
		return nil, fmt.Errorf("reading index properties: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: properties missing in %s", ErrIndexNotFound, s.path)
	}
	props := &model.DatabaseProperties{}
	if err := json.Unmarshal(raw, props); err != nil {
		return nil, fmt.Errorf("decoding index properties: %w", err)
	}
	return props, nil
}

// Properties returns the properties the index was created or last saved
// with.
func (s *Store) Properties() *model.DatabaseProperties {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.props
}

// SaveProperties writes props into the index metadata.
func (s *Store) SaveProperties(props *model.DatabaseProperties) error {
	raw, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("encoding index properties: %w", err)
	}
	if err := s.idx.SetInternal(propertiesKey, raw); err != nil {
		return fmt.Errorf("saving index properties: %w", err)
	}
	s.mu.Lock()
	s.props = props
	s.mu.Unlock()
	return nil
}

// DocCount returns the number of indexed documents.
func (s *Store) DocCount() (uint64, error) {
	n, err := s.idx.DocCount()
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

// Ping reports whether the index answers requests.
func (s *Store) Ping() error {
	_, err := s.DocCount()
	return err
}

func (s *Store) Close() error {
	return s.idx.Close()
}
