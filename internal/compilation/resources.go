package compilation

import (
	"net/url"
	"sort"
	"sync"
)

// ResourceType classifies a tracked source asset.
type ResourceType string

const (
	ResourceScript ResourceType = "script"
	ResourceStyle  ResourceType = "style"
	ResourceOther  ResourceType = "other"
)

// ResourceRecord is one trackable source asset referenced from a page.
//
// OptimizedFileName and OptimizedFileContents are empty until the bundler
// reconciles its output back onto the record.
type ResourceRecord struct {
	SourcePathURL         *url.URL
	Type                  ResourceType
	Contents              string
	RawAttributes         string
	Optimization          string
	OptimizedFileName     string
	OptimizedFileContents string
}

// Key is the stable identity of the record: its absolute source path.
func (r ResourceRecord) Key() string {
	if r.SourcePathURL == nil {
		return ""
	}
	return r.SourcePathURL.Path
}

// Reconciled reports whether the bundler has assigned output for the record.
func (r ResourceRecord) Reconciled() bool {
	return r.OptimizedFileName != ""
}

// ResourceStore maps absolute source paths to resource records. Pages render
// concurrently, so every access goes through the lock and callers only ever
// see copies.
type ResourceStore struct {
	records map[string]*ResourceRecord
	mutex   sync.RWMutex
}

// NewResourceStore creates an empty store.
func NewResourceStore() *ResourceStore {
	return &ResourceStore{
		records: make(map[string]*ResourceRecord),
	}
}

// Put adds a record. A record already tracked under the same key is kept, so
// the first page to reference an asset decides its optimization mode.
func (s *ResourceStore) Put(record ResourceRecord) bool {
	key := record.Key()
	if key == "" {
		return false
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.records[key]; exists {
		return false
	}
	s.records[key] = &record
	return true
}

// Get returns a copy of the record stored under key.
func (s *ResourceStore) Get(key string) (ResourceRecord, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	record, ok := s.records[key]
	if !ok {
		return ResourceRecord{}, false
	}
	return *record, true
}

// All returns copies of every record ordered by key.
func (s *ResourceStore) All() []ResourceRecord {
	return s.Filter(func(ResourceRecord) bool { return true })
}

// Filter returns copies of the records matching pred, ordered by key.
func (s *ResourceStore) Filter(pred func(ResourceRecord) bool) []ResourceRecord {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]ResourceRecord, 0, len(s.records))
	for _, record := range s.records {
		if pred(*record) {
			out = append(out, *record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Reconcile records the bundler output for key. It reports false when no
// record is tracked under key, leaving the store unchanged.
func (s *ResourceStore) Reconcile(key, fileName, contents string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	record, ok := s.records[key]
	if !ok {
		return false
	}
	record.OptimizedFileName = fileName
	record.OptimizedFileContents = contents
	return true
}

// Len returns the number of tracked records.
func (s *ResourceStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.records)
}
