// calltips/helpers_documents.go
// Contains the document store: open buffers, their versions and their parsed syntax.
package calltips

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"log/slog"
	"sync"
)

// ============================================================================
// Document Store
// ============================================================================

// ParsedFile is one parse of a buffer at a specific version.
// File may be partial when Errors is non-empty.
type ParsedFile struct {
	Fset    *token.FileSet
	File    *ast.File
	Tok     *token.File
	Version int
	Content []byte
	Errors  scanner.ErrorList
}

// Snapshot is an immutable view of one document handed out inside a read section.
type Snapshot struct {
	URI     DocumentURI
	Path    string
	Version int
	Content []byte
	Parsed  *ParsedFile // nil until the document has been synced at least once
}

type document struct {
	uri     DocumentURI
	path    string
	content []byte
	version int
	parsed  *ParsedFile
}

// DocumentStore tracks the buffers the editor has open.
// Buffers are replaced wholesale (full sync); parsing is lazy and happens in Sync.
type DocumentStore struct {
	mu     sync.RWMutex
	docs   map[DocumentURI]*document
	logger *slog.Logger
}

// NewDocumentStore creates an empty store.
func NewDocumentStore(logger *slog.Logger) *DocumentStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentStore{
		docs:   make(map[DocumentURI]*document),
		logger: logger.With("component", "DocumentStore"),
	}
}

// Open starts tracking a document.
func (s *DocumentStore) Open(uri DocumentURI, path string, version int, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[uri] = &document{uri: uri, path: path, content: content, version: version}
	s.logger.Debug("Document opened", "uri", uri, "version", version, "size", len(content))
}

// Update replaces the buffer of a document. Out-of-order versions are ignored and
// reported by a false return.
func (s *DocumentStore) Update(uri DocumentURI, path string, version int, content []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, exists := s.docs[uri]
	if exists && version <= doc.version {
		s.logger.Warn("Ignoring out-of-order document update", "uri", uri, "received_version", version, "current_version", doc.version)
		return false
	}
	if !exists {
		s.docs[uri] = &document{uri: uri, path: path, content: content, version: version}
		return true
	}
	doc.content = content
	doc.version = version
	// doc.parsed is kept; Sync notices the version gap and re-parses.
	return true
}

// Close stops tracking a document.
func (s *DocumentStore) Close(uri DocumentURI) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, uri)
}

// Count returns the number of open documents.
func (s *DocumentStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Read runs fn inside a read section on an up-to-date snapshot: the parse matches the
// buffer and the document cannot be mutated until fn returns. The section is released
// on every exit path, including panics inside fn. fn must not call back into the store.
func (s *DocumentStore) Read(uri DocumentURI, fn func(snap *Snapshot) error) error {
	for attempt := 0; attempt < maxReadAttempts; attempt++ {
		done, err := s.readParsed(uri, fn)
		if done {
			return err
		}
		// An edit landed after the last parse; bring the parse up to date and retry.
		if _, err := s.Sync(uri); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %s kept changing while being read", ErrSyntaxUnavailable, uri)
}

// readParsed runs fn under the read lock when the parse is current. done is false
// when the document needs a re-parse first.
func (s *DocumentStore) readParsed(uri DocumentURI, fn func(snap *Snapshot) error) (done bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[uri]
	if !ok {
		return true, fmt.Errorf("%w: %s", ErrDocumentNotOpen, uri)
	}
	if doc.parsed == nil || doc.parsed.Version != doc.version {
		return false, nil
	}
	return true, fn(doc.snapshot())
}

// Sync brings the parse of a document up to date with its buffer and returns a snapshot.
// A buffer with pending unparsed edits is re-parsed synchronously before returning.
func (s *DocumentStore) Sync(uri DocumentURI) (*Snapshot, error) {
	s.mu.RLock()
	doc, ok := s.docs[uri]
	if ok && doc.parsed != nil && doc.parsed.Version == doc.version {
		snap := doc.snapshot()
		s.mu.RUnlock()
		return snap, nil
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotOpen, uri)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok = s.docs[uri]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotOpen, uri)
	}
	if doc.parsed == nil || doc.parsed.Version != doc.version {
		parsed, err := parseBuffer(doc.path, doc.content, doc.version)
		if err != nil {
			return nil, err
		}
		if len(parsed.Errors) > 0 {
			s.logger.Debug("Buffer parsed with syntax errors", "uri", uri, "version", doc.version, "error_count", len(parsed.Errors))
		}
		doc.parsed = parsed
	}
	return doc.snapshot(), nil
}

// Overlay returns the contents of every open buffer keyed by absolute path,
// in the shape go/packages expects for Config.Overlay.
func (s *DocumentStore) Overlay() map[string][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	overlay := make(map[string][]byte, len(s.docs))
	for _, doc := range s.docs {
		if doc.path == "" {
			continue
		}
		overlay[doc.path] = doc.content
	}
	return overlay
}

// ContentForPath returns the open buffer for an absolute path, if any.
func (s *DocumentStore) ContentForPath(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range s.docs {
		if doc.path == path {
			return doc.content, true
		}
	}
	return nil, false
}

func (d *document) snapshot() *Snapshot {
	return &Snapshot{
		URI:     d.uri,
		Path:    d.path,
		Version: d.version,
		Content: d.content,
		Parsed:  d.parsed,
	}
}

// parseBuffer parses a Go buffer, keeping partial syntax on errors.
func parseBuffer(path string, content []byte, version int) (*ParsedFile, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, content, parser.ParseComments|parser.AllErrors|parser.SkipObjectResolution)
	var errList scanner.ErrorList
	if err != nil && !errors.As(err, &errList) {
		return nil, fmt.Errorf("%w: %w", ErrSyntaxUnavailable, err)
	}
	if file == nil {
		return nil, fmt.Errorf("%w: parser returned no file for %s", ErrSyntaxUnavailable, path)
	}
	tok := fset.File(file.Pos())
	if tok == nil {
		return nil, fmt.Errorf("%w: no token.File for %s", ErrSyntaxUnavailable, path)
	}
	return &ParsedFile{
		Fset:    fset,
		File:    file,
		Tok:     tok,
		Version: version,
		Content: content,
		Errors:  errList,
	}, nil
}
