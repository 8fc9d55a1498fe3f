package pdf

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrNotRegistered = errors.New("document not registered")
	ErrAlreadyOpen   = errors.New("document already registered")
	ErrNotOwner      = errors.New("only the owner may close a document")
)

// Registry tracks open documents by name. Any component may Acquire a document
// for reading; only the owner that opened it may Close it, and Close waits for
// every outstanding acquisition to be released first.
type Registry struct {
	engine Engine

	mu   sync.Mutex
	docs map[string]*registryEntry
}

type registryEntry struct {
	doc     Document
	owner   string
	pending sync.WaitGroup
	closing bool
}

// NewRegistry creates a registry that opens documents with engine
func NewRegistry(engine Engine) *Registry {
	return &Registry{engine: engine, docs: make(map[string]*registryEntry)}
}

// Open loads data and registers it under name, owned by owner
func (r *Registry) Open(owner, name string, data []byte) (Document, error) {
	r.mu.Lock()
	if _, exists := r.docs[name]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyOpen, name)
	}
	r.mu.Unlock()

	doc, err := r.engine.LoadDocument(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.docs[name]; exists {
		_ = doc.Close()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyOpen, name)
	}
	r.docs[name] = &registryEntry{doc: doc, owner: owner}
	return doc, nil
}

// Acquire returns the named document and a release func that must be called
// once the caller is done with it and any pages obtained from it.
func (r *Registry) Acquire(name string) (Document, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.docs[name]
	if !ok || entry.closing {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	entry.pending.Add(1)

	var once sync.Once
	release := func() { once.Do(entry.pending.Done) }
	return entry.doc, release, nil
}

// Has reports whether name is registered and open
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.docs[name]
	return ok && !entry.closing
}

// Names returns the registered document names in sorted order
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.docs))
	for name, entry := range r.docs {
		if !entry.closing {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Close tears the document down once all outstanding acquisitions settle
func (r *Registry) Close(owner, name string) error {
	r.mu.Lock()
	entry, ok := r.docs[name]
	if !ok || entry.closing {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	if entry.owner != owner {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s is owned by %s", ErrNotOwner, name, entry.owner)
	}
	entry.closing = true
	r.mu.Unlock()

	entry.pending.Wait()
	err := entry.doc.Close()

	r.mu.Lock()
	delete(r.docs, name)
	r.mu.Unlock()
	return err
}

// CloseOwned closes every document owned by owner and joins the errors
func (r *Registry) CloseOwned(owner string) error {
	r.mu.Lock()
	var names []string
	for name, entry := range r.docs {
		if entry.owner == owner && !entry.closing {
			names = append(names, name)
		}
	}
	r.mu.Unlock()

	var errs []error
	for _, name := range names {
		if err := r.Close(owner, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
