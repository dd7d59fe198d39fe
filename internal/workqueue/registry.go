package workqueue

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aatumaykin/deferq/internal/logger"
	"github.com/wasilibs/go-re2"
	"golang.org/x/text/unicode/norm"
)

var namePattern = re2.MustCompile(`^[a-z][a-z0-9_.-]{0,31}$`)

// NormalizeName returns the canonical form of a workqueue name: trimmed, NFC
// normalised, lower-case ASCII starting with a letter, at most 32 bytes.
func NormalizeName(name string) (string, error) {
	n := norm.NFC.String(strings.TrimSpace(name))
	if !namePattern.MatchString(n) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return n, nil
}

// Registry owns a set of named workqueues.
type Registry struct {
	mu     sync.RWMutex
	wqs    map[string]*Workqueue
	opts   []Option
	logger *logger.Logger
}

// NewRegistry returns an empty registry. opts are applied to every workqueue
// it creates, before the per-call options.
func NewRegistry(log *logger.Logger, opts ...Option) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{
		wqs:    make(map[string]*Workqueue),
		opts:   opts,
		logger: log.Named("registry"),
	}
}

// Create builds and registers a workqueue.
func (r *Registry) Create(name string, opts ...Option) (*Workqueue, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.wqs[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, name)
	}

	all := make([]Option, 0, len(r.opts)+len(opts))
	all = append(all, r.opts...)
	all = append(all, opts...)
	wq, err := New(name, all...)
	if err != nil {
		return nil, err
	}
	wq.registry = r
	r.wqs[name] = wq
	r.logger.Debug("workqueue registered", logger.Field{Key: "workqueue", Value: name})
	return wq, nil
}

// Lookup returns the workqueue registered under name.
func (r *Registry) Lookup(name string) (*Workqueue, bool) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	wq, ok := r.wqs[name]
	return wq, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.wqs))
	for name := range r.wqs {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (r *Registry) snapshot() []*Workqueue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wqs := make([]*Workqueue, 0, len(r.wqs))
	for _, wq := range r.wqs {
		wqs = append(wqs, wq)
	}
	sort.Slice(wqs, func(i, j int) bool { return wqs[i].name < wqs[j].name })
	return wqs
}

// FlushAll flushes every registered workqueue in name order.
func (r *Registry) FlushAll() {
	for _, wq := range r.snapshot() {
		wq.Flush()
	}
}

// DestroyAll destroys every registered workqueue. The registry stays usable.
func (r *Registry) DestroyAll() {
	for _, wq := range r.snapshot() {
		wq.Destroy()
	}
}

func (r *Registry) unregister(wq *Workqueue) {
	r.mu.Lock()
	if cur, ok := r.wqs[wq.name]; ok && cur == wq {
		delete(r.wqs, wq.name)
	}
	r.mu.Unlock()
	r.logger.Debug("workqueue unregistered", logger.Field{Key: "workqueue", Value: wq.name})
}
