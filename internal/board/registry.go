package board

import (
	"context"
	"fmt"
	"sync"

	"github.com/chxlky/taskboard/internal/models"
	"golang.org/x/sync/singleflight"
)

// Loader reads the state an engine starts from.
type Loader interface {
	ListLists(ctx context.Context, boardID string) ([]models.List, error)
	ListTasksByBoard(ctx context.Context, boardID string) ([]models.Task, error)
}

// Registry keeps one engine per opened board. A board is loaded from the
// store the first time it is viewed and served from memory afterwards.
type Registry struct {
	loader    Loader
	persister Persister
	notifier  Notifier
	opts      Options

	// loads collapses concurrent first views of a board into one store read.
	loads singleflight.Group

	mu      sync.Mutex
	engines map[string]*Engine
	retired []*Engine
}

func NewRegistry(loader Loader, persister Persister, notifier Notifier, opts Options) *Registry {
	return &Registry{
		loader:    loader,
		persister: persister,
		notifier:  notifier,
		opts:      opts,
		engines:   make(map[string]*Engine),
	}
}

// Get returns the engine of boardID, loading it on first use. The store is
// read without holding the registry lock, so a slow board does not stall
// the others.
func (r *Registry) Get(ctx context.Context, boardID string) (*Engine, error) {
	if e, ok := r.Peek(boardID); ok {
		return e, nil
	}

	v, err, _ := r.loads.Do(boardID, func() (any, error) {
		if e, ok := r.Peek(boardID); ok {
			return e, nil
		}
		lists, tasks, err := r.load(ctx, boardID)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		// A Reload may have installed an engine meanwhile.
		if e, ok := r.engines[boardID]; ok {
			return e, nil
		}
		e := NewEngine(boardID, lists, tasks, r.persister, r.notifier, r.opts)
		r.engines[boardID] = e
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Engine), nil
}

// Peek returns the engine of boardID if it is loaded.
func (r *Registry) Peek(boardID string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[boardID]
	return e, ok
}

// Reload re-reads the board from the store into its engine.
func (r *Registry) Reload(ctx context.Context, boardID string) (*Engine, error) {
	lists, tasks, err := r.load(ctx, boardID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[boardID]; ok {
		e.Reset(lists, tasks)
		return e, nil
	}
	e := NewEngine(boardID, lists, tasks, r.persister, r.notifier, r.opts)
	r.engines[boardID] = e
	return e, nil
}

// Drop forgets the engine of a deleted board.
func (r *Registry) Drop(boardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[boardID]; ok {
		delete(r.engines, boardID)
		r.retired = append(r.retired, e)
	}
}

// Close waits for the moves of every engine to settle.
func (r *Registry) Close() {
	r.mu.Lock()
	engines := append([]*Engine(nil), r.retired...)
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.mu.Unlock()

	for _, e := range engines {
		e.Wait()
	}
}

func (r *Registry) load(ctx context.Context, boardID string) ([]models.List, []models.Task, error) {
	lists, err := r.loader.ListLists(ctx, boardID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load lists of board %s: %w", boardID, err)
	}
	tasks, err := r.loader.ListTasksByBoard(ctx, boardID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load tasks of board %s: %w", boardID, err)
	}
	return lists, tasks, nil
}
