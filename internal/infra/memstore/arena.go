// Package memstore keeps the booking state in process memory. It backs
// DB_DRIVER=memory for local runs and the service tests.
package memstore

import (
	"errors"
	"sort"
	"sync"

	"clinic-booking/internal/domain/apperr"
)

// arena is an id-keyed table. Each record sits in its own cell so mutations on
// different records never wait on each other, while mutations on one record run
// one at a time.
type arena[T any] struct {
	mu    sync.RWMutex
	seq   uint
	cells map[uint]*cell[T]
}

type cell[T any] struct {
	mu   sync.Mutex
	val  T
	gone bool
}

func newArena[T any]() *arena[T] {
	return &arena[T]{cells: make(map[uint]*cell[T])}
}

// insert allocates the next id and stores whatever build returns for it.
func (a *arena[T]) insert(build func(id uint) T) T {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seq++
	v := build(a.seq)
	a.cells[a.seq] = &cell[T]{val: v}
	return v
}

func (a *arena[T]) cell(id uint) *cell[T] {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cells[id]
}

func (a *arena[T]) get(id uint) (T, bool) {
	c := a.cell(id)
	if c == nil {
		var zero T
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gone {
		var zero T
		return zero, false
	}
	return c.val, true
}

// mutate runs fn on a copy of the record while holding the record lock and
// stores the copy unless fn fails. apperr.ErrSkipWrite keeps the stored value
// and is not reported.
func (a *arena[T]) mutate(id uint, fn func(*T) error) (T, bool, error) {
	var zero T
	c := a.cell(id)
	if c == nil {
		return zero, false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gone {
		return zero, false, nil
	}

	next := c.val
	if err := fn(&next); err != nil {
		if errors.Is(err, apperr.ErrSkipWrite) {
			return c.val, true, nil
		}
		return zero, true, err
	}
	c.val = next
	return next, true, nil
}

func (a *arena[T]) remove(id uint) bool {
	a.mu.Lock()
	c, ok := a.cells[id]
	if ok {
		delete(a.cells, id)
	}
	a.mu.Unlock()
	if !ok {
		return false
	}

	c.mu.Lock()
	c.gone = true
	c.mu.Unlock()
	return true
}

// snapshot returns the records for which keep is true, sorted with less.
func (a *arena[T]) snapshot(keep func(T) bool, less func(x, y T) bool) []T {
	a.mu.RLock()
	cells := make([]*cell[T], 0, len(a.cells))
	for _, c := range a.cells {
		cells = append(cells, c)
	}
	a.mu.RUnlock()

	out := make([]T, 0, len(cells))
	for _, c := range cells {
		c.mu.Lock()
		v, gone := c.val, c.gone
		c.mu.Unlock()
		if !gone && (keep == nil || keep(v)) {
			out = append(out, v)
		}
	}
	if less != nil {
		sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	}
	return out
}
