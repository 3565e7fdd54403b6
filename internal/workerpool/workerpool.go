// Copyright 2025 The go-recfilter Authors. SPDX-License-Identifier: Apache-2.0

// Package workerpool runs the independent units of a filter stage (tiles,
// lines) on a persistent set of goroutines. A Pool is created once per
// compiled program and reused by every stage of every run.
//
// Usage:
//
//	pool := workerpool.New(runtime.GOMAXPROCS(0))
//	defer pool.Close()
//
//	err := pool.For(ctx, numTiles*numLines, func(i int) {
//	    runTile(i % numTiles, i / numTiles)
//	})
package workerpool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool is a persistent worker pool.
type Pool struct {
	workers   int
	workC     chan func()
	closeOnce sync.Once
	closed    atomic.Bool

	// mu is held for reading while handing work to workC and for writing
	// while closing it.
	mu sync.RWMutex
}

// New creates a pool with the given number of workers. If workers <= 0,
// GOMAXPROCS is used. A pool with one worker runs everything on the calling
// goroutine.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := &Pool{workers: workers}
	if workers > 1 {
		p.workC = make(chan func(), workers*2)
		for range workers {
			go p.worker()
		}
	}
	return p
}

func (p *Pool) worker() {
	for fn := range p.workC {
		fn()
	}
}

// Workers returns the number of workers.
func (p *Pool) Workers() int {
	return p.workers
}

// Close stops the workers. Calling Close more than once is safe; a closed
// pool keeps working sequentially.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.closed.Store(true)
		if p.workC != nil {
			close(p.workC)
		}
	})
}

func (p *Pool) serial(n int) bool {
	return p.workC == nil || p.closed.Load() || n == 1
}

// submit hands fns to the workers. It returns false, having handed out
// nothing, if the pool was closed in the meantime.
func (p *Pool) submit(fns []func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return false
	}
	for _, fn := range fns {
		p.workC <- fn
	}
	return true
}

func forSerial(ctx context.Context, n int, fn func(i int)) error {
	for i := range n {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(i)
	}
	return nil
}

// For calls fn(i) for every i in [0, n), distributing indices with an atomic
// counter so uneven units balance out. It blocks until all started calls
// return. Once ctx is done no further indices are started and ctx.Err() is
// returned.
func (p *Pool) For(ctx context.Context, n int, fn func(i int)) error {
	if n <= 0 {
		return ctx.Err()
	}
	if p.serial(n) {
		return forSerial(ctx, n, fn)
	}

	workers := min(p.workers, n)
	var next atomic.Int64
	var wg sync.WaitGroup
	task := func() {
		defer wg.Done()
		for ctx.Err() == nil {
			i := int(next.Add(1)) - 1
			if i >= n {
				return
			}
			fn(i)
		}
	}
	tasks := make([]func(), workers)
	for w := range tasks {
		tasks[w] = task
	}
	wg.Add(workers)
	if !p.submit(tasks) {
		return forSerial(ctx, n, fn)
	}
	wg.Wait()
	return ctx.Err()
}

// ForRange splits [0, n) into one contiguous chunk per worker and calls
// fn(start, end) for each. It blocks until all chunks are done.
func (p *Pool) ForRange(ctx context.Context, n int, fn func(start, end int)) error {
	if n <= 0 {
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.serial(n) {
		fn(0, n)
		return nil
	}

	workers := min(p.workers, n)
	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	var tasks []func()
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		tasks = append(tasks, func() {
			defer wg.Done()
			fn(start, end)
		})
	}
	wg.Add(len(tasks))
	if !p.submit(tasks) {
		fn(0, n)
		return nil
	}
	wg.Wait()
	return ctx.Err()
}
