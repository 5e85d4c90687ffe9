// Package jobmgr runs named long-lived jobs with cancellation, status callbacks,
// and in-memory tracking of what is running.
//
// Typical usage:
//
//	jm := jobmgr.NewManager(ctx, func(msg string) {
//	    log.Info().Msg(msg)
//	})
//
//	_ = jm.StartAsync("http", srv.Run)
//	_ = jm.StartAsync("bot", bot.Run)
//
//	<-ctx.Done()
//	err := jm.Wait()
//
// Jobs run in separate goroutines and are removed on completion.
package jobmgr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Job represents a running unit of work.
type Job struct {
	Name   string
	Cancel context.CancelFunc
}

// StatusReporter receives lifecycle events for jobs:
//
//	running:http
//	error:http:listen tcp :8080: bind: address already in use
//	done:http
type StatusReporter func(string)

// Manager starts and tracks jobs. It is safe for concurrent use.
type Manager struct {
	ctx      context.Context
	mu       sync.Mutex
	jobs     map[string]*Job
	wg       sync.WaitGroup
	errs     []error
	Reporter StatusReporter
}

// NewManager creates a Manager whose jobs are cancelled together with ctx.
// The reporter callback may be nil.
func NewManager(ctx context.Context, reporter StatusReporter) *Manager {
	return &Manager{
		ctx:      ctx,
		jobs:     make(map[string]*Job),
		Reporter: reporter,
	}
}

// StartAsync runs a job in a separate goroutine and returns immediately.
// If a job with the same name is already running, an error is returned.
func (m *Manager) StartAsync(name string, runner func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[name]; exists {
		return fmt.Errorf("job '%s' is already running", name)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	job := &Job{Name: name, Cancel: cancel}
	m.jobs[name] = job
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		defer cancel()
		m.report("running:" + name)

		err := runner(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			m.report("error:" + name + ":" + err.Error())
			m.mu.Lock()
			m.errs = append(m.errs, fmt.Errorf("%s: %w", name, err))
			m.mu.Unlock()
		} else {
			m.report("done:" + name)
		}

		m.mu.Lock()
		if m.jobs[name] == job {
			delete(m.jobs, name)
		}
		m.mu.Unlock()
	}()

	return nil
}

// Wait blocks until every started job returned and joins their errors.
func (m *Manager) Wait() error {
	m.wg.Wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	return errors.Join(m.errs...)
}

// List returns the active job names, sorted.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.jobs))
	for k := range m.jobs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Status returns a human-readable summary of active jobs.
func (m *Manager) Status() string {
	active := m.List()
	if len(active) == 0 {
		return "No jobs are running."
	}
	return fmt.Sprintf("Running jobs: %s", strings.Join(active, ", "))
}

func (m *Manager) report(s string) {
	if m.Reporter != nil {
		m.Reporter(s)
	}
}
