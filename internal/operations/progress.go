package operations

import (
	"strings"
	"sync"

	"go-docspace/internal/model"
)

// Progress is the accounting of one sub-operation (one id space).
type Progress struct {
	mu        sync.Mutex
	total     int
	processed int
	results   []string
	err       string
	finished  bool

	changed func()
}

// AddTotal announces n more steps of work.
func (p *Progress) AddTotal(n int) {
	p.mu.Lock()
	p.total += n
	p.mu.Unlock()
}

// Step marks n steps done and publishes.
func (p *Progress) Step(n int) {
	p.mu.Lock()
	p.processed += n
	p.mu.Unlock()
	p.notify()
}

// Complete records a result token ("file_5", "folder_7", a download key).
func (p *Progress) Complete(token string) {
	if token == "" {
		return
	}
	p.mu.Lock()
	p.results = append(p.results, token)
	p.mu.Unlock()
}

// SetError replaces the sub-operation error. Cancellations are not errors.
func (p *Progress) SetError(err error) {
	if err == nil || model.IsCancellation(err) {
		return
	}
	p.mu.Lock()
	p.err = err.Error()
	p.mu.Unlock()
}

// AppendError adds err to the error text instead of replacing it.
func (p *Progress) AppendError(err error) {
	if err == nil || model.IsCancellation(err) {
		return
	}
	p.mu.Lock()
	if p.err == "" {
		p.err = err.Error()
	} else {
		p.err += "; " + err.Error()
	}
	p.mu.Unlock()
}

func (p *Progress) Finish() {
	p.mu.Lock()
	p.finished = true
	p.mu.Unlock()
	p.notify()
}

func (p *Progress) notify() {
	if p.changed != nil {
		p.changed()
	}
}

type snapshot struct {
	total, processed int
	results          []string
	err              string
	finished         bool
}

func (p *Progress) snapshot() snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return snapshot{
		total:     p.total,
		processed: p.processed,
		results:   append([]string(nil), p.results...),
		err:       p.err,
		finished:  p.finished,
	}
}

// Status is what the composed task reports.
type Status struct {
	Progress  int
	Processed int
	Total     int
	Result    string
	Error     string
	Finished  bool
}

// Composite joins the native and third-party sub-operations of one task.
type Composite struct {
	Native *Progress
	Third  *Progress

	mu   sync.Mutex
	last int

	// pubMu keeps published snapshots in the order they were taken.
	pubMu   sync.Mutex
	publish func(Status)
}

func newComposite(publish func(Status)) *Composite {
	c := &Composite{publish: publish}
	c.Native = &Progress{changed: c.changed}
	c.Third = &Progress{changed: c.changed}
	return c
}

func (c *Composite) changed() {
	if c.publish == nil {
		return
	}
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	c.publish(c.Status())
}

// Status aggregates both sub-operations. The native error is reported when
// both failed. Progress never goes down between two calls.
func (c *Composite) Status() Status {
	n, t := c.Native.snapshot(), c.Third.snapshot()

	st := Status{
		Processed: n.processed + t.processed,
		Total:     n.total + t.total,
		Result:    strings.Join(append(n.results, t.results...), model.ResultSeparator),
		Error:     n.err,
		Finished:  n.finished && t.finished,
	}
	if st.Error == "" {
		st.Error = t.err
	}

	switch {
	case st.Finished:
		st.Progress = 100
	case st.Total > 0:
		st.Progress = min(st.Processed*100/st.Total, 100)
	}

	c.mu.Lock()
	if st.Progress < c.last {
		st.Progress = c.last
	}
	c.last = st.Progress
	c.mu.Unlock()
	return st
}
