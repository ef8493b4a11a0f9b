package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/versus/pkg/metrics"
)

type message struct {
	rec     Record
	attempt int
}

type partition struct {
	id     int
	label  string
	notify chan struct{}

	mu       sync.Mutex
	items    []*message
	consumed bool
}

type outcomeKind int

const (
	outcomeAck outcomeKind = iota
	outcomeNak
	outcomeTerm
)

type outcome struct {
	kind  outcomeKind
	delay time.Duration
}

type delivery struct {
	msg     *message
	once    sync.Once
	settled chan outcome
}

func (d *delivery) Payload() []byte { return d.msg.rec.Payload }
func (d *delivery) Attempt() int    { return d.msg.attempt }

func (d *delivery) settle(o outcome) error {
	err := ErrSettled
	d.once.Do(func() {
		d.settled <- o
		err = nil
	})
	return err
}

func (d *delivery) Ack() error                    { return d.settle(outcome{kind: outcomeAck}) }
func (d *delivery) Nak(delay time.Duration) error { return d.settle(outcome{kind: outcomeNak, delay: delay}) }
func (d *delivery) Term() error                   { return d.settle(outcome{kind: outcomeTerm}) }

// dispatch hands out the head record, waits for it to be settled, and
// either pops it or redelivers it.
func (p *partition) dispatch(ctx context.Context, done <-chan struct{}, out chan<- Delivery) {
	defer close(out)
	for {
		msg, ok := p.head(ctx, done)
		if !ok {
			return
		}

		d := &delivery{msg: msg, settled: make(chan outcome, 1)}
		select {
		case out <- d:
		case <-ctx.Done():
			return
		case <-done:
			return
		}

		var o outcome
		select {
		case o = <-d.settled:
		case <-ctx.Done():
			return
		case <-done:
			return
		}

		switch o.kind {
		case outcomeAck, outcomeTerm:
			p.pop()
		case outcomeNak:
			msg.attempt++
			if o.delay > 0 {
				t := time.NewTimer(o.delay)
				select {
				case <-t.C:
				case <-ctx.Done():
					t.Stop()
					return
				case <-done:
					t.Stop()
					return
				}
			}
		}
	}
}

func (p *partition) head(ctx context.Context, done <-chan struct{}) (*message, bool) {
	for {
		p.mu.Lock()
		if len(p.items) > 0 {
			m := p.items[0]
			p.mu.Unlock()
			return m, true
		}
		p.mu.Unlock()

		select {
		case <-p.notify:
		case <-ctx.Done():
			return nil, false
		case <-done:
			return nil, false
		}
	}
}

func (p *partition) pop() {
	p.mu.Lock()
	p.items[0] = nil
	p.items = p.items[1:]
	depth := len(p.items)
	p.mu.Unlock()
	metrics.UpdateFeedDepth(p.label, depth)
}
