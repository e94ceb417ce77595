package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go-spacewx/internal/clients"
	"go-spacewx/internal/domain"
)

var errUpstream = errors.New("upstream down")

func f64(v float64) *float64 { return &v }

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *fixedClock { return &fixedClock{t: t} }

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) New() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("evt-%d", s.n)
}

// feedStub serves all four feeds from fixed values
type feedStub struct {
	mu sync.Mutex

	plasma    *clients.PlasmaReading
	plasmaErr error
	mag       *clients.MagReading
	magErr    error
	kp        *clients.KpReading
	kpErr     error
	xray      *clients.XrayReading
	xrayErr   error
	calls     int
}

func (f *feedStub) feeds() Feeds { return Feeds{Plasma: f, Mag: f, Kp: f, Xray: f} }

func (f *feedStub) FetchPlasma(context.Context) (*clients.PlasmaReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.plasma, f.plasmaErr
}

func (f *feedStub) FetchMag(context.Context) (*clients.MagReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mag, f.magErr
}

func (f *feedStub) FetchKp(context.Context) (*clients.KpReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kp, f.kpErr
}

func (f *feedStub) FetchXray(context.Context) (*clients.XrayReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.xray, f.xrayErr
}

func (f *feedStub) setKp(kp float64, at time.Time) {
	f.mu.Lock()
	f.kp, f.kpErr = &clients.KpReading{Kp: f64(kp), Time: at}, nil
	f.mu.Unlock()
}

func (f *feedStub) setXray(long float64, at time.Time) {
	f.mu.Lock()
	f.xray, f.xrayErr = &clients.XrayReading{Long: f64(long), Time: at}, nil
	f.mu.Unlock()
}

func (f *feedStub) failAll() {
	f.mu.Lock()
	f.plasma, f.mag, f.kp, f.xray = nil, nil, nil, nil
	f.plasmaErr, f.magErr, f.kpErr, f.xrayErr = errUpstream, errUpstream, errUpstream, errUpstream
	f.mu.Unlock()
}

// tierStub is an in-test snapshot tier that can be told to fail
type tierStub struct {
	name     string
	durable  bool
	err      error
	snap     *domain.Snapshot
	baseline *domain.Snapshot
	flares   []domain.FlareTimelineItem
	puts     int
}

func (t *tierStub) Name() string  { return t.name }
func (t *tierStub) Durable() bool { return t.durable }

func (t *tierStub) PutSnapshot(_ context.Context, s *domain.Snapshot) error {
	if t.err != nil {
		return t.err
	}
	t.puts++
	t.snap = s
	return nil
}

func (t *tierStub) LatestSnapshot(context.Context) (*domain.Snapshot, error) {
	if t.err != nil {
		return nil, t.err
	}
	return t.snap, nil
}

func (t *tierStub) PutBaseline(_ context.Context, s *domain.Snapshot) error {
	if t.err != nil {
		return t.err
	}
	t.baseline = s
	return nil
}

func (t *tierStub) LatestBaseline(context.Context) (*domain.Snapshot, error) {
	if t.err != nil {
		return nil, t.err
	}
	return t.baseline, nil
}

func (t *tierStub) PutFlares(_ context.Context, items []domain.FlareTimelineItem) error {
	if t.err != nil {
		return t.err
	}
	t.flares = append(t.flares, items...)
	return nil
}

func (t *tierStub) RecentFlares(_ context.Context, limit int) ([]domain.FlareTimelineItem, error) {
	if t.err != nil {
		return nil, t.err
	}
	if len(t.flares) > limit {
		return t.flares[:limit], nil
	}
	return t.flares, nil
}

// pusherStub records every message and answers with err
type pusherStub struct {
	mu   sync.Mutex
	sent []clients.PushMessage
	err  error
}

func (p *pusherStub) Send(_ context.Context, msg clients.PushMessage) (*clients.PushTicket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	if p.err != nil {
		return nil, p.err
	}
	return &clients.PushTicket{Status: "ok", ID: "ticket"}, nil
}

func (p *pusherStub) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func kpSnapshot(t time.Time, kp float64) *domain.Snapshot {
	s, err := domain.NewSnapshot(t, domain.SourceLive, nil, &domain.Geomagnetic{Kp: f64(kp), Timestamp: t}, nil)
	if err != nil {
		panic(err)
	}
	return s
}
