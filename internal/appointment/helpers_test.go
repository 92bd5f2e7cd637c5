package appointment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/property-visit-scheduling/internal/config"
)

var testNow = time.Date(2030, 1, 10, 9, 0, 0, 0, time.UTC)

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFixedClock(t time.Time) *fixedClock { return &fixedClock{t: t} }

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

type fakeDirectory struct {
	mu    sync.Mutex
	props map[uuid.UUID]Property
	err   error
}

func newFakeDirectory(props ...Property) *fakeDirectory {
	d := &fakeDirectory{props: make(map[uuid.UUID]Property)}
	for _, p := range props {
		d.props[p.ID] = p
	}
	return d
}

func (d *fakeDirectory) GetProperty(_ context.Context, id uuid.UUID) (*Property, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	p, ok := d.props[id]
	if !ok {
		return nil, ErrPropertyNotFound
	}
	return &p, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []Notification
	err   error
	block chan struct{}
}

func (n *fakeNotifier) Notify(ctx context.Context, msg Notification) (string, error) {
	if n.block != nil {
		select {
		case <-n.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	if n.err != nil {
		return "", n.err
	}
	return uuid.NewString(), nil
}

func (n *fakeNotifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.sent))
	copy(out, n.sent)
	return out
}

var errMessagingDown = errors.New("messaging service down")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	svc      *Service
	store    *MemoryStore
	dir      *fakeDirectory
	notifier *fakeNotifier
	clock    *fixedClock

	owner    Actor
	student  Actor
	student2 Actor
	admin    Actor
	property Property
}

func newHarness(cfg config.Config, opts ...Option) *harness {
	return newHarnessAt(testNow, cfg, opts...)
}

func newHarnessAt(now time.Time, cfg config.Config, opts ...Option) *harness {
	h := &harness{
		notifier: &fakeNotifier{},
		clock:    newFixedClock(now),
		owner:    Actor{ID: uuid.New(), Role: RoleOwner},
		student:  Actor{ID: uuid.New(), Role: RoleStudent},
		student2: Actor{ID: uuid.New(), Role: RoleStudent},
		admin:    Actor{ID: uuid.New(), Role: RoleAdmin},
	}
	h.property = Property{ID: uuid.New(), OwnerID: h.owner.ID, Available: true}
	h.dir = newFakeDirectory(h.property)
	h.store = NewMemoryStore(h.clock)

	opts = append([]Option{WithClock(h.clock), WithLogger(discardLogger())}, opts...)
	h.svc = NewService(h.store, h.dir, h.notifier, cfg, opts...)
	return h
}

func (h *harness) request(actor Actor, at time.Time) (*Appointment, error) {
	return h.svc.CreateAppointment(context.Background(), actor, CreateRequest{
		PropertyID:          h.property.ID,
		AppointmentDateTime: at,
	})
}
