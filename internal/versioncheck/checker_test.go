package versioncheck

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSource struct {
	mu  sync.Mutex
	tag string
	err error
	n   int
}

func (f *fakeSource) LatestTag(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return f.tag, f.err
}

func (f *fakeSource) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

type memoryStore struct {
	mu       sync.Mutex
	versions map[string]Version
}

func (m *memoryStore) Get(_ context.Context, repo string) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[repo]
	if !ok {
		return Version{}, ErrNoVersion
	}
	return v, nil
}

func (m *memoryStore) Save(_ context.Context, repo string, v Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.versions == nil {
		m.versions = make(map[string]Version)
	}
	m.versions[repo] = v
	return nil
}

type firedTrigger struct {
	name   string
	tokens map[string]any
}

type recordingTriggers struct {
	mu    sync.Mutex
	fired []firedTrigger
	err   error
}

func (r *recordingTriggers) Fire(_ context.Context, name string, tokens map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.fired = append(r.fired, firedTrigger{name, tokens})
	return nil
}

const testRepo = "arendst/tasmota"

func newTestChecker(t *testing.T, src Source, store Store, triggers TriggerFirer) *Checker {
	t.Helper()
	c, err := NewChecker(Options{
		Repository: testRepo,
		Source:     src,
		Store:      store,
		Triggers:   triggers,
	})
	if err != nil {
		t.Fatalf("NewChecker() error = %v", err)
	}
	return c
}

func TestChecker_FirstVersionIsRecordedOnly(t *testing.T) {
	store := &memoryStore{}
	triggers := &recordingTriggers{}
	c := newTestChecker(t, &fakeSource{tag: "v14.2.0"}, store, triggers)

	announced, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if announced {
		t.Error("Check() announced the first seen version")
	}
	if len(triggers.fired) != 0 {
		t.Errorf("fired %d triggers, want 0", len(triggers.fired))
	}
	if got, _ := store.Get(context.Background(), testRepo); got != (Version{14, 2, 0}) {
		t.Errorf("stored = %v, want 14.2.0", got)
	}
}

func TestChecker_Compare(t *testing.T) {
	tests := []struct {
		name      string
		stored    Version
		tag       string
		announced bool
		want      Version
	}{
		{"newer revision", Version{14, 2, 0}, "v14.2.1", true, Version{14, 2, 1}},
		{"newer major", Version{13, 4, 0}, "v14.0.0", true, Version{14, 0, 0}},
		{"double digit minor", Version{9, 9, 0}, "v9.10.0", true, Version{9, 10, 0}},
		{"same", Version{14, 2, 0}, "v14.2.0", false, Version{14, 2, 0}},
		{"older", Version{14, 2, 0}, "v14.1.0", false, Version{14, 2, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memoryStore{versions: map[string]Version{testRepo: tt.stored}}
			triggers := &recordingTriggers{}
			c := newTestChecker(t, &fakeSource{tag: tt.tag}, store, triggers)

			announced, err := c.Check(context.Background())
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if announced != tt.announced {
				t.Errorf("announced = %v, want %v", announced, tt.announced)
			}
			if got, _ := store.Get(context.Background(), testRepo); got != tt.want {
				t.Errorf("stored = %v, want %v", got, tt.want)
			}

			if !tt.announced {
				if len(triggers.fired) != 0 {
					t.Errorf("fired %d triggers, want 0", len(triggers.fired))
				}
				return
			}
			if len(triggers.fired) != 1 || triggers.fired[0].name != TriggerNewVersion {
				t.Fatalf("fired = %+v", triggers.fired)
			}
			tokens := triggers.fired[0].tokens
			if tokens["new_major"] != tt.want.Major || tokens["new_minor"] != tt.want.Minor ||
				tokens["new_revision"] != tt.want.Revision {
				t.Errorf("new tokens = %v", tokens)
			}
			if tokens["old_major"] != tt.stored.Major || tokens["old_minor"] != tt.stored.Minor ||
				tokens["old_revision"] != tt.stored.Revision {
				t.Errorf("old tokens = %v", tokens)
			}
		})
	}
}

func TestChecker_Errors(t *testing.T) {
	fetchErr := errors.New("rate limited")

	t.Run("source", func(t *testing.T) {
		c := newTestChecker(t, &fakeSource{err: fetchErr}, &memoryStore{}, &recordingTriggers{})
		if _, err := c.Check(context.Background()); !errors.Is(err, fetchErr) {
			t.Errorf("Check() error = %v, want %v", err, fetchErr)
		}
	})

	t.Run("bad tag", func(t *testing.T) {
		store := &memoryStore{}
		c := newTestChecker(t, &fakeSource{tag: "nightly"}, store, &recordingTriggers{})
		if _, err := c.Check(context.Background()); !errors.Is(err, ErrInvalidTag) {
			t.Errorf("Check() error = %v, want ErrInvalidTag", err)
		}
		if len(store.versions) != 0 {
			t.Error("invalid tag was stored")
		}
	})

	t.Run("trigger failure keeps old version", func(t *testing.T) {
		fireErr := errors.New("broker down")
		store := &memoryStore{versions: map[string]Version{testRepo: {14, 1, 0}}}
		c := newTestChecker(t, &fakeSource{tag: "v14.2.0"}, store, &recordingTriggers{err: fireErr})
		if _, err := c.Check(context.Background()); !errors.Is(err, fireErr) {
			t.Errorf("Check() error = %v, want %v", err, fireErr)
		}
		if got, _ := store.Get(context.Background(), testRepo); got != (Version{14, 1, 0}) {
			t.Errorf("stored = %v, want 14.1.0", got)
		}
	})
}

func TestNewChecker(t *testing.T) {
	if _, err := NewChecker(Options{Repository: testRepo}); err == nil {
		t.Error("NewChecker() without dependencies error = nil")
	}
	if _, err := NewChecker(Options{Source: &fakeSource{}, Store: &memoryStore{}, Triggers: &recordingTriggers{}}); err == nil {
		t.Error("NewChecker() without repository error = nil")
	}

	c, err := NewChecker(Options{
		Repository:   testRepo,
		Source:       &fakeSource{},
		Store:        &memoryStore{},
		Triggers:     &recordingTriggers{},
		InitialDelay: -1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.initialDelay != DefaultInitialDelay || c.interval != DefaultInterval {
		t.Errorf("schedule = %v/%v, want defaults", c.initialDelay, c.interval)
	}
}

func TestChecker_Run(t *testing.T) {
	src := &fakeSource{tag: "v14.2.0"}
	c, err := NewChecker(Options{
		Repository: testRepo,
		Source:     src,
		Store:      &memoryStore{},
		Triggers:   &recordingTriggers{},
		Interval:   10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for src.calls() < 3 {
		select {
		case <-deadline:
			t.Fatalf("Run() made %d checks, want at least 3", src.calls())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
