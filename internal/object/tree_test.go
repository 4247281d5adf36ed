package object

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"kwait/internal/ktimer"
	"kwait/internal/status"
	"kwait/internal/waitq"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	w := ktimer.NewWheel()
	t.Cleanup(w.Close)
	tr, err := New(Config{Wheel: w})
	if err != nil {
		t.Fatalf("new tree: %v", err)
	}
	return tr
}

func mustCreate(t *testing.T, tr *Tree, parent *Object, kind Kind, name string) *Object {
	t.Helper()
	o, err := tr.Create(parent, kind, name, waitq.NotSignaled, nil)
	if err != nil {
		t.Fatalf("create %q: %v", name, err)
	}
	return o
}

func TestCreateAndFind(t *testing.T) {
	tr := newTestTree(t)
	ev := mustCreate(t, tr, nil, KindEvent, "ev")
	defer ev.Release()

	found, err := tr.Find(nil, "/ev")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found != ev {
		t.Fatalf("find returned a different object")
	}
	if found.RefCount() != 2 {
		t.Fatalf("refcount after find: want 2, got %d", found.RefCount())
	}
	found.Release()
}

func TestTryAddRefSkipsDrainingObject(t *testing.T) {
	tr := newTestTree(t)
	dir := mustCreate(t, tr, nil, KindDirectory, "dir")
	defer dir.Release()
	ev := mustCreate(t, tr, dir, KindEvent, "ev")

	dir.Queue().Lock()
	pinned := ev.TryAddRef()
	dir.Queue().Unlock()
	if !pinned {
		t.Fatalf("failed to pin a live object")
	}
	ev.Release()

	// Park a release on the parent's lock after it has drained the count;
	// a pin attempt in that window must back out, not revive the object.
	dir.Queue().Lock()
	done := make(chan struct{})
	go func() {
		ev.Release()
		close(done)
	}()
	for ev.RefCount() != 0 {
		runtime.Gosched()
	}
	if ev.TryAddRef() {
		t.Fatalf("pinned an object committed to destruction")
	}
	dir.Queue().Unlock()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("release never completed")
	}
	if _, err := tr.Find(nil, "/dir/ev"); !errors.Is(err, status.ErrNotFound) {
		t.Fatalf("destroyed object still findable: %v", err)
	}
}

func TestFindNestedAndEdgeCases(t *testing.T) {
	tr := newTestTree(t)
	dir := mustCreate(t, tr, nil, KindDirectory, "dir")
	defer dir.Release()
	ev := mustCreate(t, tr, dir, KindEvent, "ev")
	defer ev.Release()

	for _, path := range []string{"/dir/ev", "/dir/ev/", "dir/ev"} {
		found, err := tr.Find(nil, path)
		if err != nil {
			t.Fatalf("find %q: %v", path, err)
		}
		if found != ev {
			t.Fatalf("find %q returned a different object", path)
		}
		found.Release()
	}

	// Relative lookup from a starting directory.
	found, err := tr.Find(dir, "ev")
	if err != nil {
		t.Fatalf("relative find: %v", err)
	}
	found.Release()

	if _, err := tr.Find(nil, "/dir//ev"); !errors.Is(err, status.ErrNotFound) {
		t.Fatalf("empty component: want %v, got %v", status.ErrNotFound, err)
	}
	if _, err := tr.Find(nil, "/missing"); !errors.Is(err, status.ErrNotFound) {
		t.Fatalf("missing name: want %v, got %v", status.ErrNotFound, err)
	}
	if _, err := tr.Find(nil, ""); !errors.Is(err, status.ErrInvalidParameter) {
		t.Fatalf("empty path: want %v, got %v", status.ErrInvalidParameter, err)
	}
}

func TestAnonymousObjectsAreInvisible(t *testing.T) {
	tr := newTestTree(t)
	o, err := tr.Create(nil, KindEvent, "", waitq.NotSignaled, nil)
	if err != nil {
		t.Fatalf("create anonymous: %v", err)
	}
	defer o.Release()

	if _, named := o.Name(); named {
		t.Fatalf("anonymous object reports a name")
	}
	if _, err := tr.Find(nil, "/"); err != nil {
		t.Fatalf("find root: %v", err)
	}
}

func TestFullPath(t *testing.T) {
	tr := newTestTree(t)
	dir := mustCreate(t, tr, nil, KindDirectory, "dir")
	defer dir.Release()
	ev := mustCreate(t, tr, dir, KindEvent, "ev")
	defer ev.Release()

	if p, err := tr.FullPath(nil); err != nil || p != "/" {
		t.Fatalf("root path: want /, got %q (%v)", p, err)
	}
	if p, err := tr.FullPath(ev); err != nil || p != "/dir/ev" {
		t.Fatalf("nested path: want /dir/ev, got %q (%v)", p, err)
	}

	anon, err := tr.Create(nil, KindDirectory, "", waitq.NotSignaled, nil)
	if err != nil {
		t.Fatalf("create anonymous dir: %v", err)
	}
	defer anon.Release()
	child := mustCreate(t, tr, anon, KindEvent, "child")
	defer child.Release()
	if _, err := tr.FullPath(child); !errors.Is(err, status.ErrNotFound) {
		t.Fatalf("path through anonymous ancestor: want %v, got %v", status.ErrNotFound, err)
	}
}

func TestSetName(t *testing.T) {
	tr := newTestTree(t)
	o, err := tr.Create(nil, KindEvent, "", waitq.NotSignaled, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer o.Release()

	if err := tr.SetName(o, "late"); err != nil {
		t.Fatalf("set name: %v", err)
	}
	if err := tr.SetName(o, "other"); !errors.Is(err, status.ErrAlreadyNamed) {
		t.Fatalf("rename: want %v, got %v", status.ErrAlreadyNamed, err)
	}
	found, err := tr.Find(nil, "/late")
	if err != nil {
		t.Fatalf("find after naming: %v", err)
	}
	found.Release()

	if err := tr.SetName(o, "a/b"); !errors.Is(err, status.ErrInvalidParameter) {
		t.Fatalf("separator in name: want %v, got %v", status.ErrInvalidParameter, err)
	}
}

func TestUnlinkHidesObject(t *testing.T) {
	tr := newTestTree(t)
	ev := mustCreate(t, tr, nil, KindEvent, "ev")

	if err := tr.Unlink(ev); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if _, err := tr.Find(nil, "/ev"); !errors.Is(err, status.ErrNotFound) {
		t.Fatalf("find after unlink: want %v, got %v", status.ErrNotFound, err)
	}
	// The object itself is still alive and signalable.
	tr.Signal(ev, waitq.SignalAll)
	if ev.Queue().State() != waitq.Signaled {
		t.Fatalf("unlinked object not signalable")
	}
	ev.Release()

	if err := tr.Unlink(tr.Root()); !errors.Is(err, status.ErrInvalidParameter) {
		t.Fatalf("unlink root: want %v, got %v", status.ErrInvalidParameter, err)
	}
}

func TestDestroyRunsOnceAndCascades(t *testing.T) {
	tr := newTestTree(t)
	var order []string
	dir, err := tr.Create(nil, KindDirectory, "dir", waitq.NotSignaled, func(*Object) {
		order = append(order, "dir")
	})
	if err != nil {
		t.Fatalf("create dir: %v", err)
	}
	child, err := tr.Create(dir, KindEvent, "child", waitq.NotSignaled, func(*Object) {
		order = append(order, "child")
	})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}

	// Dropping the directory's ref keeps it alive: the child still holds one.
	dir.Release()
	if len(order) != 0 {
		t.Fatalf("destroy ran with references outstanding: %v", order)
	}

	// Dropping the child's last ref destroys it, then cascades to the parent.
	child.Release()
	if len(order) != 2 || order[0] != "child" || order[1] != "dir" {
		t.Fatalf("destroy order: want [child dir], got %v", order)
	}

	if _, err := tr.Find(nil, "/dir"); !errors.Is(err, status.ErrNotFound) {
		t.Fatalf("destroyed directory still findable")
	}
}

func TestCreateValidation(t *testing.T) {
	tr := newTestTree(t)
	if _, err := tr.Create(nil, KindInvalid, "x", waitq.NotSignaled, nil); !errors.Is(err, status.ErrInvalidParameter) {
		t.Fatalf("invalid kind: want %v, got %v", status.ErrInvalidParameter, err)
	}
	if _, err := tr.Create(nil, KindEvent, "a/b", waitq.NotSignaled, nil); !errors.Is(err, status.ErrInvalidParameter) {
		t.Fatalf("separator in name: want %v, got %v", status.ErrInvalidParameter, err)
	}
	if _, err := New(Config{}); !errors.Is(err, status.ErrInvalidParameter) {
		t.Fatalf("tree without wheel: want %v, got %v", status.ErrInvalidParameter, err)
	}
}

func TestConcurrentFindAndRelease(t *testing.T) {
	tr := newTestTree(t)
	for i := 0; i < 200; i++ {
		o, err := tr.Create(nil, KindEvent, "racer", waitq.NotSignaled, nil)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		var g errgroup.Group
		g.Go(func() error {
			o.Release()
			return nil
		})
		g.Go(func() error {
			// Either outcome is fine; a successful find must have pinned a
			// live object.
			f, err := tr.Find(nil, "/racer")
			if err == nil {
				if f.Kind() != KindEvent {
					return errors.New("found object corrupted")
				}
				f.Release()
			} else if !errors.Is(err, status.ErrNotFound) {
				return err
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
	}
}
