package scenario

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kwait/internal/ktimer"
	"kwait/internal/ktrace"
	"kwait/internal/object"
	"kwait/internal/sched"
	"kwait/internal/status"
	"kwait/internal/waitq"
)

// Options configures a run.
type Options struct {
	// TraceWriter receives trace output when the scenario enables tracing.
	// Nil routes events to an in-memory ring instead.
	TraceWriter io.Writer
}

// OpResult records one executed step.
type OpResult struct {
	Op      string
	Object  string
	Outcome string // ok, timeout, interrupted, not-found, already-named, too-late, invalid
	Detail  string
	Want    string // expected outcome, empty when the script did not care
}

// Mismatch reports whether the step's outcome differed from what the script
// expected.
func (r OpResult) Mismatch() bool {
	return r.Want != "" && r.Want != r.Outcome
}

// ThreadReport is the executed script of one thread.
type ThreadReport struct {
	Name string
	Ops  []OpResult
}

// Report is the result of a whole run.
type Report struct {
	Name    string
	Threads []ThreadReport
	Trace   []ktrace.Event // populated when tracing went to the ring
}

// Mismatches returns human-readable lines for every step whose outcome did
// not match the script's expectation.
func (rep *Report) Mismatches() []string {
	var out []string
	for _, th := range rep.Threads {
		for i, op := range th.Ops {
			if op.Mismatch() {
				out = append(out, fmt.Sprintf("thread %q op %d (%s %s): want %s, got %s",
					th.Name, i+1, op.Op, op.Object, op.Want, op.Outcome))
			}
		}
	}
	return out
}

type runner struct {
	tree   *object.Tree
	sched  *sched.Scheduler
	tracer ktrace.Tracer

	mu      sync.Mutex
	objects map[string]*object.Object // refs owned by the runner
	threads map[string]*sched.Thread
}

// Run executes the scenario and returns its report. The returned error covers
// setup and script-integrity failures only; expectation mismatches are in the
// report, not the error.
func Run(cfg *Config, opts Options) (*Report, error) {
	if len(cfg.Threads) == 0 {
		return nil, fmt.Errorf("scenario has no threads")
	}
	wheel := ktimer.NewWheel()
	defer wheel.Close()

	var tracer ktrace.Tracer = ktrace.Nop()
	var ring *ktrace.RingTracer
	switch cfg.Scenario.Trace {
	case "", "off":
	case "lifecycle":
		tracer = traceSink(opts, ktrace.LevelLifecycle, &ring)
	case "all":
		tracer = traceSink(opts, ktrace.LevelAll, &ring)
	default:
		return nil, fmt.Errorf("unknown trace level %q", cfg.Scenario.Trace)
	}

	tree, err := object.New(object.Config{Wheel: wheel, Tracer: tracer})
	if err != nil {
		return nil, fmt.Errorf("create tree: %w", err)
	}

	r := &runner{
		tree:    tree,
		sched:   sched.New(),
		tracer:  tracer,
		objects: make(map[string]*object.Object),
		threads: make(map[string]*sched.Thread),
	}
	defer r.releaseAll()

	for _, oc := range cfg.Objects {
		if err := r.createObject(oc.Path, oc.Kind, oc.State); err != nil {
			return nil, fmt.Errorf("create object %q: %w", oc.Path, err)
		}
	}

	// Every thread registers itself before any script runs, so interrupt
	// targets are always resolvable.
	var registered sync.WaitGroup
	registered.Add(len(cfg.Threads))
	start := make(chan struct{})

	reports := make([]ThreadReport, len(cfg.Threads))
	var g errgroup.Group
	for i, tc := range cfg.Threads {
		i, tc := i, tc
		g.Go(func() error {
			t := r.sched.Adopt(tc.Name)
			defer t.Exit()
			r.mu.Lock()
			r.threads[tc.Name] = t
			r.mu.Unlock()
			registered.Done()
			<-start

			ops := make([]OpResult, 0, len(tc.Ops))
			for _, op := range tc.Ops {
				res, err := r.execOp(t, op)
				if err != nil {
					return fmt.Errorf("thread %q op %s: %w", tc.Name, op.Op, err)
				}
				ops = append(ops, res)
			}
			reports[i] = ThreadReport{Name: tc.Name, Ops: ops}
			return nil
		})
	}
	registered.Wait()
	close(start)
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep := &Report{Name: cfg.Scenario.Name, Threads: reports}
	if ring != nil {
		rep.Trace = ring.Snapshot()
	}
	return rep, nil
}

func traceSink(opts Options, level ktrace.Level, ring **ktrace.RingTracer) ktrace.Tracer {
	if opts.TraceWriter != nil {
		return ktrace.NewStream(opts.TraceWriter, level)
	}
	*ring = ktrace.NewRing(4096, level)
	return *ring
}

// Declare creates the scenario's declared objects in an existing tree
// without running any thread scripts. The returned release function drops
// the references Declare took. Tree inspection tools use this to set up a
// scenario's namespace without executing it.
func Declare(tr *object.Tree, cfg *Config) (func(), error) {
	r := &runner{tree: tr, tracer: ktrace.Nop(), objects: make(map[string]*object.Object)}
	for _, oc := range cfg.Objects {
		if err := r.createObject(oc.Path, oc.Kind, oc.State); err != nil {
			r.releaseAll()
			return nil, fmt.Errorf("create object %q: %w", oc.Path, err)
		}
	}
	return r.releaseAll, nil
}

// createObject makes the object at path, creating missing intermediate
// components as directories. The runner owns the returned references until
// the run ends or a release op drops them.
func (r *runner) createObject(path, kindName, stateName string) error {
	kind, err := parseKind(kindName)
	if err != nil {
		return err
	}
	state, err := parseState(stateName)
	if err != nil {
		return err
	}

	parent := r.tree.Root()
	rest := path
	for {
		i := strings.IndexByte(rest, object.Separator)
		if i < 0 {
			break
		}
		dir := rest[:i]
		rest = rest[i+1:]
		prefix := path[:len(path)-len(rest)-1]
		r.mu.Lock()
		existing := r.objects[prefix]
		r.mu.Unlock()
		if existing == nil {
			created, cerr := r.tree.Create(parent, object.KindDirectory, dir, waitq.NotSignaled, nil)
			if cerr != nil {
				return cerr
			}
			r.mu.Lock()
			// Another thread may have registered this intermediate while the
			// lock was dropped; keep the winner's directory and drop ours.
			if winner := r.objects[prefix]; winner != nil {
				existing = winner
				r.mu.Unlock()
				created.Release()
			} else {
				r.objects[prefix] = created
				existing = created
				r.mu.Unlock()
			}
		}
		parent = existing
	}
	if rest == "" {
		return fmt.Errorf("path %q ends in a separator", path)
	}

	o, err := r.tree.Create(parent, kind, rest, state, nil)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.objects[path] != nil {
		o.Release()
		return fmt.Errorf("duplicate object %q", path)
	}
	r.objects[path] = o
	return nil
}

// resolve returns the object registered or findable at path. pinned tells
// the caller whether it owns an extra reference to release.
func (r *runner) resolve(path string) (o *object.Object, pinned bool, err error) {
	r.mu.Lock()
	o = r.objects[path]
	r.mu.Unlock()
	if o != nil {
		return o, false, nil
	}
	o, err = r.tree.Find(nil, "/"+path)
	if err != nil {
		return nil, false, err
	}
	return o, true, nil
}

func (r *runner) execOp(t *sched.Thread, op OpConfig) (OpResult, error) {
	res := OpResult{Op: op.Op, Object: op.Object, Want: op.Want}
	if res.Object == "" && len(op.Objects) > 0 {
		res.Object = op.Objects[0]
	}

	switch op.Op {
	case OpWait, OpWaitAll:
		return r.execWait(t, op, res)

	case OpSignal, OpSignalOne, OpPulse, OpUnsignal:
		o, pinned, err := r.resolve(op.Object)
		if err != nil {
			res.Outcome = outcomeOf(err)
			return res, nil
		}
		r.tree.Signal(o, signalOption(op.Op))
		if pinned {
			o.Release()
		}
		res.Outcome = "ok"
		return res, nil

	case OpSleep:
		d, err := time.ParseDuration(op.Duration)
		if err != nil {
			return res, err
		}
		time.Sleep(d)
		res.Outcome = "ok"
		return res, nil

	case OpInterrupt:
		r.mu.Lock()
		target := r.threads[op.Target]
		r.mu.Unlock()
		if target == nil {
			return res, fmt.Errorf("unknown target %q", op.Target)
		}
		woken := waitq.WakeBlockedOrSuspended(target, false)
		res.Object = op.Target
		res.Outcome = "ok"
		res.Detail = fmt.Sprintf("woken=%v", woken)
		r.trace(ktrace.KindInterrupt, t.Name(), op.Target, res.Detail)
		if woken {
			r.trace(ktrace.KindWake, op.Target, "", "interrupted")
		}
		return res, nil

	case OpCreate:
		err := r.createObject(op.Object, op.Kind, op.State)
		res.Outcome = outcomeOf(err)
		return res, nil

	case OpFind:
		o, err := r.tree.Find(nil, "/"+op.Object)
		if err == nil {
			o.Release()
		}
		res.Outcome = outcomeOf(err)
		return res, nil

	case OpRelease:
		r.mu.Lock()
		o := r.objects[op.Object]
		delete(r.objects, op.Object)
		r.mu.Unlock()
		if o == nil {
			res.Outcome = "not-found"
			return res, nil
		}
		o.Release()
		res.Outcome = "ok"
		return res, nil

	case OpUnlink:
		o, pinned, err := r.resolve(op.Object)
		if err != nil {
			res.Outcome = outcomeOf(err)
			return res, nil
		}
		err = r.tree.Unlink(o)
		if pinned {
			o.Release()
		}
		res.Outcome = outcomeOf(err)
		return res, nil

	case OpName:
		o, pinned, err := r.resolve(op.Object)
		if err != nil {
			res.Outcome = outcomeOf(err)
			return res, nil
		}
		err = r.tree.SetName(o, op.NewName)
		if pinned {
			o.Release()
		}
		res.Outcome = outcomeOf(err)
		return res, nil
	}
	return res, fmt.Errorf("unknown op %q", op.Op)
}

func (r *runner) trace(kind ktrace.Kind, thread, obj, detail string) {
	if !r.tracer.Enabled(ktrace.LevelAll) {
		return
	}
	r.tracer.Emit(ktrace.Event{
		Time:   time.Now(),
		Kind:   kind,
		Thread: thread,
		Object: obj,
		Detail: detail,
	})
}

func (r *runner) execWait(t *sched.Thread, op OpConfig, res OpResult) (OpResult, error) {
	timeout, err := parseTimeout(op.Timeout)
	if err != nil {
		return res, err
	}
	var flags waitq.Flags
	if op.Op == OpWaitAll {
		flags |= waitq.WaitAll
	}
	if op.Interruptible {
		flags |= waitq.WaitInterruptible
	}

	paths := op.Objects
	if op.Object != "" {
		paths = []string{op.Object}
	}
	targets := make([]*object.Object, 0, len(paths))
	var pins []*object.Object
	for _, p := range paths {
		o, pinned, rerr := r.resolve(p)
		if rerr != nil {
			for _, pin := range pins {
				pin.Release()
			}
			res.Outcome = outcomeOf(rerr)
			return res, nil
		}
		targets = append(targets, o)
		if pinned {
			pins = append(pins, o)
		}
	}

	r.trace(ktrace.KindWaitBegin, t.Name(), strings.Join(paths, ","), op.Op)
	if len(targets) == 1 && flags&waitq.WaitAll == 0 {
		err = r.tree.WaitOnQueue(t, targets[0].Queue(), flags, timeout)
	} else {
		var sat *object.Object
		sat, err = r.tree.WaitOnObjects(t, targets, flags, timeout, nil)
		if err == nil && sat != nil {
			for i, o := range targets {
				if o == sat {
					res.Detail = fmt.Sprintf("satisfied-by=%s", paths[i])
				}
			}
		}
	}
	for _, pin := range pins {
		pin.Release()
	}
	res.Outcome = outcomeOf(err)
	r.trace(ktrace.KindWaitEnd, t.Name(), strings.Join(paths, ","), res.Outcome)
	return res, nil
}

func signalOption(op string) waitq.SignalOption {
	switch op {
	case OpSignalOne:
		return waitq.SignalOne
	case OpPulse:
		return waitq.Pulse
	case OpUnsignal:
		return waitq.Unsignal
	default:
		return waitq.SignalAll
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, status.ErrTimeout):
		return "timeout"
	case errors.Is(err, status.ErrInterrupted):
		return "interrupted"
	case errors.Is(err, status.ErrNotFound):
		return "not-found"
	case errors.Is(err, status.ErrAlreadyNamed):
		return "already-named"
	case errors.Is(err, status.ErrTooLate):
		return "too-late"
	case errors.Is(err, status.ErrInvalidParameter):
		return "invalid"
	default:
		return "error: " + err.Error()
	}
}

func (r *runner) releaseAll() {
	r.mu.Lock()
	objs := make([]*object.Object, 0, len(r.objects))
	for _, o := range r.objects {
		objs = append(objs, o)
	}
	r.objects = make(map[string]*object.Object)
	r.mu.Unlock()
	// Children hold references on parents, so release order does not matter.
	for _, o := range objs {
		o.Release()
	}
}
