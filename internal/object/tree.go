package object

import (
	"strings"
	"time"

	"kwait/internal/ktimer"
	"kwait/internal/ktrace"
	"kwait/internal/status"
	"kwait/internal/waitq"
)

// Separator divides components in object paths.
const Separator = '/'

// Config parameterizes a tree.
type Config struct {
	// Wheel drives wait timeouts for the tree's wait wrappers. Required.
	Wheel *ktimer.Wheel
	// Tracer receives lifecycle and signal events. Nil means no tracing.
	Tracer ktrace.Tracer
}

// Tree is an object namespace rooted at a single anonymous directory whose
// full path is "/". The tree holds the root's only baseline reference, so
// the root outlives every object created under it.
type Tree struct {
	root   *Object
	wheel  *ktimer.Wheel
	tracer ktrace.Tracer
}

// New creates an empty tree.
func New(cfg Config) (*Tree, error) {
	if cfg.Wheel == nil {
		return nil, status.ErrInvalidParameter
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = ktrace.Nop()
	}
	root := &Object{kind: KindDirectory, name: "", named: true}
	root.refs.Store(1)
	return &Tree{root: root, wheel: cfg.Wheel, tracer: tracer}, nil
}

// Root returns the root directory. Callers do not own a reference to it and
// must not release one.
func (tr *Tree) Root() *Object {
	return tr.root
}

// Create allocates a new object under parent (the root if parent is nil)
// with one reference owned by the caller. An empty name leaves the object
// anonymous and invisible to Find; names may not contain the separator.
// The destroy hook, if any, runs when the last reference is released, after
// the object has left the tree.
func (tr *Tree) Create(parent *Object, kind Kind, name string, initial waitq.SignalState, destroy func(*Object)) (*Object, error) {
	if !kind.Valid() {
		return nil, status.ErrInvalidParameter
	}
	if strings.ContainsRune(name, Separator) {
		return nil, status.ErrInvalidParameter
	}
	p := parent
	if p == nil {
		p = tr.root
	}

	o := &Object{kind: kind, parent: p}
	o.refs.Store(1)
	o.queue.Init(initial)
	if name != "" {
		o.name = name
		o.named = true
	}
	if tr.tracer.Enabled(ktrace.LevelLifecycle) {
		tracer := tr.tracer
		o.destroy = func(obj *Object) {
			tracer.Emit(ktrace.Event{
				Time:   time.Now(),
				Kind:   ktrace.KindDestroy,
				Object: obj.name,
				Detail: obj.kind.String(),
			})
			if destroy != nil {
				destroy(obj)
			}
		}
	} else {
		o.destroy = destroy
	}

	// The child holds a reference on its parent for as long as it lives.
	p.AddRef()
	p.queue.Lock()
	p.children = append(p.children, o)
	p.queue.Unlock()

	if tr.tracer.Enabled(ktrace.LevelLifecycle) {
		tr.tracer.Emit(ktrace.Event{
			Time:   time.Now(),
			Kind:   ktrace.KindCreate,
			Object: name,
			Detail: kind.String(),
		})
	}
	return o, nil
}

// Unlink removes the object's name, making it unreachable by Find. The
// object itself lives on until its references drain. Unlinking an anonymous
// object is a no-op; the root cannot be unlinked.
func (tr *Tree) Unlink(o *Object) error {
	if o == tr.root {
		return status.ErrInvalidParameter
	}
	p := o.parent
	p.queue.Lock()
	o.name = ""
	o.named = false
	p.queue.Unlock()
	return nil
}

// SetName names a previously anonymous object, making it visible to Find.
// Returns status.ErrAlreadyNamed if the object already has a name, and
// status.ErrTooLate if a concurrent namer got there first.
func (tr *Tree) SetName(o *Object, name string) error {
	if name == "" || strings.ContainsRune(name, Separator) {
		return status.ErrInvalidParameter
	}
	if o == tr.root {
		return status.ErrInvalidParameter
	}
	if o.named {
		return status.ErrAlreadyNamed
	}
	p := o.parent
	p.queue.Lock()
	defer p.queue.Unlock()
	if o.named {
		return status.ErrTooLate
	}
	o.name = name
	o.named = true
	return nil
}

// Find walks a path from start (the root if start is nil; always the root
// for absolute paths) and returns the named object with a reference the
// caller owns. A trailing separator is tolerated; empty components and
// anonymous objects never match. The walk pins each matched child before
// letting go of the previous level, so a concurrent release of anything on
// the path cannot free an object out from under it.
func (tr *Tree) Find(start *Object, path string) (*Object, error) {
	if path == "" {
		return nil, status.ErrInvalidParameter
	}
	cur := start
	if path[0] == Separator {
		cur = tr.root
		path = path[1:]
	}
	if cur == nil {
		cur = tr.root
	}
	cur.AddRef()

	for path != "" {
		comp := path
		if i := strings.IndexByte(path, Separator); i >= 0 {
			comp, path = path[:i], path[i+1:]
		} else {
			path = ""
		}
		if comp == "" {
			if path == "" {
				break
			}
			cur.Release()
			return nil, status.ErrNotFound
		}

		cur.queue.Lock()
		var next *Object
		for _, c := range cur.children {
			if !c.named || c.name != comp {
				continue
			}
			// Speculative pin under the parent's lock. A child whose count
			// already drained is mid-destruction; treat the name as gone.
			if c.TryAddRef() {
				next = c
			}
			break
		}
		cur.queue.Unlock()
		cur.Release()
		if next == nil {
			return nil, status.ErrNotFound
		}
		cur = next
	}
	return cur, nil
}

// FullPath returns the absolute path of an object, "/" for the root. It
// fails with status.ErrNotFound if any object between o and the root is
// anonymous, since no path reaches through an unnamed component.
func (tr *Tree) FullPath(o *Object) (string, error) {
	if o == nil || o == tr.root {
		return string(Separator), nil
	}
	var parts []string
	for cur := o; cur != tr.root; {
		p := cur.parent
		if p == nil {
			panic("object: detached object in path walk")
		}
		p.queue.Lock()
		name, named := cur.name, cur.named
		p.queue.Unlock()
		if !named || name == "" {
			return "", status.ErrNotFound
		}
		parts = append(parts, name)
		cur = p
	}

	var sb strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		sb.WriteByte(Separator)
		sb.WriteString(parts[i])
	}
	return sb.String(), nil
}
