// internal/mirror/document.go
package mirror

// EventType names a structural change notification.
type EventType string

const (
	// EventNodeInserted fires after a pushed insertion is applied.
	EventNodeInserted EventType = "DOMNodeInserted"
	// EventNodeRemoved fires after a pushed removal is applied.
	EventNodeRemoved EventType = "DOMNodeRemoved"
)

// Event is passed to listeners. For insertions and removals Target is the
// inserted or removed node and RelatedNode is its parent.
type Event struct {
	Type        EventType
	Target      *Node
	RelatedNode *Node
}

// ListenerFunc handles a dispatched event.
type ListenerFunc func(Event)

// ListenerID identifies one registration. Registering the same function twice
// yields two ids and two invocations per dispatch.
type ListenerID uint64

type listener struct {
	id ListenerID
	fn ListenerFunc
}

// Document is the mirrored document root. It embeds the root Node and adds a
// listener registry for structural events.
type Document struct {
	Node

	documentElement *Node
	body            *Node

	listeners map[EventType][]listener
	nextID    ListenerID
}

// NewDocument builds a document and its eagerly included subtree.
func NewDocument(m Mutator, p *NodePayload) *Document {
	d := &Document{listeners: make(map[EventType][]listener)}
	d.Node.init(d, m, p)
	return d
}

// Root returns the document as a plain node, the way it is stored in an id table.
func (d *Document) Root() *Node { return &d.Node }

// DocumentElement returns the first top-level HTML element seen, if any.
func (d *Document) DocumentElement() *Node { return d.documentElement }

// Body returns the first top-level BODY element seen, if any.
func (d *Document) Body() *Node { return d.body }

// AddEventListener appends fn to the listeners for t.
func (d *Document) AddEventListener(t EventType, fn ListenerFunc) ListenerID {
	d.nextID++
	id := d.nextID
	d.listeners[t] = append(d.listeners[t], listener{id: id, fn: fn})
	return id
}

// RemoveEventListener removes one registration. It reports whether the id was
// registered for t.
func (d *Document) RemoveEventListener(t EventType, id ListenerID) bool {
	ls := d.listeners[t]
	for i, l := range ls {
		if l.id == id {
			d.listeners[t] = append(ls[:i:i], ls[i+1:]...)
			return true
		}
	}
	return false
}

// ListenerCount returns the number of registrations for t.
func (d *Document) ListenerCount(t EventType) int {
	return len(d.listeners[t])
}

// Dispatch calls every listener registered for ev.Type, in registration order.
// The listener set is fixed when dispatch starts.
func (d *Document) Dispatch(ev Event) {
	ls := d.listeners[ev.Type]
	if len(ls) == 0 {
		return
	}
	snapshot := make([]listener, len(ls))
	copy(snapshot, ls)
	for _, l := range snapshot {
		l.fn(ev)
	}
}
