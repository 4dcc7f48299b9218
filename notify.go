package sdb

// Kind identifies the shape of one UpdateInfo notification (§6).
type Kind byte

const (
	ObjectCreated Kind = iota
	ValueChanged
	RelationAdded
	RelationMoved
	RelationErased
	Aggregated
	Deaggregated
	AggregateMoved
	ElementAdded
	ElementChanged
	ElementErased
	ElementMoved
	ObjectErased
	StreamChanged
	QueueAdded
	QueueChanged
	QueueErased
	DbClosing
)

// Side discriminates which endpoint of a relation a notification refers
// to, where applicable.
type Side byte

const (
	SideNone Side = iota
	SideSource
	SideTarget
)

// Where captures position semantics (first/last/before/none), where
// applicable.
type Where byte

const (
	WhereNone Where = iota
	WhereFirst
	WhereLast
	WhereBefore
)

// UpdateInfo is the single notification shape emitted for every graph
// mutation (§6). Which fields are meaningful depends on Kind; see the
// table in spec.md §6.
type UpdateInfo struct {
	Kind  Kind
	Where Where
	Side  Side
	Name  uint32 // atom: field name or type name, depending on Kind
	ID    uint64
	ID2   uint64
}

// Observer receives committed notifications in append order. A panic
// or error from one Observer must never prevent delivery to the rest,
// nor abort the transaction that produced the notification (§4.6).
type Observer interface {
	Notify(UpdateInfo)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(UpdateInfo)

func (f ObserverFunc) Notify(u UpdateInfo) { f(u) }
