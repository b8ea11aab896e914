package feedsync

import (
	"github.com/golang/glog"
)

// folds push events into the collection using the relevance predicate
// against the currently adopted query.
//
// reconciliation never consults the page window. events are live
// corrections to the current page, not a next page, and they are
// applied in arrival order with no batching: reordering an
// insert/update/delete triple could violate the presence invariant.
type Reconciler[R Record] struct {
	collection *Collection[R]
	relevance  RelevanceFunction[R]
	// the currently adopted query, false before the first adoption
	currentQuery func() (FeedQuery, bool)
}

func NewReconciler[R Record](
	collection *Collection[R],
	relevance RelevanceFunction[R],
	currentQuery func() (FeedQuery, bool),
) *Reconciler[R] {
	return &Reconciler[R]{
		collection:   collection,
		relevance:    relevance,
		currentQuery: currentQuery,
	}
}

// applies one event. a panic out of the relevance predicate abandons
// this event only, so one malformed record cannot halt reconciliation
// for the events behind it.
func (self *Reconciler[R]) Apply(event ChangeEvent[R]) {
	defer func() {
		if r := recover(); r != nil {
			glog.Infof("[reconcile]event %s dropped, relevance panic = %v\n", event.Operation, r)
		}
	}()

	switch event.Operation {
	case ChangeOperationInsert:
		if event.NewRecord == nil {
			return
		}
		record := *event.NewRecord
		if !self.relevant(record) {
			return
		}
		// duplicate delivery overwrites in place. idempotent.
		self.collection.upsert(record)
		self.collection.changed()

	case ChangeOperationUpdate:
		if event.NewRecord == nil {
			return
		}
		record := *event.NewRecord
		id := record.RecordId()
		isRelevant := self.relevant(record)
		_, present := self.collection.Get(id)
		switch {
		case isRelevant && !present:
			// moved into the window
			self.collection.upsert(record)
			self.collection.changed()
		case isRelevant && present:
			// replace in place, position preserved
			self.collection.replaceIfPresent(id, record)
			self.collection.changed()
		case !isRelevant && present:
			// moved out of the window
			self.collection.remove(id)
			self.collection.changed()
		}

	case ChangeOperationDelete:
		// a record leaving the backend leaves the view, relevant or not
		record := event.OldRecord
		if record == nil {
			record = event.NewRecord
		}
		if record == nil {
			return
		}
		if self.collection.remove((*record).RecordId()) {
			self.collection.changed()
		}

	default:
		glog.Infof("[reconcile]unknown operation %s\n", event.Operation)
	}
}

func (self *Reconciler[R]) relevant(record R) bool {
	query, ok := self.currentQuery()
	if !ok {
		// nothing is displayed before the first query
		return false
	}
	return self.relevance(record, query)
}
