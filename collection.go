package feedsync

import (
	"sync"

	"golang.org/x/exp/slices"
)

type CollectionChangeFunction = func()

// what the rendering layer reads
type CollectionSnapshot[R Record] struct {
	Items            []R
	IsLoadingInitial bool
	IsLoadingMore    bool
	HasMore          bool
	LastError        error
}

// the single source of truth for one view.
//
// ordered sequence of records keyed by id. insertion order is
// preserved for display. no two records share an id; the last writer
// wins across fetch results and reconciled events.
//
// collections have exactly one writer context, the owning feed.
// all mutation goes through the fetch controller, the reconciler, or
// the mutation coordinator. those components notify change callbacks
// after all locks are released; a callback may read a snapshot or
// invoke feed operations.
type Collection[R Record] struct {
	stateLock sync.Mutex

	orderedIds []Id
	records    map[Id]R

	isLoadingInitial bool
	isLoadingMore    bool
	hasMore          bool
	lastError        error

	changeCallbacks *CallbackList[CollectionChangeFunction]
}

func NewCollection[R Record]() *Collection[R] {
	return &Collection[R]{
		orderedIds:      []Id{},
		records:         map[Id]R{},
		changeCallbacks: NewCallbackList[CollectionChangeFunction](),
	}
}

func (self *Collection[R]) AddChangeCallback(changeCallback CollectionChangeFunction) func() {
	callbackId := self.changeCallbacks.Add(changeCallback)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

func (self *Collection[R]) changed() {
	for _, changeCallback := range self.changeCallbacks.Get() {
		changeCallback()
	}
}

func (self *Collection[R]) Snapshot() *CollectionSnapshot[R] {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	items := make([]R, 0, len(self.orderedIds))
	for _, id := range self.orderedIds {
		items = append(items, self.records[id])
	}
	return &CollectionSnapshot[R]{
		Items:            items,
		IsLoadingInitial: self.isLoadingInitial,
		IsLoadingMore:    self.isLoadingMore,
		HasMore:          self.hasMore,
		LastError:        self.lastError,
	}
}

func (self *Collection[R]) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.orderedIds)
}

func (self *Collection[R]) Get(id Id) (R, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	record, ok := self.records[id]
	return record, ok
}

// wholesale replacement with a new first page
func (self *Collection[R]) replaceAll(records []R, hasMore bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.orderedIds = self.orderedIds[:0]
	clear(self.records)
	for _, record := range records {
		id := record.RecordId()
		if _, ok := self.records[id]; !ok {
			self.orderedIds = append(self.orderedIds, id)
		}
		self.records[id] = record
	}
	self.hasMore = hasMore
	self.lastError = nil
}

// appends a loaded page, last writer wins on duplicate ids
func (self *Collection[R]) appendPage(records []R, hasMore bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for _, record := range records {
		id := record.RecordId()
		if _, ok := self.records[id]; !ok {
			self.orderedIds = append(self.orderedIds, id)
		}
		self.records[id] = record
	}
	self.hasMore = hasMore
}

// inserts at the end when absent, overwrites in place when present
func (self *Collection[R]) upsert(record R) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	id := record.RecordId()
	if _, ok := self.records[id]; !ok {
		self.orderedIds = append(self.orderedIds, id)
	}
	self.records[id] = record
}

// overwrites only when present, preserving position
func (self *Collection[R]) replaceIfPresent(id Id, record R) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	_, ok := self.records[id]
	if ok {
		self.records[id] = record
	}
	return ok
}

func (self *Collection[R]) remove(id Id) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	_, ok := self.records[id]
	if !ok {
		return false
	}
	delete(self.records, id)
	if i := slices.Index(self.orderedIds, id); 0 <= i {
		self.orderedIds = slices.Delete(self.orderedIds, i, i+1)
	}
	return true
}

// atomically reads the current value and writes the mutated one.
// the returned previous value is the revert target for optimistic
// mutations, captured at this moment and never later.
func (self *Collection[R]) update(id Id, mutation func(R) R) (previous R, ok bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	previous, ok = self.records[id]
	if ok {
		self.records[id] = mutation(previous)
	}
	return previous, ok
}

func (self *Collection[R]) setLoadingInitial(isLoadingInitial bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.isLoadingInitial = isLoadingInitial
}

func (self *Collection[R]) setLoadingMore(isLoadingMore bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.isLoadingMore = isLoadingMore
}

func (self *Collection[R]) setLastError(lastError error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.lastError = lastError
}
