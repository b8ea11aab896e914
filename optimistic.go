package feedsync

import (
	"fmt"
	"sync"

	"github.com/golang/glog"
)

// a local state change applied before the platform confirms it.
// the previous value is captured at apply time, never at failure time,
// so a revert cannot clobber an intervening reconciliation update.
type OptimisticMutation[R Record] struct {
	coordinator *MutationCoordinator[R]
	itemId      Id

	previousValue R

	stateLock sync.Mutex
	settled   bool
}

func (self *OptimisticMutation[R]) ItemId() Id {
	return self.itemId
}

// keeps the optimistic value as final. no refetch is forced.
func (self *OptimisticMutation[R]) Confirm() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.settled = true
}

// restores the value captured at apply time for this item only.
// if reconciliation removed the item in the meantime, the revert is a
// no-op rather than re-inserting a deleted record. the error stays
// with this mutation; the rest of the collection is unaffected.
func (self *OptimisticMutation[R]) Revert(err error) {
	self.stateLock.Lock()
	if self.settled {
		self.stateLock.Unlock()
		return
	}
	self.settled = true
	self.stateLock.Unlock()

	reverted := self.coordinator.collection.replaceIfPresent(self.itemId, self.previousValue)
	if reverted {
		self.coordinator.collection.changed()
	}
	glog.V(2).Infof("[optimistic]%s revert (present %t) = %s\n", self.itemId, reverted, err)
}

// applies local-only changes immediately and reconciles them with the
// eventual platform confirmation or failure.
type MutationCoordinator[R Record] struct {
	collection *Collection[R]
}

func NewMutationCoordinator[R Record](collection *Collection[R]) *MutationCoordinator[R] {
	return &MutationCoordinator[R]{
		collection: collection,
	}
}

// synchronously writes `mutation(current)` into the collection and
// returns a handle. the caller performs the real backend operation and
// then settles the handle with `Confirm` or `Revert`.
func (self *MutationCoordinator[R]) Apply(itemId Id, mutation func(R) R) (*OptimisticMutation[R], error) {
	previous, ok := self.collection.update(itemId, mutation)
	if !ok {
		return nil, fmt.Errorf("item %s not in collection", itemId)
	}
	self.collection.changed()

	return &OptimisticMutation[R]{
		coordinator:   self,
		itemId:        itemId,
		previousValue: previous,
	}, nil
}
