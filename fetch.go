package feedsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
)

type FetchPageResult[R Record] struct {
	Items   []R
	HasMore bool
	// advisory. the controller advances the offset by the number of
	// items actually returned, which tolerates short pages.
	NextOffset int
}

// the external bulk data service. must honor ctx cancellation and
// must return an error on transport failure, never an empty success.
type FetchService[R Record] interface {
	FetchPage(ctx context.Context, query FeedQuery, offset int, limit int) (*FetchPageResult[R], error)
}

type FetchServiceFunc[R Record] func(ctx context.Context, query FeedQuery, offset int, limit int) (*FetchPageResult[R], error)

func (self FetchServiceFunc[R]) FetchPage(ctx context.Context, query FeedQuery, offset int, limit int) (*FetchPageResult[R], error) {
	return self(ctx, query, offset, limit)
}

type FetchControllerSettings struct {
	// 0 disables the per-fetch deadline
	FetchTimeout time.Duration
}

func DefaultFetchControllerSettings() *FetchControllerSettings {
	return &FetchControllerSettings{
		FetchTimeout: 15 * time.Second,
	}
}

// issues and cancels bulk fetches and owns the page window.
//
// every adopted query mints a fetch epoch. at most one epoch is
// active. a response tagged with a non-active epoch is discarded
// unconditionally before any state is touched, even if it would
// otherwise be valid. cancellation is advisory to the transport but
// mandatory here.
type FetchController[R Record] struct {
	ctx        context.Context
	service    FetchService[R]
	collection *Collection[R]
	settings   *FetchControllerSettings

	stateLock sync.Mutex

	hasQuery    bool
	query       FeedQuery
	epochId     Id
	epochCtx    context.Context
	epochCancel context.CancelFunc
	offset      int
	hasMore     bool
	inFlight    bool
}

func NewFetchControllerWithDefaults[R Record](
	ctx context.Context,
	service FetchService[R],
	collection *Collection[R],
) *FetchController[R] {
	return NewFetchController(ctx, service, collection, DefaultFetchControllerSettings())
}

func NewFetchController[R Record](
	ctx context.Context,
	service FetchService[R],
	collection *Collection[R],
	settings *FetchControllerSettings,
) *FetchController[R] {
	return &FetchController[R]{
		ctx:        ctx,
		service:    service,
		collection: collection,
		settings:   settings,
	}
}

// adopts a query in a new fetch epoch. the previous in-flight fetch,
// initial or load-more, is cancelled; its response will be dropped by
// the epoch check if it arrives anyway. the page window resets to
// offset 0 and the first page replaces the collection wholesale.
func (self *FetchController[R]) SetQuery(query FeedQuery) {
	self.stateLock.Lock()

	if self.epochCancel != nil {
		self.epochCancel()
	}
	epochCtx, epochCancel := context.WithCancel(self.ctx)
	epochId := NewId()

	self.hasQuery = true
	self.query = query
	self.epochId = epochId
	self.epochCtx = epochCtx
	self.epochCancel = epochCancel
	self.offset = 0
	self.hasMore = false
	self.inFlight = true

	self.collection.setLoadingInitial(true)
	self.stateLock.Unlock()

	self.collection.changed()
	glog.V(2).Infof("[fetch]epoch %s adopt %s\n", epochId, query.CanonicalKey())

	go self.runFetch(epochCtx, epochId, query, 0, true)
}

// re-fetches the current query in a new epoch
func (self *FetchController[R]) Refresh() bool {
	self.stateLock.Lock()
	hasQuery := self.hasQuery
	query := self.query
	self.stateLock.Unlock()

	if !hasQuery {
		return false
	}
	self.SetQuery(query)
	return true
}

// no-op unless there is more to load and nothing is in flight.
// guarding on in-flight also keeps load-more results applied in
// request order without sequence numbers.
func (self *FetchController[R]) LoadMore() bool {
	self.stateLock.Lock()
	if !self.hasQuery || !self.hasMore || self.inFlight {
		self.stateLock.Unlock()
		return false
	}
	self.inFlight = true
	epochCtx := self.epochCtx
	epochId := self.epochId
	query := self.query
	offset := self.offset
	self.collection.setLoadingMore(true)
	self.stateLock.Unlock()

	self.collection.changed()

	go self.runFetch(epochCtx, epochId, query, offset, false)
	return true
}

func (self *FetchController[R]) CurrentQuery() (FeedQuery, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.query, self.hasQuery
}

func (self *FetchController[R]) InFlight() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.inFlight
}

// cancels the in-flight fetch, if any. the controller can still adopt
// queries afterwards; feed teardown cancels the owner ctx instead.
func (self *FetchController[R]) Cancel() {
	self.stateLock.Lock()
	if self.epochCancel != nil {
		self.epochCancel()
	}
	self.stateLock.Unlock()
}

func (self *FetchController[R]) runFetch(
	epochCtx context.Context,
	epochId Id,
	query FeedQuery,
	offset int,
	initial bool,
) {
	fetchCtx := epochCtx
	if 0 < self.settings.FetchTimeout {
		var fetchCancel context.CancelFunc
		fetchCtx, fetchCancel = context.WithTimeout(epochCtx, self.settings.FetchTimeout)
		defer fetchCancel()
	}

	result, err := self.service.FetchPage(fetchCtx, query, offset, query.PageSize)

	self.stateLock.Lock()
	if self.epochId != epochId {
		self.stateLock.Unlock()
		glog.V(2).Infof("[fetch]epoch %s stale, response dropped\n", epochId)
		return
	}
	self.inFlight = false

	if err == nil && epochCtx.Err() != nil {
		// the epoch was cancelled while the response was in flight.
		// cancellation is advisory to the transport but mandatory here.
		if initial {
			self.collection.setLoadingInitial(false)
		} else {
			self.collection.setLoadingMore(false)
		}
		self.stateLock.Unlock()
		self.collection.changed()
		glog.V(2).Infof("[fetch]epoch %s cancelled, response dropped\n", epochId)
		return
	}

	if err != nil {
		if initial {
			self.collection.setLoadingInitial(false)
		} else {
			self.collection.setLoadingMore(false)
		}
		if !errors.Is(err, context.Canceled) {
			// existing items are left untouched on failure
			self.collection.setLastError(err)
			glog.Infof("[fetch]epoch %s error = %s\n", epochId, err)
		}
		// a cancelled fetch is a no-op, never surfaced as an error
		self.stateLock.Unlock()
		self.collection.changed()
		return
	}

	self.offset = offset + len(result.Items)
	self.hasMore = result.HasMore
	if initial {
		self.collection.replaceAll(result.Items, result.HasMore)
		self.collection.setLoadingInitial(false)
	} else {
		self.collection.appendPage(result.Items, result.HasMore)
		self.collection.setLoadingMore(false)
	}
	self.stateLock.Unlock()

	self.collection.changed()
	glog.V(2).Infof("[fetch]epoch %s +%d items offset %d hasMore %t\n", epochId, len(result.Items), offset, result.HasMore)
}
