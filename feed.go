package feedsync

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

type SubscriptionErrorFunction = func(err error)

type FeedSettings struct {
	// 0 disables the per-fetch deadline
	FetchTimeout time.Duration
}

func DefaultFeedSettings() *FeedSettings {
	return &FeedSettings{
		FetchTimeout: 15 * time.Second,
	}
}

// the synchronization layer for one view.
//
// a feed owns one collection, one fetch epoch counter, and one
// subscription for its topic. independent views get independent
// feeds; nothing here is process-wide.
//
// the subscription is opened on creation and stays open across query
// changes. `Close` tears everything down: the channel is closed, the
// in-flight fetch is cancelled, and no further event touches the
// collection.
type Feed[R Record] struct {
	ctx    context.Context
	cancel context.CancelFunc

	topic string

	collection   *Collection[R]
	detector     *QueryChangeDetector
	controller   *FetchController[R]
	reconciler   *Reconciler[R]
	coordinator  *MutationCoordinator[R]
	subscription *SubscriptionManager[R]

	subscriptionErrorCallbacks *CallbackList[SubscriptionErrorFunction]

	closeLock sync.Mutex
	closed    bool
}

func NewFeedWithDefaults[R Record](
	ctx context.Context,
	service FetchService[R],
	channel PushChannel[R],
	topic string,
	relevance RelevanceFunction[R],
) *Feed[R] {
	return NewFeed(ctx, service, channel, topic, relevance, DefaultFeedSettings())
}

func NewFeed[R Record](
	ctx context.Context,
	service FetchService[R],
	channel PushChannel[R],
	topic string,
	relevance RelevanceFunction[R],
	settings *FeedSettings,
) *Feed[R] {
	cancelCtx, cancel := context.WithCancel(ctx)

	collection := NewCollection[R]()
	controller := NewFetchController(cancelCtx, service, collection, &FetchControllerSettings{
		FetchTimeout: settings.FetchTimeout,
	})
	reconciler := NewReconciler(collection, relevance, controller.CurrentQuery)

	feed := &Feed[R]{
		ctx:                        cancelCtx,
		cancel:                     cancel,
		topic:                      topic,
		collection:                 collection,
		detector:                   NewQueryChangeDetector(),
		controller:                 controller,
		reconciler:                 reconciler,
		coordinator:                NewMutationCoordinator(collection),
		subscriptionErrorCallbacks: NewCallbackList[SubscriptionErrorFunction](),
	}
	feed.subscription = NewSubscriptionManager(
		channel,
		topic,
		reconciler.Apply,
		feed.subscriptionError,
	)

	go func() {
		if err := feed.subscription.Open(); err != nil {
			feed.subscriptionError(err)
		}
	}()

	return feed
}

// adopts a query. equal canonical keys do not refetch, so re-renders
// that rebuild the same query are free. returns whether a fetch was
// issued.
func (self *Feed[R]) SetQuery(query FeedQuery) bool {
	if !self.detector.ShouldFetch(query) {
		glog.V(2).Infof("[feed]%s query unchanged\n", self.topic)
		return false
	}
	self.controller.SetQuery(query)
	return true
}

// refetches the current query unconditionally, bypassing the change
// detector. resets the page window and replaces items wholesale.
func (self *Feed[R]) Refresh() bool {
	return self.controller.Refresh()
}

func (self *Feed[R]) LoadMore() bool {
	return self.controller.LoadMore()
}

func (self *Feed[R]) ApplyOptimistic(itemId Id, mutation func(R) R) (*OptimisticMutation[R], error) {
	return self.coordinator.Apply(itemId, mutation)
}

func (self *Feed[R]) Snapshot() *CollectionSnapshot[R] {
	return self.collection.Snapshot()
}

func (self *Feed[R]) Get(itemId Id) (R, bool) {
	return self.collection.Get(itemId)
}

func (self *Feed[R]) SubscriptionState() SubscriptionState {
	return self.subscription.State()
}

func (self *Feed[R]) AddChangeCallback(changeCallback CollectionChangeFunction) func() {
	return self.collection.AddChangeCallback(changeCallback)
}

// subscription failures do not clear the collection. the view keeps
// rendering the last known state while the caller decides whether to
// reconnect with a new feed.
func (self *Feed[R]) AddSubscriptionErrorCallback(errorCallback SubscriptionErrorFunction) func() {
	callbackId := self.subscriptionErrorCallbacks.Add(errorCallback)
	return func() {
		self.subscriptionErrorCallbacks.Remove(callbackId)
	}
}

func (self *Feed[R]) subscriptionError(err error) {
	for _, errorCallback := range self.subscriptionErrorCallbacks.Get() {
		errorCallback(err)
	}
}

func (self *Feed[R]) Close() {
	self.closeLock.Lock()
	if self.closed {
		self.closeLock.Unlock()
		return
	}
	self.closed = true
	self.closeLock.Unlock()

	self.subscription.Close()
	self.cancel()
}
