package feedsync

import (
	"fmt"
	"sync"

	"github.com/golang/glog"
)

type SubscriptionState string

// per topic: Disconnected -> Connecting -> Subscribed -> (Error | Disconnected)
const (
	SubscriptionStateDisconnected SubscriptionState = "Disconnected"
	SubscriptionStateConnecting   SubscriptionState = "Connecting"
	SubscriptionStateSubscribed   SubscriptionState = "Subscribed"
	SubscriptionStateError        SubscriptionState = "Error"
)

// the push event transport. any pub/sub transport satisfies this:
// websocket, server-sent events, long-poll.
//
// `Subscribe` opens a channel for one topic. `onSubscribed` fires once
// on confirmed open, `onEvent` per delivered event in arrival order,
// `onError` on channel-level failure. the returned function closes the
// channel. delivery order is the only ordering guarantee; at-least-once
// delivery is acceptable because insert handling is idempotent.
type PushChannel[R Record] interface {
	Subscribe(
		topic string,
		onEvent func(event ChangeEvent[R]),
		onSubscribed func(),
		onError func(err error),
	) (unsubscribe func(), err error)
}

type PushChannelFunc[R Record] func(
	topic string,
	onEvent func(event ChangeEvent[R]),
	onSubscribed func(),
	onError func(err error),
) (unsubscribe func(), err error)

func (self PushChannelFunc[R]) Subscribe(
	topic string,
	onEvent func(event ChangeEvent[R]),
	onSubscribed func(),
	onError func(err error),
) (func(), error) {
	return self(topic, onEvent, onSubscribed, onError)
}

// opens and closes exactly one logical channel per topic and tracks
// the connection state. there is one subscription per topic shared
// across query changes; query adoption does not resubscribe.
//
// the manager does not retry after errors. retry policy belongs to
// the caller.
type SubscriptionManager[R Record] struct {
	channel PushChannel[R]
	topic   string

	onEvent func(event ChangeEvent[R])
	onError func(err error)

	stateLock  sync.Mutex
	delivering sync.WaitGroup

	state       SubscriptionState
	alive       bool
	unsubscribe func()
}

func NewSubscriptionManager[R Record](
	channel PushChannel[R],
	topic string,
	onEvent func(event ChangeEvent[R]),
	onError func(err error),
) *SubscriptionManager[R] {
	return &SubscriptionManager[R]{
		channel: channel,
		topic:   topic,
		onEvent: onEvent,
		onError: onError,
		state:   SubscriptionStateDisconnected,
	}
}

func (self *SubscriptionManager[R]) State() SubscriptionState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

func (self *SubscriptionManager[R]) Open() error {
	self.stateLock.Lock()
	if self.state != SubscriptionStateDisconnected {
		self.stateLock.Unlock()
		return fmt.Errorf("subscription for %s already open (%s)", self.topic, self.state)
	}
	self.state = SubscriptionStateConnecting
	self.alive = true
	self.stateLock.Unlock()

	unsubscribe, err := self.channel.Subscribe(
		self.topic,
		self.handleEvent,
		self.handleSubscribed,
		self.handleError,
	)

	self.stateLock.Lock()
	if err != nil {
		self.state = SubscriptionStateError
		self.alive = false
		self.stateLock.Unlock()
		glog.Infof("[sub]%s open error = %s\n", self.topic, err)
		return err
	}
	if !self.alive {
		// torn down while the open was in flight
		self.stateLock.Unlock()
		unsubscribe()
		return nil
	}
	self.unsubscribe = unsubscribe
	self.stateLock.Unlock()
	return nil
}

// closes the channel from any state. the handler reference is
// invalidated before the underlying channel is released, and an event
// delivery that already passed the liveness check is waited out, so
// no event touches downstream state after close returns. must not be
// called from inside an event handler.
func (self *SubscriptionManager[R]) Close() {
	self.stateLock.Lock()
	self.alive = false
	self.state = SubscriptionStateDisconnected
	unsubscribe := self.unsubscribe
	self.unsubscribe = nil
	self.stateLock.Unlock()

	self.delivering.Wait()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (self *SubscriptionManager[R]) handleSubscribed() {
	self.stateLock.Lock()
	if self.alive && self.state == SubscriptionStateConnecting {
		self.state = SubscriptionStateSubscribed
	}
	self.stateLock.Unlock()
	glog.V(2).Infof("[sub]%s subscribed\n", self.topic)
}

func (self *SubscriptionManager[R]) handleEvent(event ChangeEvent[R]) {
	self.stateLock.Lock()
	if !self.alive {
		self.stateLock.Unlock()
		return
	}
	self.delivering.Add(1)
	self.stateLock.Unlock()
	defer self.delivering.Done()

	self.onEvent(event)
}

func (self *SubscriptionManager[R]) handleError(err error) {
	self.stateLock.Lock()
	alive := self.alive
	if alive {
		self.state = SubscriptionStateError
	}
	self.stateLock.Unlock()

	if !alive {
		return
	}
	glog.Infof("[sub]%s error = %s\n", self.topic, err)
	if self.onError != nil {
		self.onError(err)
	}
}
