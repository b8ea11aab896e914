package feedsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

type testRecord struct {
	Id    Id     `json:"id"`
	Value string `json:"value"`
	Score int    `json:"score"`
}

func (self testRecord) RecordId() Id {
	return self.Id
}

// relevant when the score is positive
func testRelevance(record testRecord, query FeedQuery) bool {
	return 0 < record.Score
}

func testQuery(t *testing.T) FeedQuery {
	rangeStart := time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)
	query, err := NewFeedQuery(rangeStart, rangeStart.AddDate(0, 0, 7), []string{"USD"}, 50)
	assert.Equal(t, err, nil)
	return query
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	endTime := time.Now().Add(5 * time.Second)
	for !condition() {
		if endTime.Before(time.Now()) {
			t.Fatal("timeout waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

func testRecords(n int, startIndex int) []testRecord {
	records := make([]testRecord, 0, n)
	for i := 0; i < n; i += 1 {
		records = append(records, testRecord{
			Id:    NewId(),
			Value: "record",
			Score: startIndex + i + 1,
		})
	}
	return records
}

// a fetch service where each call blocks until released.
// calls are released in any order to simulate out of order responses.
type stubFetchService struct {
	stateLock sync.Mutex

	calls    []*stubFetchCall
	callable chan *stubFetchCall
}

type stubFetchCall struct {
	query  FeedQuery
	offset int
	limit  int

	release chan struct{}
	result  *FetchPageResult[testRecord]
	err     error
	ctx     context.Context
}

func newStubFetchService() *stubFetchService {
	return &stubFetchService{
		calls:    []*stubFetchCall{},
		callable: make(chan *stubFetchCall, 64),
	}
}

func (self *stubFetchService) FetchPage(ctx context.Context, query FeedQuery, offset int, limit int) (*FetchPageResult[testRecord], error) {
	call := &stubFetchCall{
		query:   query,
		offset:  offset,
		limit:   limit,
		release: make(chan struct{}),
		ctx:     ctx,
	}
	self.stateLock.Lock()
	self.calls = append(self.calls, call)
	self.stateLock.Unlock()
	self.callable <- call

	select {
	case <-call.release:
		return call.result, call.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (self *stubFetchService) CallCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.calls)
}

func (self *stubFetchService) NextCall(t *testing.T) *stubFetchCall {
	t.Helper()
	select {
	case call := <-self.callable:
		return call
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for fetch call")
		return nil
	}
}

func (self *stubFetchCall) Respond(items []testRecord, hasMore bool) {
	self.result = &FetchPageResult[testRecord]{
		Items:   items,
		HasMore: hasMore,
	}
	close(self.release)
}

func (self *stubFetchCall) Fail(err error) {
	self.err = err
	close(self.release)
}

// a push channel that hands the registered handlers to the test
type stubPushChannel struct {
	stateLock sync.Mutex

	topic        string
	onEvent      func(event ChangeEvent[testRecord])
	onSubscribed func()
	onError      func(err error)

	subscribed   chan struct{}
	unsubscribes int
	subscribeErr error
}

func newStubPushChannel() *stubPushChannel {
	return &stubPushChannel{
		subscribed: make(chan struct{}),
	}
}

func (self *stubPushChannel) Subscribe(
	topic string,
	onEvent func(event ChangeEvent[testRecord]),
	onSubscribed func(),
	onError func(err error),
) (func(), error) {
	self.stateLock.Lock()
	if self.subscribeErr != nil {
		err := self.subscribeErr
		self.stateLock.Unlock()
		return nil, err
	}
	self.topic = topic
	self.onEvent = onEvent
	self.onSubscribed = onSubscribed
	self.onError = onError
	self.stateLock.Unlock()

	close(self.subscribed)

	return func() {
		self.stateLock.Lock()
		self.unsubscribes += 1
		self.stateLock.Unlock()
	}, nil
}

func (self *stubPushChannel) WaitForSubscribe(t *testing.T) {
	t.Helper()
	select {
	case <-self.subscribed:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for subscribe")
	}
}

// delivers an event through the handler exactly as the transport
// would, whether or not the subscription is still alive
func (self *stubPushChannel) Deliver(event ChangeEvent[testRecord]) {
	self.stateLock.Lock()
	onEvent := self.onEvent
	self.stateLock.Unlock()
	onEvent(event)
}

func (self *stubPushChannel) Unsubscribes() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.unsubscribes
}
