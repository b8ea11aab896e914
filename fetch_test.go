package feedsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func newTestController(t *testing.T) (*FetchController[testRecord], *stubFetchService, *Collection[testRecord]) {
	service := newStubFetchService()
	collection := NewCollection[testRecord]()
	controller := NewFetchController[testRecord](
		context.Background(),
		service,
		collection,
		&FetchControllerSettings{},
	)
	return controller, service, collection
}

// fetch a full page, then load the short last page
func TestFetchInitialAndLoadMore(t *testing.T) {
	controller, service, collection := newTestController(t)

	controller.SetQuery(testQuery(t))

	call := service.NextCall(t)
	assert.Equal(t, call.offset, 0)
	assert.Equal(t, call.limit, 50)
	call.Respond(testRecords(50, 0), true)

	waitFor(t, func() bool { return collection.Len() == 50 })
	snapshot := collection.Snapshot()
	assert.Equal(t, snapshot.HasMore, true)
	assert.Equal(t, snapshot.IsLoadingInitial, false)

	assert.Equal(t, controller.LoadMore(), true)
	call = service.NextCall(t)
	assert.Equal(t, call.offset, 50)
	call.Respond(testRecords(30, 50), false)

	waitFor(t, func() bool { return collection.Len() == 80 })
	snapshot = collection.Snapshot()
	assert.Equal(t, snapshot.HasMore, false)
	assert.Equal(t, snapshot.IsLoadingMore, false)
}

// the offset advances by the count actually returned, not the
// requested limit
func TestFetchShortPageOffset(t *testing.T) {
	controller, service, collection := newTestController(t)

	controller.SetQuery(testQuery(t))
	service.NextCall(t).Respond(testRecords(30, 0), true)
	waitFor(t, func() bool { return collection.Len() == 30 })

	assert.Equal(t, controller.LoadMore(), true)
	call := service.NextCall(t)
	assert.Equal(t, call.offset, 30)
	call.Respond(testRecords(30, 30), true)
	waitFor(t, func() bool { return collection.Len() == 60 })

	assert.Equal(t, controller.LoadMore(), true)
	call = service.NextCall(t)
	assert.Equal(t, call.offset, 60)
	call.Respond(nil, false)
	waitFor(t, func() bool { return !collection.Snapshot().IsLoadingMore })
	assert.Equal(t, collection.Len(), 60)
}

// only the response matching the active epoch ever mutates state
func TestFetchEpochStaleness(t *testing.T) {
	controller, service, collection := newTestController(t)

	rangeStart := time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)
	usd, _ := NewFeedQuery(rangeStart, rangeStart.AddDate(0, 0, 7), []string{"USD"}, 50)
	usdEur, _ := NewFeedQuery(rangeStart, rangeStart.AddDate(0, 0, 7), []string{"USD", "EUR"}, 50)

	controller.SetQuery(usd)
	usdCall := service.NextCall(t)

	// the descriptor changes while the first fetch is in flight
	controller.SetQuery(usdEur)
	usdEurCall := service.NextCall(t)

	usdEurRecords := testRecords(3, 0)
	usdEurCall.Respond(usdEurRecords, false)
	waitFor(t, func() bool { return collection.Len() == 3 })

	// the stale response arrives anyway and is discarded
	usdRecords := testRecords(40, 100)
	usdCall.Respond(usdRecords, true)

	time.Sleep(50 * time.Millisecond)
	snapshot := collection.Snapshot()
	assert.Equal(t, len(snapshot.Items), 3)
	for i, record := range usdEurRecords {
		assert.Equal(t, snapshot.Items[i].Id, record.Id)
	}
	assert.Equal(t, snapshot.HasMore, false)
}

// three descriptor changes in quick succession issue three fetches,
// and only the last result is ever visible
func TestFetchSupersededQueries(t *testing.T) {
	controller, service, collection := newTestController(t)

	rangeStart := time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)
	queries := []FeedQuery{}
	for days := 1; days <= 3; days += 1 {
		query, _ := NewFeedQuery(rangeStart, rangeStart.AddDate(0, 0, days), []string{"USD"}, 50)
		queries = append(queries, query)
	}

	for _, query := range queries {
		controller.SetQuery(query)
	}
	// exactly three fetches are issued
	waitFor(t, func() bool { return service.CallCount() == 3 })

	lastRecords := testRecords(7, 0)
	for i := 0; i < 3; i += 1 {
		call := service.NextCall(t)
		if call.query.CanonicalKey() == queries[2].CanonicalKey() {
			call.Respond(lastRecords, false)
		} else {
			call.Respond(testRecords(50, 1000*(i+1)), true)
		}
	}

	waitFor(t, func() bool { return collection.Len() == 7 })
	time.Sleep(50 * time.Millisecond)
	snapshot := collection.Snapshot()
	assert.Equal(t, len(snapshot.Items), 7)
	for i, record := range lastRecords {
		assert.Equal(t, snapshot.Items[i].Id, record.Id)
	}
}

func TestLoadMoreGuard(t *testing.T) {
	controller, service, collection := newTestController(t)

	// no query adopted yet
	assert.Equal(t, controller.LoadMore(), false)
	assert.Equal(t, service.CallCount(), 0)

	controller.SetQuery(testQuery(t))

	// initial fetch in flight
	assert.Equal(t, controller.LoadMore(), false)
	waitFor(t, func() bool { return service.CallCount() == 1 })

	service.NextCall(t).Respond(testRecords(50, 0), true)
	waitFor(t, func() bool { return collection.Len() == 50 })

	assert.Equal(t, controller.LoadMore(), true)

	// load-more already in flight
	assert.Equal(t, controller.LoadMore(), false)
	waitFor(t, func() bool { return service.CallCount() == 2 })

	service.NextCall(t).Respond(testRecords(10, 50), false)
	waitFor(t, func() bool { return collection.Len() == 60 })

	// hasMore is false
	assert.Equal(t, controller.LoadMore(), false)
	assert.Equal(t, service.CallCount(), 2)
}

// a rejected fetch sets lastError and leaves existing items untouched
func TestFetchError(t *testing.T) {
	controller, service, collection := newTestController(t)

	controller.SetQuery(testQuery(t))
	service.NextCall(t).Respond(testRecords(5, 0), true)
	waitFor(t, func() bool { return collection.Len() == 5 })

	assert.Equal(t, controller.LoadMore(), true)
	service.NextCall(t).Fail(errors.New("transport failure"))

	waitFor(t, func() bool { return collection.Snapshot().LastError != nil })
	snapshot := collection.Snapshot()
	assert.Equal(t, len(snapshot.Items), 5)
	assert.Equal(t, snapshot.IsLoadingMore, false)

	// an explicit refresh clears the error
	assert.Equal(t, controller.Refresh(), true)
	service.NextCall(t).Respond(testRecords(5, 0), false)
	waitFor(t, func() bool { return collection.Snapshot().LastError == nil })
}

// a cancelled fetch is a no-op, never surfaced as an error
func TestFetchCancelled(t *testing.T) {
	controller, service, collection := newTestController(t)

	controller.SetQuery(testQuery(t))
	service.NextCall(t)
	controller.Cancel()

	waitFor(t, func() bool { return !controller.InFlight() })
	snapshot := collection.Snapshot()
	assert.Equal(t, snapshot.LastError, nil)
	assert.Equal(t, len(snapshot.Items), 0)
}

// a response that wins the race against its own cancellation is
// dropped, but observers still hear the loading flag clear
func TestFetchCancelledResponseNotifies(t *testing.T) {
	collection := NewCollection[testRecord]()
	started := make(chan struct{})
	release := make(chan struct{})
	service := FetchServiceFunc[testRecord](func(ctx context.Context, query FeedQuery, offset int, limit int) (*FetchPageResult[testRecord], error) {
		close(started)
		// returns a full page anyway, ignoring cancellation
		<-release
		return &FetchPageResult[testRecord]{
			Items:   testRecords(50, 0),
			HasMore: true,
		}, nil
	})
	controller := NewFetchController[testRecord](
		context.Background(),
		service,
		collection,
		&FetchControllerSettings{},
	)

	var stateLock sync.Mutex
	spinnerCleared := false
	removeCallback := collection.AddChangeCallback(func() {
		snapshot := collection.Snapshot()
		stateLock.Lock()
		if !snapshot.IsLoadingInitial {
			spinnerCleared = true
		}
		stateLock.Unlock()
	})
	defer removeCallback()

	controller.SetQuery(testQuery(t))
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for fetch")
	}
	controller.Cancel()
	close(release)

	waitFor(t, func() bool {
		stateLock.Lock()
		defer stateLock.Unlock()
		return spinnerCleared
	})
	assert.Equal(t, collection.Len(), 0)
	assert.Equal(t, collection.Snapshot().LastError, nil)
}

// refresh replaces items wholesale, not merged
func TestRefreshReplacesWholesale(t *testing.T) {
	controller, service, collection := newTestController(t)

	controller.SetQuery(testQuery(t))
	service.NextCall(t).Respond(testRecords(50, 0), true)
	waitFor(t, func() bool { return collection.Len() == 50 })

	assert.Equal(t, controller.Refresh(), true)
	fresh := testRecords(4, 0)
	service.NextCall(t).Respond(fresh, false)

	waitFor(t, func() bool { return collection.Len() == 4 })
	snapshot := collection.Snapshot()
	for i, record := range fresh {
		assert.Equal(t, snapshot.Items[i].Id, record.Id)
	}
}
