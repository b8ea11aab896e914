package feedsync

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

const DefaultPageSize = 50

// immutable description of the wanted slice of a feed.
// equality is structural via `CanonicalKey`.
type FeedQuery struct {
	RangeStart time.Time
	RangeEnd   time.Time
	Filters    []string
	PageSize   int
}

func NewFeedQuery(rangeStart time.Time, rangeEnd time.Time, filters []string, pageSize int) (FeedQuery, error) {
	if rangeEnd.Before(rangeStart) {
		return FeedQuery{}, fmt.Errorf("range start %s after range end %s", rangeStart, rangeEnd)
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	// an empty filter set is valid. it selects zero records, not an
	// error.
	return FeedQuery{
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
		Filters:    slices.Clone(filters),
		PageSize:   pageSize,
	}, nil
}

func RequireFeedQuery(rangeStart time.Time, rangeEnd time.Time, filters []string, pageSize int) FeedQuery {
	query, err := NewFeedQuery(rangeStart, rangeEnd, filters, pageSize)
	if err != nil {
		panic(err)
	}
	return query
}

// a canonical key derived by sorting the filters and concatenating
// with the range. two queries with equal keys are the same query,
// whatever object instances they came from.
func (self FeedQuery) CanonicalKey() string {
	filters := slices.Clone(self.Filters)
	slices.Sort(filters)
	return fmt.Sprintf(
		"%d:%d:%s:%d",
		self.RangeStart.UnixMilli(),
		self.RangeEnd.UnixMilli(),
		strings.Join(filters, ","),
		self.PageSize,
	)
}

// decides whether a newly adopted query needs a new fetch epoch.
// re-renders that recreate an equal query must not refetch.
type QueryChangeDetector struct {
	stateLock sync.Mutex

	hasPreviousKey bool
	previousKey    string
}

func NewQueryChangeDetector() *QueryChangeDetector {
	return &QueryChangeDetector{}
}

func (self *QueryChangeDetector) ShouldFetch(query FeedQuery) bool {
	key := query.CanonicalKey()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.hasPreviousKey && key == self.previousKey {
		return false
	}
	self.hasPreviousKey = true
	self.previousKey = key
	return true
}

// forgets the previous key so that the next query always fetches.
// used by force refresh, which bypasses the detector.
func (self *QueryChangeDetector) Reset() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.hasPreviousKey = false
	self.previousKey = ""
}
