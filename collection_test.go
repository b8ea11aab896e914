package feedsync

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestCollectionNoDuplicateIds(t *testing.T) {
	collection := NewCollection[testRecord]()

	record := testRecord{Id: NewId(), Value: "a", Score: 1}
	collection.replaceAll([]testRecord{record, {Id: record.Id, Value: "b", Score: 1}}, false)

	// last writer wins, one entry
	assert.Equal(t, collection.Len(), 1)
	stored, ok := collection.Get(record.Id)
	assert.Equal(t, ok, true)
	assert.Equal(t, stored.Value, "b")

	collection.appendPage([]testRecord{{Id: record.Id, Value: "c", Score: 1}}, false)
	assert.Equal(t, collection.Len(), 1)
	stored, _ = collection.Get(record.Id)
	assert.Equal(t, stored.Value, "c")
}

func TestCollectionOrderPreserved(t *testing.T) {
	collection := NewCollection[testRecord]()

	records := testRecords(5, 0)
	collection.replaceAll(records, true)

	more := testRecords(3, 5)
	collection.appendPage(more, false)

	snapshot := collection.Snapshot()
	assert.Equal(t, len(snapshot.Items), 8)
	for i, record := range append(records, more...) {
		assert.Equal(t, snapshot.Items[i].Id, record.Id)
	}

	// replace in place keeps the position
	replaced := records[2]
	replaced.Value = "replaced"
	assert.Equal(t, collection.replaceIfPresent(replaced.Id, replaced), true)
	snapshot = collection.Snapshot()
	assert.Equal(t, snapshot.Items[2].Value, "replaced")
}

func TestCollectionUpdateCapturesPrevious(t *testing.T) {
	collection := NewCollection[testRecord]()

	record := testRecord{Id: NewId(), Value: "before", Score: 1}
	collection.replaceAll([]testRecord{record}, false)

	previous, ok := collection.update(record.Id, func(r testRecord) testRecord {
		r.Value = "after"
		return r
	})
	assert.Equal(t, ok, true)
	assert.Equal(t, previous.Value, "before")

	stored, _ := collection.Get(record.Id)
	assert.Equal(t, stored.Value, "after")

	_, ok = collection.update(NewId(), func(r testRecord) testRecord {
		return r
	})
	assert.Equal(t, ok, false)
}

func TestCollectionChangeCallback(t *testing.T) {
	collection := NewCollection[testRecord]()

	changes := 0
	remove := collection.AddChangeCallback(func() {
		changes += 1
	})

	collection.replaceAll(testRecords(1, 0), false)
	collection.changed()
	assert.Equal(t, changes, 1)

	remove()
	collection.changed()
	assert.Equal(t, changes, 1)
}
