package activity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/halloran/daybook/internal/datekey"
)

// fakeSource serves canned records and can be told to fail.
type fakeSource struct {
	id      string
	records []Record
	fail    bool
	queries atomic.Int64
}

func (f *fakeSource) ID() string { return f.id }

func (f *fakeSource) Query(_ context.Context, from, to time.Time) ([]Record, error) {
	f.queries.Add(1)
	if f.fail {
		return nil, errors.New("upstream unavailable")
	}
	var out []Record
	for _, r := range f.records {
		if !r.Timestamp.Before(from) && r.Timestamp.Before(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func provider(sources ...Source) SourceProvider {
	return SourceProviderFunc(func() []Source { return sources })
}

func rec(id, source, author, msg, date string, hour int) Record {
	day, _, _ := datekey.DayBounds(date)
	return Record{
		ID:        id,
		SourceID:  source,
		Kind:      KindCommit,
		Timestamp: day.Add(time.Duration(hour) * time.Hour),
		Message:   msg,
		Author:    author,
	}
}

func TestFetchDatesMergesAndSorts(t *testing.T) {
	a := New(provider(
		&fakeSource{id: "repo-a", records: []Record{
			rec("c1", "repo-a", "ann", "early", "2024-02-01", 9),
			rec("c2", "repo-a", "ann", "late", "2024-02-01", 17),
		}},
		&fakeSource{id: "habits", records: []Record{
			rec("h1", "habits", "", "midday", "2024-02-01", 12),
		}},
	), time.Second, nil)

	a.FetchDates(context.Background(), []string{"2024-02-01"})

	got := a.Records("2024-02-01", Filter{})
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	// Descending timestamp.
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Fatalf("records out of order at %d: %v after %v", i, got[i].Timestamp, got[i-1].Timestamp)
		}
	}
	if n := a.SourceCount("2024-02-01"); n != 2 {
		t.Errorf("SourceCount = %d, want 2", n)
	}
}

func TestFailingSourceIsIsolated(t *testing.T) {
	good := &fakeSource{id: "good", records: []Record{
		rec("c1", "good", "bo", "one", "2024-02-01", 8),
		rec("c2", "good", "bo", "two", "2024-02-01", 9),
	}}
	bad := &fakeSource{id: "bad", fail: true}

	a := New(provider(good, bad), time.Second, nil)
	a.FetchDates(context.Background(), []string{"2024-02-01"})

	got := a.Records("2024-02-01", Filter{})
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2 from the healthy source", len(got))
	}
	if n := a.SourceCount("2024-02-01"); n != 1 {
		t.Errorf("SourceCount = %d, want 1", n)
	}
}

func TestFetchDatesSkipsResidentDates(t *testing.T) {
	src := &fakeSource{id: "s"}
	a := New(provider(src), time.Second, nil)

	a.FetchDates(context.Background(), []string{"2024-02-01"})
	first := src.queries.Load()
	a.FetchDates(context.Background(), []string{"2024-02-01"})

	if src.queries.Load() != first {
		t.Error("resident date was re-fetched")
	}
}

func TestEmptyFetchStillCreatesBucket(t *testing.T) {
	a := New(provider(&fakeSource{id: "s"}), time.Second, nil)
	a.FetchDates(context.Background(), []string{"2024-02-01"})

	dates := a.Dates()
	if len(dates) != 1 || dates[0] != "2024-02-01" {
		t.Fatalf("Dates = %v, want the empty bucket", dates)
	}
	if got := a.Records("2024-02-01", Filter{}); len(got) != 0 {
		t.Errorf("Records = %v, want empty", got)
	}
}

func TestContiguousDatesFetchAsOneWindow(t *testing.T) {
	src := &fakeSource{id: "s"}
	a := New(provider(src), time.Second, nil)

	a.FetchDates(context.Background(), []string{"2024-02-01", "2024-02-02", "2024-02-03"})
	if n := src.queries.Load(); n != 1 {
		t.Errorf("queries = %d, want 1 for a contiguous run", n)
	}

	a.FetchDates(context.Background(), []string{"2024-03-01", "2024-03-05"})
	if n := src.queries.Load(); n != 3 {
		t.Errorf("queries = %d, want separate windows for a gap", n)
	}
}

func TestRefreshReplacesBuckets(t *testing.T) {
	src := &fakeSource{id: "s", records: []Record{
		rec("c1", "s", "ann", "first", "2024-02-01", 10),
	}}
	a := New(provider(src), time.Second, nil)
	a.FetchDates(context.Background(), []string{"2024-02-01"})

	src.records = append(src.records, rec("c2", "s", "ann", "second", "2024-02-01", 11))
	a.Refresh(context.Background())

	got := a.Records("2024-02-01", Filter{})
	if len(got) != 2 {
		t.Fatalf("after refresh got %d records, want 2", len(got))
	}
}

func TestRecordsFilterCombinesWithAnd(t *testing.T) {
	a := New(provider(&fakeSource{id: "repo", records: []Record{
		rec("c1", "repo", "ann", "fix parser bug", "2024-02-01", 9),
		rec("c2", "repo", "bob", "fix scanner bug", "2024-02-01", 10),
		rec("c3", "repo", "ann", "add feature", "2024-02-01", 11),
	}}, &fakeSource{id: "habits", records: []Record{
		rec("h1", "habits", "", "run", "2024-02-01", 7),
	}}), time.Second, nil)
	a.FetchDates(context.Background(), []string{"2024-02-01"})

	if got := a.Records("2024-02-01", Filter{SourceID: "repo"}); len(got) != 3 {
		t.Errorf("source filter: got %d, want 3", len(got))
	}
	if got := a.Records("2024-02-01", Filter{Author: "ANN"}); len(got) != 2 {
		t.Errorf("author filter is case-insensitive: got %d, want 2", len(got))
	}
	if got := a.Records("2024-02-01", Filter{Match: "FIX"}); len(got) != 2 {
		t.Errorf("match filter: got %d, want 2", len(got))
	}
	got := a.Records("2024-02-01", Filter{SourceID: "repo", Author: "ann", Match: "fix"})
	if len(got) != 1 || got[0].ID != "c1" {
		t.Errorf("combined filter = %v, want just c1", got)
	}
}

func TestRecordsForUnknownDate(t *testing.T) {
	a := New(provider(), time.Second, nil)
	if got := a.Records("2024-02-01", Filter{}); got != nil {
		t.Errorf("Records = %v, want nil for an unfetched date", got)
	}
	if n := a.SourceCount("2024-02-01"); n != 0 {
		t.Errorf("SourceCount = %d, want 0", n)
	}
}
