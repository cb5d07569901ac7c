package docstore

import (
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/opensource-finance/heron/internal/domain"
)

func TestBuildFilter(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		if f := buildFilter(Query{}); len(f) != 0 {
			t.Errorf("expected empty filter, got %v", f)
		}
	})

	t.Run("DateRange", func(t *testing.T) {
		from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		to := from.Add(24 * time.Hour)

		f := buildFilter(Query{From: from, To: to})
		created, ok := f[fieldCreated].(bson.M)
		if !ok {
			t.Fatalf("expected created range, got %v", f)
		}
		if created["$gte"] != "2026-03-01T00:00:00.000Z" || created["$lt"] != "2026-03-02T00:00:00.000Z" {
			t.Errorf("unexpected range %v", created)
		}
	})

	t.Run("StatusAndSearch", func(t *testing.T) {
		f := buildFilter(Query{StatusCode: "RJCT", Search: "E2E.1"})
		if f[fieldStatusCode] != "RJCT" {
			t.Errorf("expected status filter, got %v", f[fieldStatusCode])
		}

		or, ok := f["$or"].(bson.A)
		if !ok || len(or) != 2 {
			t.Fatalf("expected two search clauses, got %v", f["$or"])
		}
		clause := or[1].(bson.M)[fieldEndToEndID].(bson.M)
		if clause["$regex"] != `E2E\.1` || clause["$options"] != "i" {
			t.Errorf("search must be escaped and case-insensitive, got %v", clause)
		}
	})
}

func TestNormalizeQuery(t *testing.T) {
	q := normalizeQuery(Query{Limit: 0, Offset: -3})
	if q.Limit != DefaultLimit || q.Offset != 0 {
		t.Errorf("unexpected defaults %+v", q)
	}
	if q := normalizeQuery(Query{Limit: 5000}); q.Limit != MaxLimit {
		t.Errorf("expected limit capped at %d, got %d", MaxLimit, q.Limit)
	}
}

func TestDecodeRecord(t *testing.T) {
	oid := primitive.NewObjectID()
	raw, err := bson.Marshal(bson.M{
		"_id":           oid,
		"transactionID": "TX-1",
		"report":        bson.M{"status": "ALRT", "score": 71.5},
	})
	if err != nil {
		t.Fatal(err)
	}

	r := decodeRecord(raw)
	if r.Err != nil {
		t.Fatalf("unexpected error: %v", r.Err)
	}
	if r.ID != oid.Hex() || r.Trace.TransactionID != "TX-1" {
		t.Errorf("unexpected record %+v", r)
	}
	if r.Trace.Report == nil || r.Trace.Report.Score == nil || *r.Trace.Report.Score != 71.5 {
		t.Errorf("expected report score, got %+v", r.Trace.Report)
	}

	bad, _ := bson.Marshal(bson.M{"_id": "doc-2", "networkMap": "not a document"})
	r = decodeRecord(bad)
	if !errors.Is(r.Err, domain.ErrMalformedSourceRecord) || r.ID != "doc-2" {
		t.Errorf("expected malformed record doc-2, got %+v", r)
	}
}
