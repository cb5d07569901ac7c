// Package docstore reads ISO20022 evaluation traces from MongoDB.
package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/normalize"
)

// Document paths inside a trace.
const (
	fieldCreated       = "networkMap.messages.0.transaction.FIToFIPmtSts.GrpHdr.CreDtTm"
	fieldStatusCode    = "networkMap.messages.0.transaction.FIToFIPmtSts.TxInfAndSts.TxSts"
	fieldInstructionID = "networkMap.messages.0.transaction.FIToFIPmtSts.TxInfAndSts.OrgnlInstrId"
	fieldEndToEndID    = "networkMap.messages.0.transaction.FIToFIPmtSts.TxInfAndSts.OrgnlEndToEndId"
)

// Paging limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// isoLayout matches how creation times are stored, so string range
// comparison follows time order.
const isoLayout = "2006-01-02T15:04:05.000Z"

// Query selects traces. Zero values are ignored.
type Query struct {
	From       time.Time
	To         time.Time
	StatusCode string
	// Search matches instruction or end-to-end ids, case-insensitively.
	Search string
	Limit  int
	Offset int
}

// Record is one stored trace. Err is set when the document could not be
// decoded; the trace is then nil.
type Record struct {
	ID    string
	Trace *normalize.Trace
	Err   error
}

// Store is a read-only MongoDB trace store.
type Store struct {
	client  *mongo.Client
	coll    *mongo.Collection
	timeout time.Duration
}

// Open connects to MongoDB and verifies the connection.
func Open(ctx context.Context, cfg domain.DocStoreConfig) (*Store, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("%w: docstore uri is required", domain.ErrInvalidInput)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	database := cfg.Database
	if database == "" {
		database = "heron"
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "evaluation_traces"
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to docstore: %w", err)
	}
	if err := client.Ping(cctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping docstore: %w", err)
	}

	slog.Info("docstore connected", "database", database, "collection", collection)
	return &Store{
		client:  client,
		coll:    client.Database(database).Collection(collection),
		timeout: timeout,
	}, nil
}

// FindTraces returns traces matching q, newest first.
func (s *Store) FindTraces(ctx context.Context, q Query) ([]Record, error) {
	q = normalizeQuery(q)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: fieldCreated, Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(q.Limit)).
		SetSkip(int64(q.Offset))

	cur, err := s.coll.Find(ctx, buildFilter(q), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query traces: %w", err)
	}
	defer cur.Close(ctx)

	var records []Record
	for cur.Next(ctx) {
		records = append(records, decodeRecord(cur.Current))
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("failed to read traces: %w", err)
	}
	return records, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects from MongoDB.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func normalizeQuery(q Query) Query {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

func buildFilter(q Query) bson.M {
	filter := bson.M{}

	created := bson.M{}
	if !q.From.IsZero() {
		created["$gte"] = q.From.UTC().Format(isoLayout)
	}
	if !q.To.IsZero() {
		created["$lt"] = q.To.UTC().Format(isoLayout)
	}
	if len(created) > 0 {
		filter[fieldCreated] = created
	}

	if q.StatusCode != "" {
		filter[fieldStatusCode] = q.StatusCode
	}

	if q.Search != "" {
		pattern := bson.M{"$regex": regexp.QuoteMeta(q.Search), "$options": "i"}
		filter["$or"] = bson.A{
			bson.M{fieldInstructionID: pattern},
			bson.M{fieldEndToEndID: pattern},
		}
	}

	return filter
}

func decodeRecord(raw bson.Raw) Record {
	r := Record{ID: documentID(raw)}

	var t normalize.Trace
	if err := bson.Unmarshal(raw, &t); err != nil {
		r.Err = fmt.Errorf("%w: document %s: %v", domain.ErrMalformedSourceRecord, r.ID, err)
		return r
	}
	r.Trace = &t
	return r
}

func documentID(raw bson.Raw) string {
	v, err := raw.LookupErr("_id")
	if err != nil {
		return ""
	}
	if oid, ok := v.ObjectIDOK(); ok {
		return oid.Hex()
	}
	if s, ok := v.StringValueOK(); ok {
		return s
	}
	return v.String()
}
