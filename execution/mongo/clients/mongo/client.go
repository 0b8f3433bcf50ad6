// Package mongo implements the low-level MongoDB client used by the
// execution record store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/batonhq/baton/execution"
)

type (
	// Client exposes Mongo-backed operations for execution records.
	Client interface {
		health.Pinger

		Insert(ctx context.Context, rec execution.Record) error
		FindByID(ctx context.Context, id string) (execution.Record, error)
		UpdateStatus(ctx context.Context, id string, status execution.Status) error
		List(ctx context.Context) ([]execution.Record, error)
	}

	// Options configures the Mongo client implementation.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	client struct {
		mongo   *mongodriver.Client
		coll    *mongodriver.Collection
		timeout time.Duration
	}

	recordDocument struct {
		ID            string            `bson:"_id"`
		Domain        string            `bson:"domain"`
		CallbackToken []byte            `bson:"callback_token,omitempty"`
		Payload       []byte            `bson:"payload,omitempty"`
		Metadata      map[string]string `bson:"metadata,omitempty"`
		CreatedAt     time.Time         `bson:"created_at"`
		Phase         string            `bson:"phase"`
		Result        []byte            `bson:"result,omitempty"`
		Error         string            `bson:"error,omitempty"`
		UpdatedAt     time.Time         `bson:"updated_at"`
	}
)

const (
	defaultCollection = "executions"
	defaultTimeout    = 5 * time.Second
	clientName        = "execution-mongo"
)

// New returns a Client backed by the provided MongoDB client.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	coll := opts.Client.Database(opts.Database).Collection(collection)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, err
	}
	return &client{mongo: opts.Client, coll: coll, timeout: timeout}, nil
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) Insert(ctx context.Context, rec execution.Record) error {
	if rec.Spec.ID == "" {
		return errors.New("execution id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err := c.coll.InsertOne(ctx, toDocument(rec))
	if mongodriver.IsDuplicateKeyError(err) {
		return execution.ErrAlreadyExists
	}
	return err
}

func (c *client) FindByID(ctx context.Context, id string) (execution.Record, error) {
	if id == "" {
		return execution.Record{}, errors.New("execution id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var doc recordDocument
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return execution.Record{}, execution.ErrNotFound
	}
	if err != nil {
		return execution.Record{}, err
	}
	return fromDocument(doc), nil
}

// UpdateStatus performs a conditional update so that concurrent writers to
// the same record cannot regress the phase: the filter only matches records
// whose current phase may transition to the new one. A non-matching update is
// then disambiguated between "not found", "idempotent terminal replay" and
// "phase regression" by re-reading the record.
func (c *client) UpdateStatus(ctx context.Context, id string, status execution.Status) error {
	if id == "" {
		return errors.New("execution id is required")
	}
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now()
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{
		"_id":   id,
		"phase": bson.M{"$in": transitionablePhases(status.Phase)},
	}
	update := bson.M{"$set": bson.M{
		"phase":      string(status.Phase),
		"result":     append([]byte(nil), status.Result...),
		"error":      status.Error,
		"updated_at": status.UpdatedAt.UTC(),
	}}
	res, err := c.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}

	rec, err := c.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status.Phase.Terminal() && rec.Status.Equal(status) {
		return nil
	}
	return execution.ErrPhaseRegression
}

func (c *client) List(ctx context.Context) (recs []execution.Record, err error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cur, err := c.coll.Find(ctx, bson.M{}, options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := cur.Close(ctx); err == nil && cerr != nil {
			err = cerr
		}
	}()

	for cur.Next(ctx) {
		var doc recordDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		recs = append(recs, fromDocument(doc))
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// transitionablePhases returns the phases from which a record may move to the
// target phase, including the target itself for idempotent replays of
// non-terminal states.
func transitionablePhases(target execution.Phase) []string {
	var from []string
	for _, p := range []execution.Phase{execution.PhasePending, execution.PhaseRunning} {
		if p.CanTransition(target) {
			from = append(from, string(p))
		}
	}
	return from
}

func toDocument(rec execution.Record) recordDocument {
	return recordDocument{
		ID:            rec.Spec.ID,
		Domain:        rec.Spec.Domain,
		CallbackToken: append([]byte(nil), rec.Spec.CallbackToken...),
		Payload:       append([]byte(nil), rec.Spec.Payload...),
		Metadata:      rec.Spec.Metadata,
		CreatedAt:     rec.Spec.CreatedAt.UTC(),
		Phase:         string(rec.Status.Phase),
		Result:        append([]byte(nil), rec.Status.Result...),
		Error:         rec.Status.Error,
		UpdatedAt:     rec.Status.UpdatedAt.UTC(),
	}
}

func fromDocument(doc recordDocument) execution.Record {
	return execution.Record{
		Spec: execution.Spec{
			ID:            doc.ID,
			Domain:        doc.Domain,
			CallbackToken: execution.Token(append([]byte(nil), doc.CallbackToken...)),
			Payload:       append([]byte(nil), doc.Payload...),
			Metadata:      doc.Metadata,
			CreatedAt:     doc.CreatedAt,
		},
		Status: execution.Status{
			Phase:     execution.Phase(doc.Phase),
			Result:    append([]byte(nil), doc.Result...),
			Error:     doc.Error,
			UpdatedAt: doc.UpdatedAt,
		},
	}
}

func ensureIndexes(ctx context.Context, coll *mongodriver.Collection) error {
	index := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "domain", Value: 1},
			{Key: "created_at", Value: 1},
		},
	}
	if _, err := coll.Indexes().CreateOne(ctx, index); err != nil {
		return fmt.Errorf("create execution index: %w", err)
	}
	return nil
}
