package mongo

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/batonhq/baton/execution"
	clientsmongo "github.com/batonhq/baton/execution/mongo/clients/mongo"
)

var (
	testMongoClient    *mongodriver.Client
	testMongoContainer testcontainers.Container
	skipMongoTests     bool
	mongoSetupDone     bool
)

func setupMongoDB() {
	mongoSetupDone = true
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		}
		testMongoContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("Docker not available, MongoDB tests will be skipped: %v\n", containerErr)
		skipMongoTests = true
		return
	}

	host, err := testMongoContainer.Host(ctx)
	if err != nil {
		fmt.Printf("Failed to get container host: %v\n", err)
		skipMongoTests = true
		return
	}
	port, err := testMongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		fmt.Printf("Failed to get container port: %v\n", err)
		skipMongoTests = true
		return
	}

	uri := fmt.Sprintf("mongodb://%s:%s", host, port.Port())
	testMongoClient, err = mongodriver.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		fmt.Printf("Failed to connect to MongoDB: %v\n", err)
		skipMongoTests = true
		return
	}
	if err := testMongoClient.Ping(ctx, nil); err != nil {
		fmt.Printf("Failed to ping MongoDB: %v\n", err)
		skipMongoTests = true
	}
}

func getMongoStore(t *testing.T) *Store {
	t.Helper()
	if !mongoSetupDone {
		setupMongoDB()
	}
	if skipMongoTests {
		t.Skip("Docker not available, skipping MongoDB test")
	}

	collection := testMongoClient.Database("baton_test").Collection(t.Name())
	if err := collection.Drop(context.Background()); err != nil {
		t.Fatalf("failed to drop collection: %v", err)
	}
	client, err := clientsmongo.New(clientsmongo.Options{
		Client:     testMongoClient,
		Database:   "baton_test",
		Collection: t.Name(),
	})
	require.NoError(t, err)
	store, err := NewStore(client)
	require.NoError(t, err)
	return store
}

func TestMongoRecordRoundTrip(t *testing.T) {
	store := getMongoStore(t)
	ctx := context.Background()

	spec := execution.Spec{
		ID:            "exec-1",
		Domain:        "agent-execution",
		CallbackToken: execution.Token("tok-1"),
		Payload:       json.RawMessage(`{"x":1}`),
		CreatedAt:     time.Now().UTC().Truncate(time.Millisecond),
	}
	status := execution.Status{Phase: execution.PhasePending, UpdatedAt: time.Now().UTC()}

	id, err := store.Create(ctx, spec, status)
	require.NoError(t, err)
	assert.Equal(t, "exec-1", id)

	rec, err := store.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, execution.Token("tok-1"), rec.Spec.CallbackToken)
	assert.JSONEq(t, `{"x":1}`, string(rec.Spec.Payload))
	assert.Equal(t, execution.PhasePending, rec.Status.Phase)
}

func TestMongoDuplicateCreate(t *testing.T) {
	store := getMongoStore(t)
	ctx := context.Background()

	spec := execution.Spec{ID: "exec-1", Domain: "d", CreatedAt: time.Now().UTC()}
	status := execution.Status{Phase: execution.PhasePending, UpdatedAt: time.Now().UTC()}
	_, err := store.Create(ctx, spec, status)
	require.NoError(t, err)

	_, err = store.Create(ctx, spec, status)
	assert.ErrorIs(t, err, execution.ErrAlreadyExists)
}

func TestMongoUpdateStatusLifecycle(t *testing.T) {
	store := getMongoStore(t)
	ctx := context.Background()

	spec := execution.Spec{ID: "exec-1", Domain: "d", CreatedAt: time.Now().UTC()}
	_, err := store.Create(ctx, spec, execution.Status{Phase: execution.PhasePending, UpdatedAt: time.Now().UTC()})
	require.NoError(t, err)

	require.NoError(t, store.UpdateStatus(ctx, "exec-1", execution.Status{Phase: execution.PhaseRunning}))

	terminal := execution.Status{Phase: execution.PhaseFailed, Error: "agent crashed"}
	require.NoError(t, store.UpdateStatus(ctx, "exec-1", terminal))

	// Exact terminal replay is a no-op, other writes are regressions.
	require.NoError(t, store.UpdateStatus(ctx, "exec-1", terminal))
	err = store.UpdateStatus(ctx, "exec-1", execution.Status{Phase: execution.PhaseRunning})
	assert.ErrorIs(t, err, execution.ErrPhaseRegression)
	err = store.UpdateStatus(ctx, "exec-1", execution.Status{Phase: execution.PhaseSucceeded, Result: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, execution.ErrPhaseRegression)

	rec, err := store.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, execution.PhaseFailed, rec.Status.Phase)
	assert.Equal(t, "agent crashed", rec.Status.Error)
}

func TestMongoUpdateStatusMissingRecord(t *testing.T) {
	store := getMongoStore(t)
	err := store.UpdateStatus(context.Background(), "missing", execution.Status{Phase: execution.PhaseRunning})
	assert.ErrorIs(t, err, execution.ErrNotFound)
}

func TestMongoListOrdersByCreation(t *testing.T) {
	store := getMongoStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, id := range []string{"exec-a", "exec-b", "exec-c"} {
		_, err := store.Create(ctx,
			execution.Spec{ID: id, Domain: "d", CreatedAt: base.Add(time.Duration(i) * time.Second)},
			execution.Status{Phase: execution.PhasePending, UpdatedAt: base})
		require.NoError(t, err)
	}

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "exec-a", records[0].Spec.ID)
	assert.Equal(t, "exec-c", records[2].Spec.ID)
}
