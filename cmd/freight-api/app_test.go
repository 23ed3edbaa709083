package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	freightapi "github.com/BarnabyWild/logistack-sub000/internal/api/freight_api"
	"github.com/BarnabyWild/logistack-sub000/internal/auth"
	"github.com/BarnabyWild/logistack-sub000/internal/broker/kafka"
	"github.com/BarnabyWild/logistack-sub000/internal/models"
	"github.com/BarnabyWild/logistack-sub000/internal/services/audit"
	"github.com/BarnabyWild/logistack-sub000/internal/services/lifecycle"
	"github.com/BarnabyWild/logistack-sub000/internal/services/tracking"
	"github.com/BarnabyWild/logistack-sub000/internal/storage/memstore"
)

func newTestAPI(t *testing.T) (*freightapi.FreightAPI, *tracking.Pipeline, *memstore.Store) {
	t.Helper()
	pub, _, err := auth.GenerateKeypair()
	require.NoError(t, err)
	st := memstore.New()
	authn := auth.NewTokenAuthenticator(pub, "freight")
	pipeline := tracking.NewPipeline(st, nil, time.Minute)
	svc := tracking.NewService(tracking.NewRegistry(0), authn, pipeline, st, tracking.Policy{})
	engine := lifecycle.New(st, audit.NewRecorder(), "load.events")
	return freightapi.New(engine, svc, authn), pipeline, st
}

func writeSwagger(t *testing.T) string {
	t.Helper()
	sw := filepath.Join(t.TempDir(), "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))
	return sw
}

type fakeConsumer struct {
	err error
}

func (c fakeConsumer) Consume(ctx context.Context, _ kafka.Handler) error {
	if c.err != nil {
		return c.err
	}
	<-ctx.Done()
	return nil
}

func TestRunFreightAPI_SwaggerServed(t *testing.T) {
	api, pipeline, _ := newTestAPI(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := freightAPIOpts{
		httpAddr:      "127.0.0.1:0",
		swaggerPath:   writeSwagger(t),
		topic:         "location.ingest",
		consumerGroup: "g",
		onListen:      func(httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- runFreightAPI(ctx, opts, api, pipeline, fakeConsumer{})
	}()

	httpAddr := <-addrCh

	for _, path := range []string{"/swagger.json", "/healthz"} {
		resp, err := http.Get("http://" + httpAddr + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, err := http.Get("http://" + httpAddr + "/loads")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting server to stop")
	}
}

func TestRunFreightAPI_SwaggerMissing(t *testing.T) {
	api, pipeline, _ := newTestAPI(t)
	opts := freightAPIOpts{httpAddr: "127.0.0.1:0", swaggerPath: filepath.Join(t.TempDir(), "nope.json")}
	err := runFreightAPI(context.Background(), opts, api, pipeline, nil)
	require.ErrorContains(t, err, "swagger file not found")
}

func TestRunFreightAPI_ConsumerFailureStops(t *testing.T) {
	api, pipeline, _ := newTestAPI(t)
	opts := freightAPIOpts{httpAddr: "127.0.0.1:0", swaggerPath: writeSwagger(t)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	boom := errors.New("broker gone")
	err := runFreightAPI(ctx, opts, api, pipeline, fakeConsumer{err: boom})
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "location consumer")
}

type brokenSamples struct {
	*memstore.Store
}

func (brokenSamples) InsertSample(context.Context, *models.LocationSample) error {
	return errors.New("disk full")
}

func TestLocationHandler(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	handle := locationHandler(tracking.NewPipeline(st, nil, time.Minute))

	require.NoError(t, handle(ctx, []byte("L1"), []byte(`{"load_id":"L1","carrier_id":"C1","latitude":41.8,"longitude":-87.6,"recorded_at":"2026-03-01T13:59:00Z"}`)))
	require.Equal(t, 1, st.CountSamples("L1"))

	// malformed and invalid messages are skipped
	require.NoError(t, handle(ctx, []byte("L1"), []byte(`{not json`)))
	require.NoError(t, handle(ctx, []byte("L1"), []byte(`{"load_id":"L1","carrier_id":"C1","latitude":91,"longitude":0,"recorded_at":"2026-03-01T13:59:00Z"}`)))
	require.NoError(t, handle(ctx, []byte("L1"), []byte(`{"load_id":"L1","latitude":1,"longitude":1,"recorded_at":"2026-03-01T13:59:00Z"}`)))
	require.NoError(t, handle(ctx, []byte("L1"), []byte(`{"load_id":"L1","carrier_id":"C1","latitude":1,"longitude":1}`)))
	require.Equal(t, 1, st.CountSamples("L1"))

	broken := locationHandler(tracking.NewPipeline(brokenSamples{st}, nil, time.Minute))
	require.Error(t, broken(ctx, []byte("L1"), []byte(`{"load_id":"L1","carrier_id":"C1","latitude":1,"longitude":1,"recorded_at":"2026-03-01T13:59:00Z"}`)))
}
