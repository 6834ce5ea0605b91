package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"AegisNet/internal/config"
	"AegisNet/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func events(ports ...float64) []model.IngestEvent {
	out := make([]model.IngestEvent, len(ports))
	for i, p := range ports {
		out[i] = model.IngestEvent{
			Meta:     model.FlowMeta{AgentID: "a1", SrcIP: "10.0.0.5", DstIP: "10.0.0.9"},
			Features: model.FeatureVector{model.FeatureDstPort: p},
		}
	}
	return out
}

func TestHTTPSink_Deliver(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/ingest", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var ev model.IngestEvent
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		switch ev.Features[model.FeatureDstPort] {
		case 500:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 422:
			w.WriteHeader(http.StatusUnprocessableEntity)
		case 999:
			time.Sleep(200 * time.Millisecond)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	s, err := NewHTTPSink(config.HTTPSinkConfig{URL: srv.URL + "/ingest", Timeout: 50 * time.Millisecond}, discard())
	require.NoError(t, err)
	defer s.Close()

	errs := s.Deliver(context.Background(), events(443, 500, 422, 999, 80))
	require.Len(t, errs, 5)
	assert.NoError(t, errs[0])
	assert.True(t, errors.Is(errs[1], model.ErrTransient))
	assert.True(t, errors.Is(errs[2], model.ErrMalformed))
	assert.True(t, errors.Is(errs[3], model.ErrTransient), "timeout")
	assert.NoError(t, errs[4])
	assert.Equal(t, int32(5), hits.Load())
}

func TestHTTPSink_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s, err := NewHTTPSink(config.HTTPSinkConfig{URL: url}, discard())
	require.NoError(t, err)
	errs := s.Deliver(context.Background(), events(1, 2))
	for _, err := range errs {
		assert.True(t, errors.Is(err, model.ErrTransient))
	}

	_, err = NewHTTPSink(config.HTTPSinkConfig{}, discard())
	assert.Error(t, err)
}

type fakePublisher struct {
	published []model.IngestEvent
	failPort  float64
	flushErr  error
}

func (p *fakePublisher) Publish(ev model.IngestEvent) error {
	if ev.Features[model.FeatureDstPort] == p.failPort {
		return model.ErrTransient
	}
	p.published = append(p.published, ev)
	return nil
}

func (p *fakePublisher) Flush(time.Duration) error { return p.flushErr }
func (p *fakePublisher) Close() error              { return nil }

func TestNATSSink_Deliver(t *testing.T) {
	pub := &fakePublisher{failPort: 22}
	s := NewNATSSink(pub)
	assert.Equal(t, "nats", s.Name())

	errs := s.Deliver(context.Background(), events(80, 22, 443))
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], model.ErrTransient)
	assert.NoError(t, errs[2])
	assert.Len(t, pub.published, 2)

	pub.flushErr = errors.New("flush timeout")
	errs = s.Deliver(context.Background(), events(80))
	assert.EqualError(t, errs[0], "flush timeout")
}
