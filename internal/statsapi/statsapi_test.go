// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package statsapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"sentryline.dev/ipsentry/internal/worker"
)

type fakeProvider struct {
	stats []worker.Stats
}

func (f *fakeProvider) Stats() []worker.Stats { return f.stats }

func (f *fakeProvider) StatsForQueue(queueID int) (worker.Stats, bool) {
	for _, st := range f.stats {
		if st.QueueID == queueID {
			return st, true
		}
	}
	return worker.Stats{}, false
}

func TestHandleHealth(t *testing.T) {
	srv := httptest.NewServer(NewServer(&fakeProvider{}).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
	require.Contains(t, body, "uptime")
}

func TestHandleStats_AggregatesAcrossQueues(t *testing.T) {
	provider := &fakeProvider{stats: []worker.Stats{
		{QueueID: 0, PacketsProcessed: 10, PacketsDropped: 2, PacketsAccepted: 8, ActiveFlows: 1},
		{QueueID: 1, PacketsProcessed: 5, PacketsDropped: 1, PacketsAccepted: 4, ActiveFlows: 2},
	}}
	srv := httptest.NewServer(NewServer(provider).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body aggregateStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.EqualValues(t, 15, body.PacketsProcessed)
	require.EqualValues(t, 3, body.PacketsDropped)
	require.EqualValues(t, 12, body.PacketsAccepted)
	require.Equal(t, 3, body.ActiveFlows)
	require.Len(t, body.Workers, 2)
	require.Contains(t, body.Workers, "queue_0")
	require.Contains(t, body.Workers, "queue_1")
}

func TestHandleStatsForQueue_FoundAndNotFound(t *testing.T) {
	provider := &fakeProvider{stats: []worker.Stats{{QueueID: 3, PacketsProcessed: 7}}}
	srv := httptest.NewServer(NewServer(provider).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats/3")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var found queueStatsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&found))
	require.EqualValues(t, 7, found.PacketsProcessed)

	resp2, err := http.Get(srv.URL + "/stats/99")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestHandleStatsForQueue_InvalidID(t *testing.T) {
	srv := httptest.NewServer(NewServer(&fakeProvider{}).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats/not-a-number")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint_ExposesPrometheusFormat(t *testing.T) {
	provider := &fakeProvider{stats: []worker.Stats{{QueueID: 0, PacketsProcessed: 42}}}
	srv := httptest.NewServer(NewServer(provider).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
