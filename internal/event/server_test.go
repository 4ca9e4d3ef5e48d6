package event

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskflow/internal/eventbus"
)

func TestStreamEvents_FiltersAndFrames(t *testing.T) {
	bus := eventbus.New()
	r := chi.NewRouter()
	NewServer(bus).Mount(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?type=job.failed&project_id=p1", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The subscription exists once headers are flushed.
	bus.PublishNew(eventbus.EventJobSucceeded, "job-skip", nil)
	bus.PublishNew(eventbus.EventJobFailed, "job-other-project", map[string]string{"project_id": "p2"})
	bus.PublishNew(eventbus.EventJobFailed, "job-1", map[string]string{"workflow_id": "wf"})

	reader := bufio.NewReader(resp.Body)
	var frame []string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			break
		}
		frame = append(frame, line)
	}
	require.Len(t, frame, 3)
	assert.True(t, strings.HasPrefix(frame[0], "id: "))
	assert.Equal(t, "event: job.failed", frame[1])

	var ev eventbus.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame[2], "data: ")), &ev))
	assert.Equal(t, "job-1", ev.ResourceID)
	assert.Equal(t, "wf", ev.Metadata["workflow_id"])
}
