package handlers_test

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/domain/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvent(t *testing.T, reader *bufio.Reader) (string, string) {
	t.Helper()
	var eventType, data string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "":
			return eventType, data
		}
	}
}

func TestSSEHandler_StreamPolicyEvents(t *testing.T) {
	s := newTestServer(t)
	server := httptest.NewServer(s.handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/stream/policies/pol_0123456789ab", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	eventType, data := readEvent(t, reader)
	assert.Equal(t, "connected", eventType)
	assert.Contains(t, data, "pol_0123456789ab")

	event := entities.NewPipelineEvent(entities.PipelineEventStageCompleted, "pol_0123456789ab")
	event.Stage = entities.StageTextExtraction
	require.NoError(t, s.bus.Publish(ctx, providers.GetPolicyChannel("pol_0123456789ab"), event))

	eventType, data = readEvent(t, reader)
	assert.Equal(t, string(entities.PipelineEventStageCompleted), eventType)
	assert.Contains(t, data, `"stage":"text_extraction"`)
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/health", "/api/v1/health"} {
		rec := s.do(t, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"healthy","app_name":"CivicLens AI","version":"0.1.0","environment":"test"}`, rec.Body.String())
	}
}
