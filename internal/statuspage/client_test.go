package statuspage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const snapshot = `{
  "page": {"id": "p1", "name": "Example"},
  "incidents": [
    {
      "id": "inc-1",
      "name": "Elevated API errors",
      "status": "identified",
      "impact": "major",
      "created_at": "2024-05-01T10:00:00.000Z",
      "updated_at": "2024-05-01T10:20:00.000Z",
      "started_at": "2024-05-01T09:58:00.000Z",
      "resolved_at": null,
      "shortlink": "https://stspg.io/abc",
      "incident_updates": [
        {"body": "Fix in progress", "status": "identified", "created_at": "2024-05-01T10:20:00.000Z", "display_at": "2024-05-01T10:20:00.000Z"},
        {"body": "Looking into it", "status": "investigating", "created_at": "2024-05-01T10:00:00.000Z", "display_at": "2024-05-01T10:00:00.000Z"}
      ],
      "components": [{"id": "c1", "name": "API", "status": "partial_outage"}]
    }
  ]
}`

func newFetcher(rt roundTripFunc) *Client {
	client := NewClient("https://status.example.com/api/v2/incidents.json", time.Second, "statuswatch-test")
	client.httpClient = newTestClient(rt)
	return client
}

func TestFetchIncidentsDecodesSnapshot(t *testing.T) {
	client := newFetcher(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "/api/v2/incidents.json", req.URL.Path)
		assert.Equal(t, "application/json", req.Header.Get("Accept"))
		assert.Equal(t, "statuswatch-test", req.Header.Get("User-Agent"))
		return respond(http.StatusOK, snapshot), nil
	})

	incidents, err := client.FetchIncidents(context.Background())
	require.NoError(t, err)
	require.Len(t, incidents, 1)

	inc := incidents[0]
	assert.Equal(t, "inc-1", inc.ID)
	assert.Equal(t, "major", inc.Impact)
	assert.Nil(t, inc.ResolvedAt)
	require.NotNil(t, inc.StartedAt)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 58, 0, 0, time.UTC), inc.Started().UTC())
	latest, ok := inc.LatestUpdate()
	require.True(t, ok)
	assert.Equal(t, "Fix in progress", latest.Body)
	assert.Equal(t, []string{"API"}, inc.ComponentNames())
}

func TestFetchIncidentsMissingArrayIsEmpty(t *testing.T) {
	client := newFetcher(func(*http.Request) (*http.Response, error) {
		return respond(http.StatusOK, `{"page": {}}`), nil
	})

	incidents, err := client.FetchIncidents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, incidents)
}

func TestFetchIncidentsFailures(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		body       string
		transport  error
		wantStatus int
	}{
		{name: "server error", status: http.StatusServiceUnavailable, body: "down", wantStatus: http.StatusServiceUnavailable},
		{name: "not found", status: http.StatusNotFound, body: "", wantStatus: http.StatusNotFound},
		{name: "html body", status: http.StatusOK, body: "<html></html>", wantStatus: http.StatusOK},
		{name: "incidents not array", status: http.StatusOK, body: `{"incidents": {"id": "x"}}`, wantStatus: http.StatusOK},
		{name: "incident without id", status: http.StatusOK, body: `{"incidents": [{"name": "x"}]}`, wantStatus: http.StatusOK},
		{name: "transport", transport: errors.New("dial tcp: connection refused")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newFetcher(func(*http.Request) (*http.Response, error) {
				if tc.transport != nil {
					return nil, tc.transport
				}
				return respond(tc.status, tc.body), nil
			})

			_, err := client.FetchIncidents(context.Background())
			require.Error(t, err)

			var fetchErr *FetchError
			require.ErrorAs(t, err, &fetchErr)
			assert.Equal(t, tc.wantStatus, fetchErr.StatusCode)
			if tc.wantStatus >= 400 {
				assert.Contains(t, err.Error(), http.StatusText(tc.status))
			}
		})
	}
}

func TestFetchIncidentsWithoutURL(t *testing.T) {
	_, err := NewClient("", time.Second, "").FetchIncidents(context.Background())
	var fetchErr *FetchError
	assert.ErrorAs(t, err, &fetchErr)
}

func ExampleFetchError() {
	err := &FetchError{URL: "https://status.example.com/api/v2/incidents.json", StatusCode: 502, Status: "502 Bad Gateway"}
	fmt.Println(err)
	// Output: fetch https://status.example.com/api/v2/incidents.json: 502 Bad Gateway
}
