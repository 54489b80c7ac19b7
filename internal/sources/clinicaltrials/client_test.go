package clinicaltrials

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medscribe/reference-harvester/internal/domain"
	"github.com/medscribe/reference-harvester/internal/sources"
)

const studiesJSON = `{
  "studies": [
    {
      "protocolSection": {
        "identificationModule": {"nctId": "NCT01234567", "briefTitle": "Sublingual Immunotherapy for Grass Allergy"},
        "statusModule": {"overallStatus": "RECRUITING", "startDateStruct": {"date": "2024-03-15"}}
      }
    },
    {
      "protocolSection": {
        "identificationModule": {"nctId": "NCT07654321", "briefTitle": "Dust Mite Exposure Study"},
        "statusModule": {"overallStatus": "COMPLETED", "startDateStruct": {"date": "2022-11"}}
      }
    }
  ]
}`

func newTestTrialsClient(baseURL string) *Client {
	return New(Config{
		BaseURL:     baseURL,
		Enabled:     true,
		RateLimit:   100,
		BurstSize:   10,
		MaxAttempts: 1,
		RetryDelay:  time.Millisecond,
	}, zerolog.Nop())
}

func TestClient_Fetch(t *testing.T) {
	var receivedQuery, receivedPageSize string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/studies", r.URL.Path)
		receivedQuery = r.URL.Query().Get("query.cond")
		receivedPageSize = r.URL.Query().Get("pageSize")
		w.Write([]byte(studiesJSON))
	}))
	defer server.Close()

	client := newTestTrialsClient(server.URL)

	result, err := client.Fetch(context.Background(), sources.FetchParams{Query: "allergy", MaxResults: 5})
	require.NoError(t, err)
	assert.Equal(t, "allergy", receivedQuery)
	assert.Equal(t, "5", receivedPageSize)
	assert.Equal(t, domain.SourceTypeClinicalTrials, result.Source)

	require.Len(t, result.References, 2)

	first := result.References[0]
	assert.Equal(t, "NCT01234567", first.SourceID)
	assert.Equal(t, "Sublingual Immunotherapy for Grass Allergy", first.Title)
	assert.Equal(t, "https://clinicaltrials.gov/study/NCT01234567", first.URL)
	require.NotNil(t, first.Published)
	assert.Equal(t, time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC), *first.Published)

	// Trial records are title/date only.
	assert.Nil(t, first.AbstractText)
	assert.Nil(t, first.FullText)

	second := result.References[1]
	require.NotNil(t, second.Published)
	assert.Equal(t, time.Date(2022, time.November, 1, 0, 0, 0, 0, time.UTC), *second.Published)
}

func TestClient_Fetch_SwallowsErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestTrialsClient(server.URL)

	result, err := client.Fetch(context.Background(), sources.FetchParams{Query: "allergy"})
	require.NoError(t, err, "fetch failures degrade to an empty list")
	require.NotNil(t, result)
	assert.Empty(t, result.References)
}

func TestClient_Fetch_EmptyPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"studies": []}`))
	}))
	defer server.Close()

	client := newTestTrialsClient(server.URL)

	result, err := client.Fetch(context.Background(), sources.FetchParams{Query: "rare condition"})
	require.NoError(t, err)
	assert.Empty(t, result.References)
}

func TestClient_Fetch_Disabled(t *testing.T) {
	client := New(Config{Enabled: false}, zerolog.Nop())

	_, err := client.Fetch(context.Background(), sources.FetchParams{Query: "allergy"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
	assert.False(t, client.IsEnabled())
}

func TestParseStudyDate(t *testing.T) {
	tests := []struct {
		input    string
		expected *time.Time
	}{
		{"2024-03-15", timePtr(time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC))},
		{"2022-11", timePtr(time.Date(2022, time.November, 1, 0, 0, 0, 0, time.UTC))},
		{"2020", timePtr(time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC))},
		{"", nil},
		{"not a date", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseStudyDate(tt.input)
			if tt.expected == nil {
				assert.Nil(t, got)
			} else {
				require.NotNil(t, got)
				assert.Equal(t, *tt.expected, *got)
			}
		})
	}
}

func timePtr(t time.Time) *time.Time { return &t }
