package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func TestAniListFollowsPagination(t *testing.T) {
	start := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	var pages []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req graphQLRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Query, "airingSchedules")
		assert.EqualValues(t, start.Unix(), req.Variables["start"])
		assert.EqualValues(t, end.Unix(), req.Variables["end"])
		assert.EqualValues(t, 2, req.Variables["perPage"])

		page := int(req.Variables["page"].(float64))
		pages = append(pages, page)
		hasNext := page == 1
		fmt.Fprintf(w, `{"data":{"Page":{"pageInfo":{"hasNextPage":%t},"airingSchedules":[
			{"id":%d,"airingAt":%d,"episode":%d,"media":{"id":%d,
				"title":{"romaji":"Show %d","english":null,"native":"番組"},
				"coverImage":{"extraLarge":"https://img/xl.jpg","large":"https://img/l.jpg"},
				"bannerImage":"https://img/banner.jpg","description":"<i>Story</i>",
				"genres":["Action"],"averageScore":81,"season":"SPRING","seasonYear":2026}},
			{"id":999,"airingAt":1,"episode":1,"media":null}
		]}}}`, hasNext, 100+page, start.Unix()+int64(page)*3600, page+4, 10+page, page)
	}))
	defer srv.Close()

	client := NewAniListClient(srv.URL, 2, 5, srv.Client())
	entries, err := client.FetchDay(context.Background(), start, end)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, pages)
	require.Len(t, entries, 2, "schedules without media are dropped")
	first := entries[0]
	assert.Equal(t, 101, first.ID)
	assert.Equal(t, 11, first.ShowID)
	assert.Equal(t, 5, first.Episode)
	assert.Equal(t, "Show 1", first.Titles.Romaji)
	assert.Empty(t, first.Titles.English)
	assert.Equal(t, "https://img/xl.jpg", first.Images.CoverExtraLarge)
	assert.Equal(t, "https://img/banner.jpg", first.Images.Banner)
	assert.Equal(t, 81, first.AverageScore)
	assert.Equal(t, "SPRING", first.Season)
	assert.Equal(t, "nyaa:11:5", first.Key())
}

func TestAniListPageCap(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"data":{"Page":{"pageInfo":{"hasNextPage":true},"airingSchedules":[]}}}`)
	}))
	defer srv.Close()

	client := NewAniListClient(srv.URL, 50, 3, srv.Client())
	_, err := client.FetchDay(context.Background(), time.Unix(0, 0), time.Unix(86400, 0))
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestAniListGraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"data":null,"errors":[{"message":"Invalid token","status":400}]}`)
	}))
	defer srv.Close()

	client := NewAniListClient(srv.URL, 50, 3, srv.Client())
	_, err := client.FetchDay(context.Background(), time.Unix(0, 0), time.Unix(86400, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid token")
}
