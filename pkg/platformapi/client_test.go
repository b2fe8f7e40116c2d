package platformapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMembershipUnwrapsData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/memberships/mem_1", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":"mem_1","custom_fields":{"q1":"a"}}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "key", time.Second)
	doc, err := c.Membership(context.Background(), "mem_1")
	require.NoError(t, err)
	assert.Equal(t, "mem_1", doc["id"])
}

func TestMemberPlainObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"user_1","email":"a@example.com"}`))
	}))
	defer srv.Close()

	doc, err := New(srv.URL, "", time.Second).Member(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", doc["email"])
}

func TestFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/members/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/members/broken":
			_, _ = w.Write([]byte(`not json`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second)
	_, err := c.Member(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Member(context.Background(), "broken")
	assert.Error(t, err)

	_, err = c.Member(context.Background(), "other")
	assert.Error(t, err)
}
