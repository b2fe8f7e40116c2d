package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/faeln1/membersync/internal/domain/member"
	"github.com/faeln1/membersync/pkg/webhooksig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedPost struct {
	header http.Header
	body   []byte
}

func captureServer(t *testing.T, status int) (*httptest.Server, chan capturedPost) {
	t.Helper()
	posts := make(chan capturedPost, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		posts <- capturedPost{header: r.Header.Clone(), body: body}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, posts
}

func TestMemberEventsDispatcherSignsAndPosts(t *testing.T) {
	srv, posts := captureServer(t, http.StatusNoContent)
	d := NewMemberEventsDispatcher(srv.URL, "downstream-token", testSecret, time.Second, nil)

	events := []member.ChangeEvent{{TenantID: "biz_1", Action: member.OutcomeCreated, MemberID: "u1", EventKind: "membership.went_valid"}}
	require.NoError(t, d.Dispatch(context.Background(), events))

	post := <-posts
	assert.Equal(t, "Bearer downstream-token", post.header.Get("Authorization"))

	v, err := webhooksig.NewVerifier(testSecret, time.Minute)
	require.NoError(t, err)
	require.NoError(t, v.Verify(post.header, post.body))

	var got []member.ChangeEvent
	require.NoError(t, json.Unmarshal(post.body, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].MemberID)
	assert.Equal(t, member.OutcomeCreated, got[0].Action)
}

func TestMemberEventsDispatcherReportsFailures(t *testing.T) {
	srv, _ := captureServer(t, http.StatusBadGateway)
	d := NewMemberEventsDispatcher(srv.URL, "", "", time.Second, nil)
	err := d.Dispatch(context.Background(), []member.ChangeEvent{{MemberID: "u1"}})
	assert.Error(t, err)
}

func TestMemberEventsDispatcherGivesUpOnSlowReceiver(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	d := NewMemberEventsDispatcher(srv.URL, "", "", 50*time.Millisecond, nil)
	started := time.Now()
	err := d.Dispatch(context.Background(), []member.ChangeEvent{{MemberID: "u1"}})
	assert.Error(t, err)
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestMemberEventsDispatcherWithoutURL(t *testing.T) {
	d := NewMemberEventsDispatcher("", "", "", 0, nil)
	assert.NoError(t, d.Dispatch(context.Background(), []member.ChangeEvent{{MemberID: "u1"}}))
}

func TestHandleForwardsChanges(t *testing.T) {
	srv, posts := captureServer(t, http.StatusOK)
	f := newWebhookFixture(t, false, nil)
	f.svc.forwarder = NewMemberEventsDispatcher(srv.URL, "", "", time.Second, nil)

	body := `{"action":"membership.went_valid","data":{"company_id":"biz_1","user_id":"u1"}}`
	_, err := f.svc.Handle(context.Background(), WebhookRequest{Body: []byte(body)})
	require.NoError(t, err)

	post := <-posts
	var got []member.ChangeEvent
	require.NoError(t, json.Unmarshal(post.body, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "biz_1", got[0].TenantID)
	assert.Equal(t, member.OutcomeCreated, got[0].Action)

	// an ignored update is not forwarded
	_, err = f.svc.Handle(context.Background(), WebhookRequest{Body: []byte(`{"action":"membership.updated","data":{"company_id":"biz_1","user_id":"ghost"}}`)})
	require.NoError(t, err)
	assert.Len(t, posts, 0)
}
