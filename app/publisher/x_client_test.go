package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/lysyi3m/stoa/app/model"
)

type recordedRequest struct {
	auth string
	body tweetRequest
}

type fakeX struct {
	mu       sync.Mutex
	requests []recordedRequest
	failAt   int
}

func (f *fakeX) handler(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Method != http.MethodPost || r.URL.Path != "/2/tweets" {
		http.NotFound(w, r)
		return
	}

	var body tweetRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.requests = append(f.requests, recordedRequest{auth: r.Header.Get("Authorization"), body: body})

	if f.failAt > 0 && len(f.requests) == f.failAt {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"title":"Forbidden","detail":"You are not permitted to perform this action."}`)
		return
	}

	w.WriteHeader(http.StatusCreated)
	fmt.Fprintf(w, `{"data":{"id":"%d","text":%q}}`, 1000+len(f.requests), body.Text)
}

func newTestClient(t *testing.T, fake *fakeX) *XClient {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(server.Close)
	return NewXClient(XConfig{BaseURL: server.URL + "/2", AccessToken: "secret", UserAgent: "stoa-test"})
}

func TestPublishSingle(t *testing.T) {
	fake := &fakeX{}
	client := newTestClient(t, fake)

	id, err := client.Publish(context.Background(), Publication{
		PostID:   "p1",
		PostType: model.PostTypeOriginal,
		Segments: []string{"The best revenge is not to be like your enemy."},
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if id != "1001" {
		t.Errorf("Expected id 1001, got %s", id)
	}
	if len(fake.requests) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(fake.requests))
	}
	if fake.requests[0].auth != "Bearer secret" {
		t.Errorf("Expected bearer auth, got %q", fake.requests[0].auth)
	}
	if fake.requests[0].body.Reply != nil || fake.requests[0].body.QuoteTweetID != "" {
		t.Errorf("Expected a plain tweet, got %+v", fake.requests[0].body)
	}
}

func TestPublishThreadChainsReplies(t *testing.T) {
	fake := &fakeX{}
	client := newTestClient(t, fake)

	id, err := client.Publish(context.Background(), Publication{
		PostID:   "p2",
		PostType: model.PostTypeOriginal,
		Segments: []string{"1/ first", "2/ second", "3/ third"},
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if id != "1001" {
		t.Errorf("Expected the first segment id, got %s", id)
	}

	if len(fake.requests) != 3 {
		t.Fatalf("Expected 3 requests, got %d", len(fake.requests))
	}
	for i, parent := range []string{"1001", "1002"} {
		reply := fake.requests[i+1].body.Reply
		if reply == nil || reply.InReplyToTweetID != parent {
			t.Errorf("Segment %d should reply to %s, got %+v", i+2, parent, reply)
		}
	}
}

func TestPublishReplyAndQuote(t *testing.T) {
	fake := &fakeX{}
	client := newTestClient(t, fake)
	ctx := context.Background()

	if _, err := client.Publish(ctx, Publication{PostType: model.PostTypeReply, Segments: []string{"Indeed."}, TargetTweetID: "42"}); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Publish(ctx, Publication{PostType: model.PostTypeQuote, Segments: []string{"Worth reading."}, TargetTweetID: "43"}); err != nil {
		t.Fatal(err)
	}

	if r := fake.requests[0].body.Reply; r == nil || r.InReplyToTweetID != "42" {
		t.Errorf("Expected reply to 42, got %+v", r)
	}
	if q := fake.requests[1].body.QuoteTweetID; q != "43" {
		t.Errorf("Expected quote of 43, got %q", q)
	}
}

func TestPublishFailureIsPublisherFailure(t *testing.T) {
	fake := &fakeX{failAt: 2}
	client := newTestClient(t, fake)

	_, err := client.Publish(context.Background(), Publication{
		PostID:   "p3",
		Segments: []string{"one", "two"},
	})
	if !errors.Is(err, model.ErrPublisherFailure) {
		t.Fatalf("Expected ErrPublisherFailure, got %v", err)
	}
	if !strings.Contains(err.Error(), "not permitted") {
		t.Errorf("Expected API detail in error, got %v", err)
	}
	if !strings.Contains(err.Error(), "first id 1001") {
		t.Errorf("Expected the partial thread to be reported, got %v", err)
	}
}

func TestLogPublisher(t *testing.T) {
	id, err := NewLogPublisher().Publish(context.Background(), Publication{PostID: "p4", Segments: []string{"hello"}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(id, "dryrun-") {
		t.Errorf("Expected a dry run id, got %s", id)
	}
}
