package nostr

import (
	"bytes"
	"context"
	stdjson "encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"golang.org/x/net/websocket"
)

func TestPublish(t *testing.T) {
	// test note to be sent over websocket
	priv, pub := makeKeyPair(t)
	textNote := Event{
		Kind:      KindTextNote,
		Content:   "hello",
		CreatedAt: Timestamp(1672068534), // random fixed timestamp
		Tags:      Tags{[]string{"foo", "bar"}},
		PubKey:    pub,
	}
	err := textNote.Sign(priv)
	require.NoError(t, err)

	// fake relay server
	var mu sync.Mutex // guards published to satisfy go test -race
	var published bool
	ws := newWebsocketServer(func(conn *websocket.Conn) {
		mu.Lock()
		published = true
		mu.Unlock()
		// verify the client sent exactly the textNote
		var raw []stdjson.RawMessage
		err := websocket.JSON.Receive(conn, &raw)
		require.NoError(t, err)

		event := parseEventMessage(t, raw)
		require.True(t, bytes.Equal(event.Serialize(), textNote.Serialize()))

		// send back an ok nip-20 command result
		res := []any{"OK", textNote.ID, true, ""}
		err = websocket.JSON.Send(conn, res)
		require.NoError(t, err)
		io.ReadAll(conn)
	})
	defer ws.Close()

	// connect a client and send the text note
	rl := mustRelayConnect(t, ws.URL)
	defer rl.Close()
	err = rl.Publish(context.Background(), textNote)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.True(t, published, "fake relay server saw no event")
}

func TestPublishBlocked(t *testing.T) {
	// test note to be sent over websocket
	textNote := Event{Kind: KindTextNote, Content: "hello"}
	textNote.ID = textNote.GetID()

	// fake relay server
	ws := newWebsocketServer(func(conn *websocket.Conn) {
		// discard received message; not interested
		var raw []stdjson.RawMessage
		err := websocket.JSON.Receive(conn, &raw)
		require.NoError(t, err)

		// send back a not ok nip-20 command result
		res := []any{"OK", textNote.ID, false, "blocked: no"}
		websocket.JSON.Send(conn, res)
		io.ReadAll(conn)
	})
	defer ws.Close()

	// connect a client and send a text note
	rl := mustRelayConnect(t, ws.URL)
	defer rl.Close()
	err := rl.Publish(context.Background(), textNote)
	require.ErrorIs(t, err, ErrRejected)
	require.Contains(t, err.Error(), "blocked: no")
}

func TestPublishTimeout(t *testing.T) {
	textNote := Event{Kind: KindTextNote, Content: "hello"}
	textNote.ID = textNote.GetID()

	// a relay that never answers
	ws := newWebsocketServer(func(conn *websocket.Conn) {
		io.ReadAll(conn)
	})
	defer ws.Close()

	rl := mustRelayConnect(t, ws.URL)
	defer rl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := rl.Publish(ctx, textNote)
	require.ErrorIs(t, err, ErrTimeout)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestPublishWriteFailed(t *testing.T) {
	// test note to be sent over websocket
	textNote := Event{Kind: KindTextNote, Content: "hello"}
	textNote.ID = textNote.GetID()

	// fake relay server
	ws := newWebsocketServer(func(conn *websocket.Conn) {
		// reject receive - force send error
		conn.Close()
	})
	defer ws.Close()

	// connect a client and send a text note
	rl := mustRelayConnect(t, ws.URL)
	// Force brief period of time so that publish always fails on closed socket.
	time.Sleep(50 * time.Millisecond)
	err := rl.Publish(context.Background(), textNote)
	require.Error(t, err)
}

func TestConnectContext(t *testing.T) {
	// fake relay server
	var mu sync.Mutex // guards connected to satisfy go test -race
	var connected bool
	ws := newWebsocketServer(func(conn *websocket.Conn) {
		mu.Lock()
		connected = true
		mu.Unlock()
		io.ReadAll(conn) // discard all input
	})
	defer ws.Close()

	// relay client
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	r, err := RelayConnect(ctx, ws.URL, RelayOptions{})
	require.NoError(t, err)
	require.Equal(t, StateOpen, r.State())

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	require.Eventually(t, func() bool { return r.State() == StateClosed }, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.True(t, connected, "fake relay server saw no client connect")
}

func TestConnectContextCanceled(t *testing.T) {
	// fake relay server
	ws := newWebsocketServer(func(conn *websocket.Conn) {
		io.ReadAll(conn) // discard all input
	})
	defer ws.Close()

	// relay client
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // make ctx expired
	r, err := RelayConnect(ctx, ws.URL, RelayOptions{})
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, ErrConnectionFailed)
	require.Equal(t, StateFailed, r.State())
}

func TestConnectRefused(t *testing.T) {
	ws := newWebsocketServer(func(conn *websocket.Conn) {})
	url := ws.URL
	ws.Close()

	r, err := RelayConnect(context.Background(), url, RelayOptions{})
	require.ErrorIs(t, err, ErrConnectionFailed)
	require.Equal(t, StateFailed, r.State())

	// a relay is never reopened
	err = r.Connect(context.Background())
	require.ErrorIs(t, err, ErrConnectionFailed)
}

func TestSubscribeOrderAndEOSE(t *testing.T) {
	priv, pub := makeKeyPair(t)
	stored := make([]Event, 5)
	for i := range stored {
		stored[i] = Event{Kind: KindTextNote, Content: "stored", CreatedAt: Timestamp(1000 + i)}
		require.NoError(t, stored[i].Sign(priv))
	}
	live := Event{Kind: KindTextNote, Content: "live", CreatedAt: 2000}
	require.NoError(t, live.Sign(priv))

	ws := newWebsocketServer(func(conn *websocket.Conn) {
		var raw []stdjson.RawMessage
		require.NoError(t, websocket.JSON.Receive(conn, &raw))
		subid, filter := parseSubscriptionMessage(t, raw)
		require.Equal(t, int64(1), filter.Get("kinds.0").Int())
		require.Equal(t, pub.Hex(), filter.Get("authors.0").String())

		for _, evt := range stored {
			websocket.JSON.Send(conn, []any{"EVENT", subid, evt})
		}
		websocket.JSON.Send(conn, []any{"EOSE", subid})
		websocket.JSON.Send(conn, []any{"EVENT", subid, live})
		io.ReadAll(conn)
	})
	defer ws.Close()

	rl := mustRelayConnect(t, ws.URL)
	defer rl.Close()

	sub, err := rl.Subscribe(context.Background(), Filter{Kinds: []Kind{KindTextNote}, Authors: []PubKey{pub}}, SubscriptionOptions{Label: "test"})
	require.NoError(t, err)
	defer sub.Unsub()

	for i := range stored {
		select {
		case evt := <-sub.Events:
			require.Equal(t, stored[i].ID, evt.ID)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for stored event")
		}
	}

	select {
	case <-sub.EndOfStoredEvents:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for eose")
	}

	select {
	case evt := <-sub.Events:
		require.Equal(t, live.ID, evt.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for live event")
	}
}

func TestSubscribeDropsInvalidEvents(t *testing.T) {
	priv, _ := makeKeyPair(t)
	good := Event{Kind: KindTextNote, Content: "good", CreatedAt: 1000}
	require.NoError(t, good.Sign(priv))
	forged := good
	forged.Content = "forged"

	ws := newWebsocketServer(func(conn *websocket.Conn) {
		var raw []stdjson.RawMessage
		require.NoError(t, websocket.JSON.Receive(conn, &raw))
		subid, _ := parseSubscriptionMessage(t, raw)
		websocket.JSON.Send(conn, []any{"EVENT", subid, forged})
		websocket.JSON.Send(conn, []any{"EVENT", subid, good})
		io.ReadAll(conn)
	})
	defer ws.Close()

	invalid := make(chan Event, 1)
	rl, err := RelayConnect(context.Background(), ws.URL, RelayOptions{
		InvalidEventHandler: func(relay string, evt Event) { invalid <- evt },
	})
	require.NoError(t, err)
	defer rl.Close()

	seen := 0
	sub, err := rl.Subscribe(context.Background(), Filter{Kinds: []Kind{KindTextNote}}, SubscriptionOptions{
		CheckDuplicate: func(id ID, relay string) bool {
			seen++
			return false
		},
	})
	require.NoError(t, err)

	select {
	case evt := <-sub.Events:
		require.Equal(t, "good", evt.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	require.Equal(t, "forged", (<-invalid).Content)
	// the forged copy never reached the duplicate check
	require.Equal(t, 1, seen)
}

func TestSubscriptionEndsWithConnection(t *testing.T) {
	ready := make(chan struct{})
	ws := newWebsocketServer(func(conn *websocket.Conn) {
		var raw []stdjson.RawMessage
		require.NoError(t, websocket.JSON.Receive(conn, &raw))
		close(ready)
		conn.Close()
	})
	defer ws.Close()

	rl := mustRelayConnect(t, ws.URL)
	sub, err := rl.Subscribe(context.Background(), Filter{Kinds: []Kind{KindTextNote}}, SubscriptionOptions{})
	require.NoError(t, err)
	<-ready

	select {
	case _, ok := <-sub.Events:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel was not closed")
	}
	require.ErrorIs(t, context.Cause(sub.Context), ErrDisconnected)
	require.Eventually(t, func() bool { return rl.State() == StateClosed }, time.Second, 10*time.Millisecond)
}

func TestClosedFromRelay(t *testing.T) {
	ws := newWebsocketServer(func(conn *websocket.Conn) {
		var raw []stdjson.RawMessage
		require.NoError(t, websocket.JSON.Receive(conn, &raw))
		subid, _ := parseSubscriptionMessage(t, raw)
		websocket.JSON.Send(conn, []any{"CLOSED", subid, "error: go away"})
		io.ReadAll(conn)
	})
	defer ws.Close()

	rl := mustRelayConnect(t, ws.URL)
	defer rl.Close()
	sub, err := rl.Subscribe(context.Background(), Filter{Kinds: []Kind{KindTextNote}}, SubscriptionOptions{})
	require.NoError(t, err)

	select {
	case reason := <-sub.ClosedReason:
		require.Equal(t, "error: go away", reason)
	case <-time.After(2 * time.Second):
		t.Fatal("no CLOSED reason")
	}
	<-sub.Context.Done()
}

func TestAuthChallengeBeforeConnectReturns(t *testing.T) {
	sk, pk := makeKeyPair(t)
	answers := make(chan Event, 1)
	ws := newWebsocketServer(func(conn *websocket.Conn) {
		// challenge as soon as the socket is up
		websocket.JSON.Send(conn, []any{"AUTH", "c-1"})
		var raw []stdjson.RawMessage
		if err := websocket.JSON.Receive(conn, &raw); err != nil || len(raw) < 2 {
			return
		}
		var evt Event
		if err := json.Unmarshal(raw[1], &evt); err != nil {
			return
		}
		answers <- evt
		websocket.JSON.Send(conn, []any{"OK", evt.ID, true, ""})
		io.ReadAll(conn)
	})
	defer ws.Close()

	rl, err := RelayConnect(context.Background(), ws.URL, RelayOptions{
		AuthSigner: func(ctx context.Context, evt *Event) error { return evt.Sign(sk) },
	})
	require.NoError(t, err)
	defer rl.Close()

	select {
	case evt := <-answers:
		require.Equal(t, KindClientAuthentication, evt.Kind)
		require.Equal(t, pk, evt.PubKey)
		require.NotNil(t, evt.Tags.FindWithValue("challenge", "c-1"))
		require.NotNil(t, evt.Tags.FindWithValue("relay", rl.URL))
		require.True(t, evt.Verify())
	case <-time.After(2 * time.Second):
		t.Fatal("challenge not answered")
	}

	select {
	case <-rl.Authenticated():
	case <-time.After(2 * time.Second):
		t.Fatal("never authenticated")
	}
}

func newWebsocketServer(handler func(*websocket.Conn)) *httptest.Server {
	return httptest.NewServer(&websocket.Server{
		Handshake: anyOriginHandshake,
		Handler:   handler,
	})
}

// anyOriginHandshake is an alternative to default in golang.org/x/net/websocket
// which checks for origin. nostr client sends no origin and it makes no difference
// for the tests here anyway.
var anyOriginHandshake = func(conf *websocket.Config, r *http.Request) error {
	return nil
}

func makeKeyPair(t *testing.T) (SecretKey, PubKey) {
	t.Helper()

	privkey := Generate()
	pubkey := GetPublicKey(privkey)

	return privkey, pubkey
}

func mustRelayConnect(t *testing.T, url string) *Relay {
	t.Helper()

	rl, err := RelayConnect(context.Background(), url, RelayOptions{})
	require.NoError(t, err)

	return rl
}

func parseEventMessage(t *testing.T, raw []stdjson.RawMessage) Event {
	t.Helper()

	require.Condition(t, func() (success bool) {
		return len(raw) >= 2
	})

	var typ string
	err := json.Unmarshal(raw[0], &typ)
	require.NoError(t, err)
	require.Equal(t, "EVENT", typ)

	var event Event
	err = json.Unmarshal(raw[1], &event)
	require.NoError(t, err)

	return event
}

func parseSubscriptionMessage(t *testing.T, raw []stdjson.RawMessage) (subid string, filter gjson.Result) {
	t.Helper()

	require.GreaterOrEqual(t, len(raw), 3)

	var typ string
	err := json.Unmarshal(raw[0], &typ)

	require.NoError(t, err)
	require.Equal(t, "REQ", typ)

	var id string
	err = json.Unmarshal(raw[1], &id)
	require.NoError(t, err)

	return id, gjson.ParseBytes(raw[2])
}
