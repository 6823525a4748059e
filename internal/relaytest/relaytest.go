// Package relaytest runs an in-process relay speaking enough NIP-01 for the bus tests:
// stored events answered to REQ followed by EOSE, live broadcast, OK for EVENT and
// connection drops on demand. Events are handled as raw JSON so this package doesn't
// depend on the protocol types it is used to test.
package relaytest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/tidwall/gjson"
	"golang.org/x/net/websocket"
)

// Mode is how the relay answers EVENT messages.
type Mode int

const (
	// Accept stores the event and answers OK true.
	Accept Mode = iota
	// Reject answers OK false with a "blocked:" reason.
	Reject
	// Silent never answers.
	Silent
)

type client struct {
	conn      *websocket.Conn
	challenge string
	authed    string // pubkey hex once AUTH was accepted

	mu   sync.Mutex // guards writes and subs
	subs map[string]gjson.Result
}

func (c *client) send(msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return websocket.JSON.Send(c.conn, msg)
}

// Relay is a fake relay listening on a local httptest server.
type Relay struct {
	URL    string
	server *httptest.Server

	mu          sync.Mutex
	mode        Mode
	requireAuth bool
	stored      []string
	received    []string
	clients     map[*client]struct{}
	connections int
}

// New starts a relay that is closed when the test ends.
func New(t testing.TB) *Relay {
	r := &Relay{clients: make(map[*client]struct{})}
	r.server = httptest.NewServer(&websocket.Server{
		// clients send no Origin
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   r.serve,
	})
	r.URL = "ws" + strings.TrimPrefix(r.server.URL, "http")
	t.Cleanup(r.Close)
	return r
}

// SetMode changes how subsequent EVENT messages are answered.
func (r *Relay) SetMode(m Mode) {
	r.mu.Lock()
	r.mode = m
	r.mu.Unlock()
}

// RequireAuth makes the relay send a NIP-42 challenge on connect and refuse REQs
// from clients that haven't answered it.
func (r *Relay) RequireAuth(on bool) {
	r.mu.Lock()
	r.requireAuth = on
	r.mu.Unlock()
}

// Authenticated returns the pubkeys that passed AUTH, one per connection.
func (r *Relay) Authenticated() []string {
	var out []string
	for _, c := range r.snapshot() {
		c.mu.Lock()
		if c.authed != "" {
			out = append(out, c.authed)
		}
		c.mu.Unlock()
	}
	return out
}

// Store adds an event that is served to every later matching REQ.
func (r *Relay) Store(evt []byte) {
	r.mu.Lock()
	r.stored = append(r.stored, string(evt))
	r.mu.Unlock()
}

// Broadcast stores evt and sends it to every open subscription it matches.
func (r *Relay) Broadcast(evt []byte) {
	r.Store(evt)
	raw := gjson.ParseBytes(evt)

	r.mu.Lock()
	clients := make([]*client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	for _, c := range clients {
		c.mu.Lock()
		ids := make([]string, 0, len(c.subs))
		for id, filter := range c.subs {
			if matches(filter, raw) {
				ids = append(ids, id)
			}
		}
		c.mu.Unlock()
		for _, id := range ids {
			c.send([]any{"EVENT", id, json.RawMessage(evt)})
		}
	}
}

// SendRaw writes an arbitrary message to every connected client.
func (r *Relay) SendRaw(msg any) {
	for _, c := range r.snapshot() {
		c.send(msg)
	}
}

// DropConnections closes every open connection; the server keeps accepting new ones.
func (r *Relay) DropConnections() {
	for _, c := range r.snapshot() {
		c.conn.Close()
	}
}

// Received returns the raw events published to this relay, in arrival order.
func (r *Relay) Received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.received...)
}

// Connections counts the websocket connections accepted so far.
func (r *Relay) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connections
}

// Subscriptions counts the subscriptions currently open over all connections.
func (r *Relay) Subscriptions() int {
	n := 0
	for _, c := range r.snapshot() {
		c.mu.Lock()
		n += len(c.subs)
		c.mu.Unlock()
	}
	return n
}

// Close drops every connection and stops the server.
func (r *Relay) Close() {
	r.DropConnections()
	r.server.Close()
}

func (r *Relay) snapshot() []*client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*client, 0, len(r.clients))
	for c := range r.clients {
		out = append(out, c)
	}
	return out
}

func (r *Relay) serve(conn *websocket.Conn) {
	c := &client{conn: conn, subs: make(map[string]gjson.Result)}

	r.mu.Lock()
	r.clients[c] = struct{}{}
	r.connections++
	requireAuth := r.requireAuth
	if requireAuth {
		c.challenge = fmt.Sprintf("challenge-%d", r.connections)
	}
	r.mu.Unlock()

	if requireAuth {
		c.send([]any{"AUTH", c.challenge})
	}

	defer func() {
		r.mu.Lock()
		delete(r.clients, c)
		r.mu.Unlock()
		conn.Close()
	}()

	for {
		var msg string
		if err := websocket.Message.Receive(conn, &msg); err != nil {
			return
		}

		arr := gjson.Parse(msg).Array()
		if len(arr) < 2 {
			continue
		}

		switch arr[0].String() {
		case "REQ":
			if len(arr) < 3 {
				continue
			}
			id := arr[1].String()
			filter := arr[2]
			c.mu.Lock()
			if c.challenge != "" && c.authed == "" {
				c.mu.Unlock()
				c.send([]any{"CLOSED", id, "auth-required: we only serve DMs to their recipients"})
				continue
			}
			c.subs[id] = filter
			c.mu.Unlock()

			r.mu.Lock()
			stored := append([]string(nil), r.stored...)
			r.mu.Unlock()
			for _, evt := range stored {
				if matches(filter, gjson.Parse(evt)) {
					c.send([]any{"EVENT", id, json.RawMessage(evt)})
				}
			}
			c.send([]any{"EOSE", id})
		case "AUTH":
			evt := arr[1]
			ok := evt.Get("kind").Int() == 22242
			challengeOK := false
			for _, tag := range evt.Get("tags").Array() {
				t := tag.Array()
				if len(t) >= 2 && t[0].String() == "challenge" && t[1].String() == c.challenge {
					challengeOK = true
				}
			}
			if ok && challengeOK {
				c.mu.Lock()
				c.authed = evt.Get("pubkey").String()
				c.mu.Unlock()
				c.send([]any{"OK", evt.Get("id").String(), true, ""})
			} else {
				c.send([]any{"OK", evt.Get("id").String(), false, "auth-required: bad challenge"})
			}
		case "CLOSE":
			c.mu.Lock()
			delete(c.subs, arr[1].String())
			c.mu.Unlock()
		case "EVENT":
			raw := arr[1].Raw
			id := arr[1].Get("id").String()

			r.mu.Lock()
			r.received = append(r.received, raw)
			mode := r.mode
			if mode == Accept {
				r.stored = append(r.stored, raw)
			}
			r.mu.Unlock()

			switch mode {
			case Accept:
				c.send([]any{"OK", id, true, ""})
			case Reject:
				c.send([]any{"OK", id, false, "blocked: not on the list"})
			}
		}
	}
}

// matches implements the subset of NIP-01 filters the bus uses: ids, authors, kinds,
// single letter tags and since/until.
func matches(filter gjson.Result, evt gjson.Result) bool {
	if ids := filter.Get("ids"); ids.Exists() && !contains(ids, evt.Get("id").String()) {
		return false
	}
	if authors := filter.Get("authors"); authors.Exists() && !contains(authors, evt.Get("pubkey").String()) {
		return false
	}
	if kinds := filter.Get("kinds"); kinds.Exists() {
		kind := evt.Get("kind").Int()
		found := false
		for _, k := range kinds.Array() {
			if k.Int() == kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if since := filter.Get("since"); since.Exists() && evt.Get("created_at").Int() < since.Int() {
		return false
	}
	if until := filter.Get("until"); until.Exists() && evt.Get("created_at").Int() > until.Int() {
		return false
	}

	ok := true
	filter.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if len(name) != 2 || name[0] != '#' {
			return true
		}
		found := false
		for _, tag := range evt.Get("tags").Array() {
			t := tag.Array()
			if len(t) >= 2 && t[0].String() == name[1:] && contains(value, t[1].String()) {
				found = true
				break
			}
		}
		ok = found
		return ok
	})
	return ok
}

func contains(list gjson.Result, s string) bool {
	for _, v := range list.Array() {
		if v.String() == s {
			return true
		}
	}
	return false
}
