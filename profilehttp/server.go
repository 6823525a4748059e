// Package profilehttp exposes the configured accounts' profiles over HTTP:
//
//	GET /nostr/{account}           public key and relays
//	GET /nostr/{account}/profile   stored profile
//	PUT /nostr/{account}/profile   merge, persist and publish a profile update
package profilehttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"fiatjaf.com/nostrbus"
	"fiatjaf.com/nostrbus/config"
	"fiatjaf.com/nostrbus/nip05"
	"fiatjaf.com/nostrbus/nip19"
	"fiatjaf.com/nostrbus/profile"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigFastest

// maxBody bounds PUT bodies; a profile is a few hundred bytes.
const maxBody = 64 << 10

type Server struct {
	Source  config.Source
	Channel string
	Pool    *nostr.Pool

	// PublishTimeout per relay, defaults to profile.DefaultTimeout.
	PublishTimeout time.Duration

	// AllowedOrigins for CORS, everything when empty.
	AllowedOrigins []string

	Logger *zerolog.Logger
}

type accountResponse struct {
	Account string   `json:"account"`
	PubKey  string   `json:"pubkey"`
	Npub    string   `json:"npub"`
	Relays  []string `json:"relays"`
}

type failureResponse struct {
	Relay string `json:"relay"`
	Error string `json:"error"`
}

type publishResponse struct {
	EventID   string            `json:"eventId"`
	CreatedAt int64             `json:"createdAt"`
	Successes []string          `json:"successes"`
	Failures  []failureResponse `json:"failures"`
}

type updateResponse struct {
	Profile jsoniter.RawMessage `json:"profile"`
	Publish publishResponse     `json:"publish"`
}

// Handler returns the routes wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /nostr/{account}", s.getAccount)
	mux.HandleFunc("GET /nostr/{account}/profile", s.getProfile)
	mux.HandleFunc("PUT /nostr/{account}/profile", s.putProfile)

	origins := s.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPut},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         600,
	}).Handler(mux)
}

func (s *Server) account(w http.ResponseWriter, r *http.Request) (config.Account, bool) {
	acc, err := config.ResolveAccount(s.Source, s.Channel, r.PathValue("account"))
	if errors.Is(err, config.ErrAccountNotFound) || (err == nil && !acc.Configured) {
		http.Error(w, "account not configured", http.StatusNotFound)
		return acc, false
	}
	if err != nil {
		s.logger().Warn().Err(err).Str("account", r.PathValue("account")).Msg("bad account config")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return acc, false
	}
	return acc, true
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.account(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		Account: acc.ID,
		PubKey:  acc.PublicKey.Hex(),
		Npub:    nip19.EncodeNpub(acc.PublicKey),
		Relays:  acc.Relays,
	})
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.account(w, r)
	if !ok {
		return
	}
	raw, _ := acc.Profile.MarshalJSON()
	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}

func (s *Server) putProfile(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.account(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var update nostr.Profile
	if err := update.UnmarshalJSON(body); err != nil {
		http.Error(w, "invalid profile: "+err.Error(), http.StatusBadRequest)
		return
	}

	if update.NIP05 != nil && *update.NIP05 != "" && !nip05.IsValidIdentifier(*update.NIP05) {
		http.Error(w, "invalid nip05 identifier", http.StatusBadRequest)
		return
	}

	merged := acc.Profile.Merge(update)
	if err := config.WriteProfile(s.Source, s.Channel, acc.ID, merged); err != nil {
		s.logger().Error().Err(err).Str("account", acc.ID).Msg("failed to store profile")
		http.Error(w, "failed to store profile", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	res, err := profile.Publish(ctx, s.Pool, acc.SecretKey, acc.Relays, merged, profile.Options{Timeout: s.PublishTimeout})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.logger().Info().Str("account", acc.ID).Int("ok", len(res.Successes)).Int("failed", len(res.Failures)).
		Msg("profile published")

	raw, _ := merged.MarshalJSON()
	writeJSON(w, http.StatusOK, updateResponse{Profile: raw, Publish: publishResultJSON(res)})
}

func publishResultJSON(res nostr.PublishResult) publishResponse {
	out := publishResponse{
		EventID:   res.EventID.Hex(),
		CreatedAt: int64(res.CreatedAt),
		Successes: res.Successes,
		Failures:  make([]failureResponse, len(res.Failures)),
	}
	for i, f := range res.Failures {
		out.Failures[i] = failureResponse{Relay: f.Relay, Error: f.Err.Error()}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func (s *Server) logger() *zerolog.Logger {
	if s.Logger == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return s.Logger
}
