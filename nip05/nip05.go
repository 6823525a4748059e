// Package nip05 checks "name@domain" identifiers against the domain's
// /.well-known/nostr.json.
package nip05

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"fiatjaf.com/nostrbus"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigFastest

var identifierRegex = regexp.MustCompile(`^(?:([\w.+-]+)@)?([\w_-]+(\.[\w_-]+)+)$`)

var ErrMismatch = errors.New("identifier points to another key")

type WellKnownResponse struct {
	Names  map[string]string   `json:"names"`
	Relays map[string][]string `json:"relays,omitempty"`
}

func IsValidIdentifier(input string) bool {
	return identifierRegex.MatchString(input)
}

// ParseIdentifier splits an identifier; a bare domain means the name "_".
func ParseIdentifier(fullname string) (name string, domain string, err error) {
	res := identifierRegex.FindStringSubmatch(fullname)
	if len(res) == 0 {
		return "", "", fmt.Errorf("invalid identifier '%s'", fullname)
	}
	if res[1] == "" {
		res[1] = "_"
	}
	return strings.ToLower(res[1]), res[2], nil
}

// Resolver fetches nostr.json documents.
type Resolver struct {
	HTTPClient *http.Client

	// BaseURL overrides "https://<domain>", for tests.
	BaseURL func(domain string) string
}

var defaultClient = &http.Client{
	Timeout: 10 * time.Second,
	// redirects are forbidden
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

// Query returns the key and relays an identifier points to.
func (r Resolver) Query(ctx context.Context, fullname string) (nostr.PubKey, []string, error) {
	name, domain, err := ParseIdentifier(fullname)
	if err != nil {
		return nostr.ZeroPK, nil, err
	}

	base := "https://" + domain
	if r.BaseURL != nil {
		base = r.BaseURL(domain)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/.well-known/nostr.json?name="+name, nil)
	if err != nil {
		return nostr.ZeroPK, nil, err
	}

	client := r.HTTPClient
	if client == nil {
		client = defaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return nostr.ZeroPK, nil, fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nostr.ZeroPK, nil, fmt.Errorf("%s answered %s", domain, res.Status)
	}

	var result WellKnownResponse
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nostr.ZeroPK, nil, fmt.Errorf("failed to decode json response: %w", err)
	}

	pkh, ok := result.Names[name]
	if !ok {
		return nostr.ZeroPK, nil, fmt.Errorf("no entry for name '%s'", name)
	}
	pk, err := nostr.PubKeyFromHex(pkh)
	if err != nil {
		return nostr.ZeroPK, nil, fmt.Errorf("got an invalid public key '%s'", pkh)
	}
	return pk, result.Relays[pkh], nil
}

// Verify checks that fullname points to pk.
func (r Resolver) Verify(ctx context.Context, fullname string, pk nostr.PubKey) error {
	got, _, err := r.Query(ctx, fullname)
	if err != nil {
		return err
	}
	if got != pk {
		return fmt.Errorf("%w: %s is %s", ErrMismatch, fullname, got.Hex())
	}
	return nil
}
