// Package nip11 fetches relay information documents.
package nip11

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"fiatjaf.com/nostrbus"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigFastest

type RelayInformationDocument struct {
	URL string `json:"-"`

	Name          string            `json:"name"`
	Description   string            `json:"description"`
	PubKey        string            `json:"pubkey"`
	Contact       string            `json:"contact"`
	SupportedNIPs []any             `json:"supported_nips"`
	Software      string            `json:"software"`
	Version       string            `json:"version"`
	Limitation    *RelayLimitations `json:"limitation,omitempty"`
}

type RelayLimitations struct {
	MaxMessageLength int  `json:"max_message_length,omitempty"`
	MaxSubscriptions int  `json:"max_subscriptions,omitempty"`
	AuthRequired     bool `json:"auth_required,omitempty"`
	PaymentRequired  bool `json:"payment_required,omitempty"`
	RestrictedWrites bool `json:"restricted_writes,omitempty"`
}

// Supports reports whether nip is listed; relays write numbers or strings.
func (info RelayInformationDocument) Supports(nip int) bool {
	return slices.ContainsFunc(info.SupportedNIPs, func(v any) bool {
		switch n := v.(type) {
		case float64:
			return int(n) == nip
		case string:
			return n == fmt.Sprint(nip) || n == fmt.Sprintf("%02d", nip)
		}
		return false
	})
}

// Fetch fetches the NIP-11 metadata for a relay.
//
// It will always return info with at least URL filled, even when it also returns an error.
func Fetch(ctx context.Context, u string) (info RelayInformationDocument, err error) {
	return FetchWith(ctx, http.DefaultClient, u)
}

// FetchWith is Fetch with a custom HTTP client.
func FetchWith(ctx context.Context, client *http.Client, u string) (info RelayInformationDocument, err error) {
	u = nostr.NormalizeURL(u)
	info.URL = u
	if !nostr.IsValidRelayURL(u) {
		return info, fmt.Errorf("invalid url %s", u)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 7*time.Second)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http"+strings.TrimPrefix(u, "ws"), nil)
	if err != nil {
		return info, err
	}
	req.Header.Set("Accept", "application/nostr+json")

	resp, err := client.Do(req)
	if err != nil {
		return info, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return info, fmt.Errorf("relay answered %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return info, fmt.Errorf("invalid information document: %w", err)
	}
	info.URL = u
	return info, nil
}
