package nostr

import "github.com/puzpuzpuz/xsync/v3"

// MapOf is the concurrent map relays and pools keep their subscriptions, OK callbacks
// and connections in.
type MapOf[K comparable, V any] = xsync.MapOf[K, V]

func NewMapOf[K comparable, V any]() *MapOf[K, V] {
	return xsync.NewMapOf[K, V]()
}
