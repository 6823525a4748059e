package nostr

import "errors"

var (
	// ErrInvalidKeyFormat is returned when a secret key can't be parsed or is out of range.
	ErrInvalidKeyFormat = errors.New("invalid key format")

	// ErrConnectionFailed wraps any failure to establish a websocket to a relay.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrTimeout is the cause set when a relay doesn't answer a publish in time.
	ErrTimeout = errors.New("timeout")

	// ErrRejected is returned when a relay answers an EVENT with OK=false.
	ErrRejected = errors.New("rejected")

	ErrVerificationFailed  = errors.New("verification failed")
	ErrDecryptionFailed    = errors.New("decryption failed")
	ErrPublishTotalFailure = errors.New("publish failed on all relays")
	ErrQuorumNotMet        = errors.New("publish quorum not met")

	// ErrClosed is returned by operations attempted after Close.
	ErrClosed = errors.New("closed")

	ErrDisconnected = errors.New("<disconnected>")
)
