package nostr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	id := "dc90c95f09947507c1044e8f48bcf6350aa6bff1507dd4acfc755b9239b5c962"

	testCases := []struct {
		name    string
		message string
		check   func(t *testing.T, env Envelope)
	}{
		{
			name:    "notice",
			message: `["NOTICE","rate limited"]`,
			check: func(t *testing.T, env Envelope) {
				require.Equal(t, "rate limited", string(*env.(*NoticeEnvelope)))
			},
		},
		{
			name:    "eose",
			message: `["EOSE","1:dm"]`,
			check: func(t *testing.T, env Envelope) {
				require.Equal(t, int64(1), subIdToSerial(string(*env.(*EOSEEnvelope))))
			},
		},
		{
			name:    "ok false",
			message: `["OK","` + id + `",false,"blocked: spam"]`,
			check: func(t *testing.T, env Envelope) {
				ok := env.(*OKEnvelope)
				require.Equal(t, id, ok.EventID.Hex())
				require.False(t, ok.OK)
				require.Equal(t, "blocked: spam", ok.Reason)
			},
		},
		{
			name:    "closed",
			message: `["CLOSED","7:x","auth-required: nope"]`,
			check: func(t *testing.T, env Envelope) {
				closed := env.(*ClosedEnvelope)
				require.Equal(t, "7:x", closed.SubscriptionID)
				require.Equal(t, "auth-required: nope", closed.Reason)
			},
		},
		{
			name:    "event with subscription",
			message: `["EVENT","2:",{"id":"` + id + `","kind":1,"tags":[],"content":"hi"}]`,
			check: func(t *testing.T, env Envelope) {
				evt := env.(*EventEnvelope)
				require.Equal(t, "2:", *evt.SubscriptionID)
				require.Equal(t, "hi", evt.Content)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := ParseMessage(tc.message)
			require.NoError(t, err)
			tc.check(t, env)
		})
	}
}

func TestParseMessageFailures(t *testing.T) {
	_, err := ParseMessage(`["REQ","1:",{}]`)
	require.ErrorIs(t, err, UnknownLabel)

	_, err = ParseMessage(`garbage`)
	require.ErrorIs(t, err, InvalidJsonEnvelope)

	_, err = ParseMessage(`["OK","nothex",true,""]`)
	require.Error(t, err)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	sk, _ := makeKeyPair(t)
	evt := Event{Kind: KindTextNote, Content: "round", CreatedAt: 42}
	require.NoError(t, evt.Sign(sk))

	subid := "3:dm"
	b, err := EventEnvelope{SubscriptionID: &subid, Event: evt}.MarshalJSON()
	require.NoError(t, err)

	env, err := ParseMessage(string(b))
	require.NoError(t, err)
	require.Equal(t, evt, env.(*EventEnvelope).Event)

	req, err := ReqEnvelope{SubscriptionID: subid, Filters: []Filter{{Kinds: []Kind{KindEncryptedDirectMessage}}}}.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `["REQ","3:dm",{"kinds":[4]}]`, string(req))

	closeb, err := CloseEnvelope(subid).MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `["CLOSE","3:dm"]`, string(closeb))
}

func TestNormalizeURL(t *testing.T) {
	for input, expected := range map[string]string{
		"wss://Relay.Damus.io/":  "wss://relay.damus.io",
		"relay.damus.io":         "wss://relay.damus.io",
		"https://nos.lol":        "wss://nos.lol",
		"http://localhost:7777/": "ws://localhost:7777",
		"localhost:7777":         "ws://localhost:7777",
		"":                       "",
	} {
		require.Equal(t, expected, NormalizeURL(input), input)
	}

	require.True(t, IsValidRelayURL("wss://nos.lol"))
	require.False(t, IsValidRelayURL("https://nos.lol"))
	require.False(t, IsValidRelayURL("wss://"))
}
