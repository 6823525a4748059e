package nostr

import (
	"encoding/hex"
	"strconv"

	"github.com/mailru/easyjson"
)

func (evt Event) String() string {
	j, _ := easyjson.Marshal(evt)
	return string(j)
}

// Serialize outputs the canonical NIP-01 array that is hashed to produce the event id:
//
//	[0,"<pubkey>",<created_at>,<kind>,<tags>,"<content>"]
func (evt Event) Serialize() []byte {
	dst := make([]byte, 0, 100+len(evt.Content)+len(evt.Tags)*80)

	dst = append(dst, `[0,"`...)
	dst = hex.AppendEncode(dst, evt.PubKey[:])
	dst = append(dst, `",`...)
	dst = strconv.AppendInt(dst, int64(evt.CreatedAt), 10)
	dst = append(dst, ',')
	dst = strconv.AppendUint(dst, uint64(evt.Kind), 10)
	dst = append(dst, ",["...)
	for i, tag := range evt.Tags {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = append(dst, '[')
		for j, s := range tag {
			if j > 0 {
				dst = append(dst, ',')
			}
			dst = escapeString(dst, s)
		}
		dst = append(dst, ']')
	}
	dst = append(dst, "],"...)

	// content is user generated so it always needs escaping
	dst = escapeString(dst, evt.Content)
	dst = append(dst, ']')

	return dst
}
