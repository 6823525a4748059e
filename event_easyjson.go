package nostr

import (
	"encoding/hex"
	"fmt"

	jlexer "github.com/mailru/easyjson/jlexer"
	jwriter "github.com/mailru/easyjson/jwriter"
)

func decodeHexField(in *jlexer.Lexer, field string, dst []byte) {
	raw := in.UnsafeBytes()
	if len(raw) != 2*len(dst) {
		in.AddError(fmt.Errorf("%s must have %d hex chars, got %d", field, 2*len(dst), len(raw)))
		return
	}
	if _, err := hex.Decode(dst, raw); err != nil {
		in.AddError(fmt.Errorf("%s: %w", field, err))
	}
}

func easyjsonDecodeEvent(in *jlexer.Lexer, out *Event) {
	isTopLevel := in.IsStart()
	if in.IsNull() {
		if isTopLevel {
			in.Consumed()
		}
		in.Skip()
		return
	}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(true)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "id":
			decodeHexField(in, "id", out.ID[:])
		case "pubkey":
			decodeHexField(in, "pubkey", out.PubKey[:])
		case "created_at":
			out.CreatedAt = Timestamp(in.Int64())
		case "kind":
			out.Kind = Kind(in.Uint16())
		case "tags":
			in.Delim('[')
			out.Tags = make(Tags, 0, 4)
			for !in.IsDelim(']') {
				tag := make(Tag, 0, 3)
				in.Delim('[')
				for !in.IsDelim(']') {
					tag = append(tag, in.String())
					in.WantComma()
				}
				in.Delim(']')
				out.Tags = append(out.Tags, tag)
				in.WantComma()
			}
			in.Delim(']')
		case "content":
			out.Content = in.String()
		case "sig":
			decodeHexField(in, "sig", out.Sig[:])
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	if isTopLevel {
		in.Consumed()
	}
}

func easyjsonEncodeEvent(out *jwriter.Writer, in Event) {
	out.RawString(`{"id":"`)
	out.RawString(in.ID.Hex())
	out.RawString(`","pubkey":"`)
	out.RawString(in.PubKey.Hex())
	out.RawString(`","created_at":`)
	out.Int64(int64(in.CreatedAt))
	out.RawString(`,"kind":`)
	out.Uint16(uint16(in.Kind))

	out.RawString(`,"tags":[`)
	for i, tag := range in.Tags {
		if i > 0 {
			out.RawByte(',')
		}
		out.RawByte('[')
		for j, item := range tag {
			if j > 0 {
				out.RawByte(',')
			}
			out.String(item)
		}
		out.RawByte(']')
	}
	out.RawByte(']')

	out.RawString(`,"content":`)
	out.String(in.Content)

	out.RawString(`,"sig":"`)
	out.RawString(hex.EncodeToString(in.Sig[:]))
	out.RawString(`"}`)
}

// MarshalJSON supports json.Marshaler interface
func (v Event) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	easyjsonEncodeEvent(&w, v)
	return w.Buffer.BuildBytes(), w.Error
}

// MarshalEasyJSON supports easyjson.Marshaler interface
func (v Event) MarshalEasyJSON(w *jwriter.Writer) {
	w.NoEscapeHTML = true
	easyjsonEncodeEvent(w, v)
}

// UnmarshalJSON supports json.Unmarshaler interface
func (v *Event) UnmarshalJSON(data []byte) error {
	r := jlexer.Lexer{Data: data}
	easyjsonDecodeEvent(&r, v)
	return r.Error()
}

// UnmarshalEasyJSON supports easyjson.Unmarshaler interface
func (v *Event) UnmarshalEasyJSON(l *jlexer.Lexer) {
	easyjsonDecodeEvent(l, v)
}
