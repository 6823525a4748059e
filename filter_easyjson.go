package nostr

import (
	"slices"

	jwriter "github.com/mailru/easyjson/jwriter"
)

func easyjsonEncodeFilter(out *jwriter.Writer, in Filter) {
	out.RawByte('{')
	first := true
	field := func(name string) {
		if !first {
			out.RawByte(',')
		}
		first = false
		out.RawByte('"')
		out.RawString(name)
		out.RawString(`":`)
	}

	if in.IDs != nil {
		field("ids")
		out.RawByte('[')
		for i, id := range in.IDs {
			if i > 0 {
				out.RawByte(',')
			}
			out.Raw(id.MarshalJSON())
		}
		out.RawByte(']')
	}
	if in.Kinds != nil {
		field("kinds")
		out.RawByte('[')
		for i, kind := range in.Kinds {
			if i > 0 {
				out.RawByte(',')
			}
			out.Uint16(uint16(kind))
		}
		out.RawByte(']')
	}
	if in.Authors != nil {
		field("authors")
		out.RawByte('[')
		for i, pk := range in.Authors {
			if i > 0 {
				out.RawByte(',')
			}
			out.Raw(pk.MarshalJSON())
		}
		out.RawByte(']')
	}

	// sorted so the same filter always produces the same REQ
	names := make([]string, 0, len(in.Tags))
	for name := range in.Tags {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		field("#" + name)
		out.RawByte('[')
		for i, v := range in.Tags[name] {
			if i > 0 {
				out.RawByte(',')
			}
			out.String(v)
		}
		out.RawByte(']')
	}

	if in.Since != 0 {
		field("since")
		out.Int64(int64(in.Since))
	}
	if in.Until != 0 {
		field("until")
		out.Int64(int64(in.Until))
	}
	if in.Limit != 0 {
		field("limit")
		out.Int(in.Limit)
	}
	out.RawByte('}')
}

// MarshalJSON supports json.Marshaler interface
func (v Filter) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	easyjsonEncodeFilter(&w, v)
	return w.Buffer.BuildBytes(), w.Error
}

// MarshalEasyJSON supports easyjson.Marshaler interface
func (v Filter) MarshalEasyJSON(w *jwriter.Writer) {
	easyjsonEncodeFilter(w, v)
}
