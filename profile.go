package nostr

import (
	"fmt"

	jlexer "github.com/mailru/easyjson/jlexer"
	jwriter "github.com/mailru/easyjson/jwriter"
)

// Profile is the content of a kind 0 event. A nil field is absent, which is not the
// same as an empty string: absent fields are omitted from the JSON.
type Profile struct {
	Name        *string
	DisplayName *string
	About       *string
	Picture     *string
	Banner      *string
	Website     *string
	NIP05       *string
	LUD16       *string
	LUD06       *string
}

// fields in canonical order
func (p *Profile) fields() []struct {
	key string
	ptr **string
} {
	return []struct {
		key string
		ptr **string
	}{
		{"name", &p.Name},
		{"display_name", &p.DisplayName},
		{"about", &p.About},
		{"picture", &p.Picture},
		{"banner", &p.Banner},
		{"website", &p.Website},
		{"nip05", &p.NIP05},
		{"lud16", &p.LUD16},
		{"lud06", &p.LUD06},
	}
}

// IsEmpty tells whether no field is set.
func (p Profile) IsEmpty() bool {
	for _, f := range p.fields() {
		if *f.ptr != nil {
			return false
		}
	}
	return true
}

// Merge returns a copy of p with every field that is present in update replaced.
func (p Profile) Merge(update Profile) Profile {
	merged := p
	src := update.fields()
	for i, f := range merged.fields() {
		if v := *src[i].ptr; v != nil {
			s := *v
			*f.ptr = &s
		}
	}
	return merged
}

// ProfileFromEvent parses the content of a kind 0 event.
func ProfileFromEvent(evt Event) (Profile, error) {
	var p Profile
	if evt.Kind != KindProfileMetadata {
		return p, fmt.Errorf("event %s is kind %d, not a profile", evt.ID.Hex(), evt.Kind)
	}
	if err := p.UnmarshalJSON([]byte(evt.Content)); err != nil {
		return p, fmt.Errorf("invalid profile content: %w", err)
	}
	return p, nil
}

func easyjsonEncodeProfile(out *jwriter.Writer, in Profile) {
	out.RawByte('{')
	first := true
	for _, f := range in.fields() {
		v := *f.ptr
		if v == nil {
			continue
		}
		if !first {
			out.RawByte(',')
		}
		first = false
		out.String(f.key)
		out.RawByte(':')
		out.String(*v)
	}
	out.RawByte('}')
}

func easyjsonDecodeProfile(in *jlexer.Lexer, out *Profile) {
	isTopLevel := in.IsStart()
	if in.IsNull() {
		if isTopLevel {
			in.Consumed()
		}
		in.Skip()
		return
	}
	fields := out.fields()
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		if key == "displayName" {
			key = "display_name"
		}
		matched := false
		for _, f := range fields {
			if f.key == key {
				s := in.String()
				*f.ptr = &s
				matched = true
				break
			}
		}
		if !matched {
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	if isTopLevel {
		in.Consumed()
	}
}

// MarshalJSON writes the fields that are present in canonical order.
func (v Profile) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	easyjsonEncodeProfile(&w, v)
	return w.Buffer.BuildBytes(), w.Error
}

// MarshalEasyJSON supports easyjson.Marshaler interface
func (v Profile) MarshalEasyJSON(w *jwriter.Writer) {
	w.NoEscapeHTML = true
	easyjsonEncodeProfile(w, v)
}

// UnmarshalJSON supports json.Unmarshaler interface
func (v *Profile) UnmarshalJSON(data []byte) error {
	r := jlexer.Lexer{Data: data}
	easyjsonDecodeProfile(&r, v)
	return r.Error()
}

// UnmarshalEasyJSON supports easyjson.Unmarshaler interface
func (v *Profile) UnmarshalEasyJSON(l *jlexer.Lexer) {
	easyjsonDecodeProfile(l, v)
}
