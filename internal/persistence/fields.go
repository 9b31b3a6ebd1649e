package persistence

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/go-faster/errors"
)

// Fields holds the JSON-encoded top-level fields of a document.
type Fields map[string]json.RawMessage

// EncodeFields flattens a JSON-tagged record into Fields.
func EncodeFields(v any) (Fields, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode fields")
	}
	return DecodeDocument(raw)
}

// DecodeDocument splits a JSON object into Fields.
func DecodeDocument(raw []byte) (Fields, error) {
	fields := Fields{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errors.Wrap(err, "decode document")
	}
	return fields, nil
}

// DecodeFields fills a JSON-tagged record from Fields.
func DecodeFields(fields Fields, v any) error {
	raw, err := fields.JSON()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrap(err, "decode fields")
	}
	return nil
}

// JSON renders the fields as one JSON object.
func (f Fields) JSON() ([]byte, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(map[string]json.RawMessage(f))
	if err != nil {
		return nil, errors.Wrap(err, "marshal fields")
	}
	return raw, nil
}

// Pick returns a copy holding only keys present in both f and keys.
func (f Fields) Pick(keys []string) Fields {
	out := make(Fields, len(keys))
	for _, key := range keys {
		if value, ok := f[key]; ok {
			out[key] = cloneRaw(value)
		}
	}
	return out
}

// Clone deep-copies the fields.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for key, value := range f {
		out[key] = cloneRaw(value)
	}
	return out
}

// Keys returns the field names in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for key := range f {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Set encodes value under key.
func (f Fields) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encode field %s", key)
	}
	f[key] = raw
	return nil
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
