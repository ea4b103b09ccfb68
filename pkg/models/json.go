package models

import (
	"bytes"
	"io"
	"time"

	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/json"
)

// MarshalJSON encodes the record as a JSON object in field order.
func (r *Record) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	buf := json.GetBuffer()
	defer json.PutBuffer(buf)

	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		val, err := json.Marshal(jsonValue(f.Value))
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeValidation, "encode field %q", f.Name)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return append([]byte(nil), buf.Bytes()...), nil
}

func jsonValue(v interface{}) interface{} {
	if t, ok := v.(time.Time); ok {
		return t.Format(time.RFC3339Nano)
	}
	return v
}

// UnmarshalJSON decodes a JSON object keeping the document's field order.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	rec, err := DecodeJSON(dec)
	if err != nil {
		return err
	}
	*r = *rec
	return nil
}

// ParseJSON decodes one JSON object into a Record.
func ParseJSON(data []byte) (*Record, error) {
	return DecodeJSON(json.NewDecoder(bytes.NewReader(data)))
}

// DecodeJSON reads the next JSON object from dec. The decoder must have
// UseNumber enabled, as json.NewDecoder does.
func DecodeJSON(dec *json.Decoder) (*Record, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.Newf(errors.ErrorTypeDecode, "expected JSON object, got %v", tok)
	}
	return decodeObject(dec)
}

// decodeObject reads members until the closing brace. The opening brace
// has already been consumed.
func decodeObject(dec *json.Decoder) (*Record, error) {
	b := NewBuilder(8)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeDecode, "expected object key, got %v", tok)
		}
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		b.Set(name, v)
	}
	if _, err := dec.Token(); err != nil { // '}'
		return nil, err
	}
	return b.Build(), nil
}

func decodeValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			items := make([]interface{}, 0)
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				items = append(items, v)
			}
			if _, err := dec.Token(); err != nil { // ']'
				return nil, err
			}
			return normalizeSlice(items), nil
		default:
			return nil, errors.Newf(errors.ErrorTypeDecode, "unexpected delimiter %v", t)
		}
	case json.Number:
		return numberValue(t), nil
	default:
		// string, bool, nil
		return t, nil
	}
}
