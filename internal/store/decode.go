package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/breatheroute/sensorbridge/internal/measurement"
)

// FieldValue names the single field of a record whose stored value is not
// an object.
const FieldValue = "value"

var errUnexpectedDocument = errors.New("unexpected document")

// decodeSnapshot reads the store's JSON rendering of a collection into a
// snapshot, keeping children and their fields in wire order.
//
// A null document is an empty collection. An array is the store's rendering
// of integer-keyed children; its null slots are absent children.
func decodeSnapshot(r io.Reader, snap *measurement.Snapshot) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errUnexpectedDocument)
		}
		return err
	}

	switch tok {
	case nil:
		return nil
	case json.Delim('{'):
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return err
			}
			key, ok := keyTok.(string)
			if !ok {
				return fmt.Errorf("%w: object key %v", errUnexpectedDocument, keyTok)
			}
			if err := decodeChild(dec, snap, key); err != nil {
				return fmt.Errorf("child %q: %w", key, err)
			}
		}
	case json.Delim('['):
		for i := 0; dec.More(); i++ {
			id := strconv.Itoa(i)
			if err := decodeChild(dec, snap, id); err != nil {
				return fmt.Errorf("child %s: %w", id, err)
			}
		}
	default:
		return fmt.Errorf("%w: collection is a %T", errUnexpectedDocument, tok)
	}

	// closing delimiter
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

func decodeChild(dec *json.Decoder, snap *measurement.Snapshot, id string) error {
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	fields, ok, err := decodeRecord(raw)
	if err != nil {
		return err
	}
	if ok {
		snap.Add(id, fields)
	}
	return nil
}

// decodeRecord decodes one child. ok is false for a null child.
func decodeRecord(raw json.RawMessage) (fields []measurement.Field, ok bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false, nil
	}

	if raw[0] != '{' {
		v, err := decodeValue(raw)
		if err != nil {
			return nil, false, err
		}
		return []measurement.Field{{Name: FieldValue, Value: v}}, true, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		return nil, false, err
	}

	fields = []measurement.Field{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, false, err
		}
		name, _ := keyTok.(string)

		var fieldRaw json.RawMessage
		if err := dec.Decode(&fieldRaw); err != nil {
			return nil, false, fmt.Errorf("field %q: %w", name, err)
		}
		v, err := decodeValue(fieldRaw)
		if err != nil {
			return nil, false, fmt.Errorf("field %q: %w", name, err)
		}
		fields = append(fields, measurement.Field{Name: name, Value: v})
	}
	return fields, true, nil
}

func decodeValue(raw json.RawMessage) (measurement.Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return measurement.Null(), nil
	}

	switch raw[0] {
	case 'n':
		return measurement.Null(), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return measurement.Value{}, err
		}
		return measurement.Bool(b), nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return measurement.Value{}, err
		}
		return measurement.String(s), nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return measurement.Value{}, err
		}
		return measurement.RawJSON(buf.String()), nil
	default:
		return measurement.Number(string(raw)), nil
	}
}
