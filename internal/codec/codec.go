package codec

/*
passgfw — verified endpoint discovery for filtered networks
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

/*
Package codec converts the flat string maps of the discovery protocol to and from JSON.

Every message on the wire is a single JSON object whose values are strings. ParseJSON is lenient
about the values it reads back: numbers and booleans are kept as their JSON text and null becomes
the empty string, so a responder that emits a non-string field does not break the envelope.
Nested objects and arrays are rejected.
*/

import (
	"bytes"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// JSON implements core.Codec on top of json-iterator.
type JSON struct {
	api jsoniter.API
}

// New returns a codec that behaves like encoding/json (sorted keys, HTML escaping).
func New() *JSON {
	return &JSON{api: jsoniter.ConfigCompatibleWithStandardLibrary}
}

// ToJSON serializes m as a JSON object with its keys in sorted order.
func (c *JSON) ToJSON(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := c.api.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding JSON object: %w", err)
	}
	return string(b), nil
}

// ParseJSON parses s, which must hold a single flat JSON object.
func (c *JSON) ParseJSON(s string) (map[string]string, error) {
	var raw map[string]jsoniter.RawMessage
	if err := c.api.UnmarshalFromString(s, &raw); err != nil {
		return nil, fmt.Errorf("decoding JSON object: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("decoding JSON object: not an object")
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		v = bytes.TrimSpace(v)
		switch {
		case len(v) == 0 || bytes.Equal(v, []byte("null")):
			out[k] = ""
		case v[0] == '"':
			var str string
			if err := c.api.Unmarshal(v, &str); err != nil {
				return nil, fmt.Errorf("decoding field %q: %w", k, err)
			}
			out[k] = str
		case v[0] == '{' || v[0] == '[':
			return nil, fmt.Errorf("field %q is not a scalar", k)
		default:
			out[k] = string(v)
		}
	}
	return out, nil
}
