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

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToJSONSortsKeys(t *testing.T) {
	t.Parallel()
	c := New()

	got, err := c.ToJSON(map[string]string{"nonce": "abc", "client_data": "hello"})
	require.NoError(t, err)
	require.Equal(t, `{"client_data":"hello","nonce":"abc"}`, got)

	empty, err := c.ToJSON(nil)
	require.NoError(t, err)
	require.Equal(t, "{}", empty)
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	c := New()

	tests := []struct {
		name    string
		input   string
		want    map[string]string
		wantErr bool
	}{
		{
			name:  "flat strings",
			input: `{"data":"{\"nonce\":\"n\"}","signature":"c2ln"}`,
			want:  map[string]string{"data": `{"nonce":"n"}`, "signature": "c2ln"},
		},
		{
			name:  "scalars kept as text",
			input: `{"count": 3, "ok": true, "gone": null}`,
			want:  map[string]string{"count": "3", "ok": "true", "gone": ""},
		},
		{name: "empty object", input: `{}`, want: map[string]string{}},
		{name: "nested object", input: `{"a":{"b":"c"}}`, wantErr: true},
		{name: "array value", input: `{"a":[1]}`, wantErr: true},
		{name: "top-level array", input: `["a"]`, wantErr: true},
		{name: "null document", input: `null`, wantErr: true},
		{name: "garbage", input: `not json`, wantErr: true},
		{name: "empty input", input: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := c.ParseJSON(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestRoundTripPreservesEmbeddedJSON(t *testing.T) {
	t.Parallel()
	c := New()

	inner, err := c.ToJSON(map[string]string{"nonce": "q+/=", "server_domain": "example.com:443"})
	require.NoError(t, err)
	outer, err := c.ToJSON(map[string]string{"data": inner, "signature": "sig"})
	require.NoError(t, err)

	parsed, err := c.ParseJSON(outer)
	require.NoError(t, err)
	require.Equal(t, inner, parsed["data"])

	assertion, err := c.ParseJSON(parsed["data"])
	require.NoError(t, err)
	require.Equal(t, "example.com:443", assertion["server_domain"])
}
