package core

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
	"reflect"
	"strings"
	"testing"
)

func TestParseList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "marker mode",
			content: "*GFW* https://x.com | https://y.com *GFW*",
			want:    []string{"https://x.com", "https://y.com"},
		},
		{
			name:    "marker mode drops non-http pieces",
			content: "junk *GFW*https://a.com/x#|ftp://b.com| |http://c.com*GFW* trailer",
			want:    []string{"https://a.com/x#", "http://c.com"},
		},
		{
			name:    "marker mode takes first pair only",
			content: "*GFW*https://a.com*GFW* *GFW*https://b.com*GFW*",
			want:    []string{"https://a.com"},
		},
		{
			name:    "line mode",
			content: "# comment\n\nhttps://z.com\nftp://bad.com\n",
			want:    []string{"https://z.com"},
		},
		{
			name:    "line mode trims and keeps crlf lists",
			content: "  https://a.com/passgfw  \r\n\thttp://b.com\r\n#https://c.com\r\n",
			want:    []string{"https://a.com/passgfw", "http://b.com"},
		},
		{
			name:    "single marker falls back to lines",
			content: "*GFW* https://x.com\nhttps://y.com",
			want:    []string{"https://y.com"},
		},
		{
			name:    "blank marker body falls back to lines",
			content: "*GFW*  *GFW*\nhttps://y.com",
			want:    []string{"https://y.com"},
		},
		{
			name:    "marker body without urls",
			content: "*GFW*nothing|here*GFW*\nhttps://y.com",
			want:    nil,
		},
		{name: "empty", content: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ParseList(tt.content)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseList(%q) = %#v, want %#v", tt.content, got, tt.want)
			}
		})
	}
}

func TestFormatListRoundTrip(t *testing.T) {
	t.Parallel()

	urls := []string{"https://a.com/passgfw", "https://lists.example.com/l.txt#", "http://b.com"}
	doc := FormatList(urls)
	if want := "*GFW*https://a.com/passgfw|https://lists.example.com/l.txt#|http://b.com*GFW*"; doc != want {
		t.Fatalf("FormatList = %q, want %q", doc, want)
	}
	if got := ParseList(doc); !reflect.DeepEqual(got, urls) {
		t.Errorf("ParseList(FormatList(urls)) = %#v, want %#v", got, urls)
	}
}

func TestExtractListText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		html string
		want []string
	}{
		{
			name: "marker list in paragraph",
			html: "<html><body><p>*GFW*https://a.com/x?a=1&amp;b=2|https://b.com*GFW*</p></body></html>",
			want: []string{"https://a.com/x?a=1&b=2", "https://b.com"},
		},
		{
			name: "marker list in comment",
			html: "<html><body><h1>Hello</h1><!-- *GFW*https://hidden.com*GFW* --></body></html>",
			want: []string{"https://hidden.com"},
		},
		{
			name: "script and style ignored",
			html: "<script>var u = 'https://script.com';</script><style>a{}</style><pre>\nhttps://c.com\nhttps://d.com\n</pre>",
			want: []string{"https://c.com", "https://d.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			text, err := ExtractListText(strings.NewReader(tt.html))
			if err != nil {
				t.Fatalf("ExtractListText error: %v", err)
			}
			if got := ParseList(text); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseList(ExtractListText(...)) = %#v, want %#v (text %q)", got, tt.want, text)
			}
		})
	}
}
