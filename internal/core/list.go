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
	"bufio"
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// whitespace trimmed around list bodies, pieces and lines.
const whitespace = " \t\r\n"

// ParseList extracts candidate endpoint URLs from a fetched list document.
//
// If the content holds a pair of ListMarker occurrences, the text between them is trimmed,
// split on "|" and every trimmed piece starting with http:// or https:// is kept, in order.
// Otherwise (or when the marked body is blank) the content is read line by line: blank lines
// and "#" comments are skipped and only http(s) lines are kept.
//
// An empty result is not an error; callers decide what an empty list means.
func ParseList(content string) []string {
	if body, ok := markedBody(content); ok {
		var urls []string
		for _, piece := range strings.Split(body, ListSeparator) {
			piece = strings.Trim(piece, whitespace)
			if isHTTPURL(piece) {
				urls = append(urls, piece)
			}
		}
		return urls
	}
	return parseLines(content)
}

// markedBody returns the trimmed text between the first two markers.
// ok is false when there is no pair or the body is blank.
func markedBody(content string) (string, bool) {
	start := strings.Index(content, ListMarker)
	if start < 0 {
		return "", false
	}
	start += len(ListMarker)
	end := strings.Index(content[start:], ListMarker)
	if end < 0 {
		return "", false
	}
	body := strings.Trim(content[start:start+end], whitespace)
	return body, body != ""
}

func parseLines(content string) []string {
	var urls []string
	sc := bufio.NewScanner(strings.NewReader(content))
	sc.Buffer(make([]byte, 0, 4096), len(content)+1)
	for sc.Scan() {
		line := strings.Trim(sc.Text(), whitespace)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if isHTTPURL(line) {
			urls = append(urls, line)
		}
	}
	return urls
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// FormatList renders urls as a marker-delimited list document that ParseList reads back.
func FormatList(urls []string) string {
	return ListMarker + strings.Join(urls, ListSeparator) + ListMarker
}

// ExtractListText reduces an HTML document to its text and comment content, one token per line,
// with entities decoded. Lists are often published inside ordinary web pages, where the markers
// may sit in a paragraph or an HTML comment and URLs carry escaped ampersands.
func ExtractListText(r io.Reader) (string, error) {
	var sb strings.Builder
	z := html.NewTokenizer(r)
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return sb.String(), err
			}
			return sb.String(), nil
		case html.StartTagToken:
			if isInvisible(z) {
				skip++
			}
		case html.EndTagToken:
			if skip > 0 && isInvisible(z) {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
				sb.WriteByte('\n')
			}
		case html.CommentToken:
			sb.Write(z.Text())
			sb.WriteByte('\n')
		}
	}
}

// isInvisible reports whether the current tag's text never renders.
func isInvisible(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	switch string(name) {
	case "script", "style":
		return true
	}
	return false
}
