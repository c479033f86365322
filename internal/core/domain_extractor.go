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

import "strings"

const schemeDelimiter = "://"

// ExtractDomain returns the authority of rawURL, port included:
// "https://abc.com:8080/path" yields "abc.com:8080".
// Everything after "://" up to the first "/" is returned; with no "/" the whole remainder is.
// A URL without "://" fails with ErrMalformedURL.
//
// This is deliberately not net/url: userinfo, query strings without a path and other oddities
// are passed through as part of the authority rather than rejected.
func ExtractDomain(rawURL string) (string, error) {
	i := strings.Index(rawURL, schemeDelimiter)
	if i < 0 {
		return "", newError(KindMalformedURL, rawURL, "missing scheme delimiter")
	}
	rest := rawURL[i+len(schemeDelimiter):]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		return rest[:j], nil
	}
	return rest, nil
}
