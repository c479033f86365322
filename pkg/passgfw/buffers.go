package passgfw

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

// The *Into and *N variants mirror a C calling convention: strings are written into a
// caller-owned buffer, truncated to len(buf)-1 bytes and zero-terminated, and the result is 0 on
// success or -1 on failure.

// GetFinalServerInto runs GetFinalServer and writes the domain into buf.
func GetFinalServerInto(h Handle, clientData string, buf []byte) int {
	if len(buf) == 0 {
		return -1
	}
	domain, err := GetFinalServer(h, clientData)
	if err != nil {
		return -1
	}
	writeCString(buf, domain)
	return 0
}

// GetLastErrorInto writes the last error of h into buf.
func GetLastErrorInto(h Handle, buf []byte) int {
	if len(buf) == 0 {
		return -1
	}
	msg, err := GetLastError(h)
	if err != nil {
		return -1
	}
	writeCString(buf, msg)
	return 0
}

// SetEndpointListN is SetEndpointList that refuses an empty list.
func SetEndpointListN(h Handle, endpoints []string) int {
	if len(endpoints) == 0 {
		return -1
	}
	if SetEndpointList(h, endpoints) != nil {
		return -1
	}
	return 0
}

// AddEndpointN is AddEndpoint with an integer result.
func AddEndpointN(h Handle, url string) int {
	if AddEndpoint(h, url) != nil {
		return -1
	}
	return 0
}

// DestroyN is Destroy with an integer result.
func DestroyN(h Handle) int {
	if Destroy(h) != nil {
		return -1
	}
	return 0
}

// writeCString copies s into buf, truncated to len(buf)-1 bytes, and zero-terminates it.
func writeCString(buf []byte, s string) {
	n := copy(buf[:len(buf)-1], s)
	buf[n] = 0
}
