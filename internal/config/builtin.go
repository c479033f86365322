package config

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

// DefaultEndpoints is the endpoint set compiled into the binary, in priority order.
// Operators override it with the endpoints key of the config file.
var DefaultEndpoints = []string{
	"https://server1.example.com/passgfw",
	"https://server2.example.com/passgfw",
	"https://lists.example.com/passgfw/list.txt#",
}

// builtinPublicKey is the 3072-bit verification key of the default deployment.
// A 3072-bit modulus leaves room for a full client payload under RSA-OAEP SHA-256.
const builtinPublicKey = `-----BEGIN PUBLIC KEY-----
MIIBojANBgkqhkiG9w0BAQEFAAOCAY8AMIIBigKCAYEA0JuM75gZVb+ilvL/xGiv
PqJ29tZI0+2prmgFtZXWiHbDYO+k4kmAKCXNxYKpWvb/i8I8Kf7LutWeUgbLJKJr
x+Cn3tRW11zqDiKq092EiLXt1lENX63wsPneTudSQH51cMth3BAVcGev/L0uvUC+
vwlaRAXXsfopt57JWy9LSyR98vZphJKQt74/P1QHJ8MLsPzXeo/75RQi3c+JYu5z
f0cxLAQUD6R5JA02XBll1hRhhMA3NlBE2zwNkeCCbMB3zaj6hrTQlxKW2SFZogbb
1rl6fQWXoD5f3ZH9ZF1trmGvBYIuX+2kX1CLoyFE08jiNq3gmcn0Xf98epkf0Jlz
oiw7zF5DzrSw1TEawszooYsk3vvg8DK1ZmFZWT0ZBgaqRpGhFKwjPiQ6QZ340Dq6
Zc+KuIzhk8QZSQkOuILzJ6pBUnCvx8LS/iHlrkLGiTpd64+x7vRNMuIJc/5oN9HE
mHndkek2otOaTK5oFBHUxgq+MtTrakqwM/MWxx8juzpjAgMBAAE=
-----END PUBLIC KEY-----
`

// BuiltinPublicKeyPEM returns the embedded verification key.
func BuiltinPublicKeyPEM() []byte {
	return []byte(builtinPublicKey)
}
