// MIT License
//
// Copyright (c) 2024 petra.io
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package cache

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Directive tokens are matched as substrings; no full header grammar is
// parsed. https://httpwg.org/specs/rfc7234.html#cache-response-directive
var (
	sharedMaxAgePattern = regexp.MustCompile(`s-maxage=([0-9]+)`)
	maxAgePattern       = regexp.MustCompile(`max-age=([0-9]+)`)
)

// TTLFromCacheControl returns the freshness lifetime encoded in a response
// Cache-Control header value. A header carrying 'no-cache' or 'private'
// yields zero, as does an absent or unrecognized value; the caller is
// expected to clamp the result to its configured minimum. 's-maxage' takes
// precedence over 'max-age', as appropriate for a shared cache.
func TTLFromCacheControl(header string) time.Duration {
	if header == "" ||
		strings.Contains(header, "no-cache") ||
		strings.Contains(header, "private") {
		return 0
	}
	if m := sharedMaxAgePattern.FindStringSubmatch(header); m != nil {
		return parseDeltaSeconds(m[1])
	}
	if m := maxAgePattern.FindStringSubmatch(header); m != nil {
		return parseDeltaSeconds(m[1])
	}
	return 0
}

// parseDeltaSeconds parses a delta-seconds directive argument.
// https://httpwg.org/specs/rfc7234.html#delta-seconds
func parseDeltaSeconds(s string) time.Duration {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
