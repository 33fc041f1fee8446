// SPDX-License-Identifier: AGPL-3.0-or-later
package events

import (
	"net/url"
	"strings"
)

const secretToken = "[secret]"

func SecretToken() string { return secretToken }

// NewLineRedactor replaces every occurrence of the given values with [secret].
// It returns nil when there is nothing to redact.
func NewLineRedactor(secretValues []string) func(string) string {
	if len(secretValues) == 0 {
		return nil
	}
	filtered := make([]string, 0, len(secretValues))
	for _, val := range secretValues {
		if val != "" {
			filtered = append(filtered, val)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return func(line string) string {
		for _, secret := range filtered {
			line = strings.ReplaceAll(line, secret, secretToken)
		}
		return line
	}
}

// URLSecrets returns the credential parts of a URL (password, and the full
// userinfo), for use with NewLineRedactor.
func URLSecrets(raw string) []string {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return nil
	}
	var out []string
	if pw, ok := u.User.Password(); ok && pw != "" {
		out = append(out, u.User.String(), pw)
	}
	return out
}
