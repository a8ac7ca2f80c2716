// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServerAddressValidation(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:3333", true},
		{"127.0.0.1", true},
		{"[::1]:3333", true},
		{"::1", true},
		{"not-an-ip", false},
		{"", false},
		{"example.com:3333", false}, // hostnames are not IP literals
		{"127.0.0.1:99999", false},  // out-of-range port
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, isValidServerAddress(tc.addr), "address %q", tc.addr)
	}
}

func TestValidateRejectsShortFlagRegex(t *testing.T) {
	cfg := Default()
	cfg.ServerAddress = "0.0.0.0:3333"
	cfg.FlagRegex = "short"
	cfg.AuthRequired = false

	errs := cfg.Validate()
	assert.True(t, errs.HasErrors())
}

func TestValidateAcceptsGoodConfig(t *testing.T) {
	cfg := Default()
	cfg.ServerAddress = "0.0.0.0:3333"
	cfg.FlagRegex = `CTF\{[A-Za-z0-9_]+\}`
	cfg.AuthRequired = true
	cfg.Accounts = map[string]SecureString{"admin": "hunter2"}

	errs := cfg.Validate()
	assert.False(t, errs.HasErrors(), "%v", errs)
}

func TestHexColorValidation(t *testing.T) {
	assert.True(t, IsValidHexColor("#fff"))
	assert.True(t, IsValidHexColor("#ff0000"))
	assert.False(t, IsValidHexColor("red"))
	assert.False(t, IsValidHexColor("#ggg"))
}

func TestSecureStringMarshalJSON(t *testing.T) {
	var s SecureString = "hunter2"
	b, err := s.MarshalJSON()
	assert.NoError(t, err)
	assert.Equal(t, `"(hidden)"`, string(b))
}
