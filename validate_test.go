//////////////////////////////////////////////////////////////////////////
// RDAP Registry Server
//////////////////////////////////////////////////////////////////////////

package main

//////////////////////////////////////////////////////////////////////////

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//////////////////////////////////////////////////////////////////////////
// domain names

func TestValidateDomainName(t *testing.T) {

	cases := []struct {
		in   string
		want string
	}{
		{"example.com", "example.com"},
		{"EXAMPLE.COM", "example.com"},
		{"example.com.", "example.com"},
		{"sub.Example.ORG.", "sub.example.org"},
		{"bücher.example", "xn--bcher-kva.example"},
		{"xn--bcher-kva.example", "xn--bcher-kva.example"},
	}

	for _, c := range cases {
		got, err := ValidateDomainName(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)

		// validation must be idempotent on its own output
		again, err := ValidateDomainName(got)
		require.NoError(t, err, got)
		assert.Equal(t, got, again, got)
	}
}

func TestValidateDomainNameInvalid(t *testing.T) {

	bad := []string{
		"",
		".",
		"exa mple.com",
		"exam!ple.com",
		strings.Repeat("a", 64) + ".com",
		strings.Repeat("abcdefgh.", 32) + "com",
	}

	for _, in := range bad {
		_, err := ValidateDomainName(in)
		assert.Error(t, err, in)

		var invalid *InvalidIdentifierError
		assert.ErrorAs(t, err, &invalid, in)
	}
}

//////////////////////////////////////////////////////////////////////////
// IP addresses and networks

func TestValidateIPQuery(t *testing.T) {

	cases := []struct {
		in   string
		want string
	}{
		{"203.0.113.50", "203.0.113.50/32"},
		{"203.0.113.0/24", "203.0.113.0/24"},
		{"203.0.113.7/24", "203.0.113.0/24"},
		{"2001:db8::1", "2001:db8::1/128"},
		{"2001:db8::/32", "2001:db8::/32"},
	}

	for _, c := range cases {
		prefix, err := ValidateIPQuery(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, prefix.String(), c.in)
	}

	for _, in := range []string{"", "banana", "203.0.113.300", "203.0.113.0/33"} {
		_, err := ValidateIPQuery(in)
		assert.Error(t, err, in)
	}
}

//////////////////////////////////////////////////////////////////////////
// AS numbers

func TestValidateAutnum(t *testing.T) {

	cases := []struct {
		in   string
		want uint32
	}{
		{"64500", 64500},
		{"AS64500", 64500},
		{"as64500", 64500},
		{"As4294967295", 4294967295},
		{"0", 0},
	}

	for _, c := range cases {
		got, err := ValidateAutnum(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}

	for _, in := range []string{"", "AS", "4294967296", "AS-1", "64500x"} {
		_, err := ValidateAutnum(in)
		assert.Error(t, err, in)
	}
}

//////////////////////////////////////////////////////////////////////////
// entity handles

func TestValidateHandle(t *testing.T) {

	for _, in := range []string{"REG-1234", "abc_def.GHI:1", "X"} {
		got, err := ValidateHandle(in)
		require.NoError(t, err, in)
		assert.Equal(t, in, got)
	}

	for _, in := range []string{"", "with space", "bad/char", strings.Repeat("x", 65)} {
		_, err := ValidateHandle(in)
		assert.Error(t, err, in)
	}
}

//////////////////////////////////////////////////////////////////////////
// class dispatch

func TestValidateIdentifier(t *testing.T) {

	cases := []struct {
		class string
		in    string
		want  string
	}{
		{ClassDomain, "Example.COM.", "example.com"},
		{ClassNameserver, "NS1.example.net", "ns1.example.net"},
		{ClassIP, "203.0.113.50", "203.0.113.50/32"},
		{ClassIP, "203.0.113.9/24", "203.0.113.0/24"},
		{ClassAutnum, "AS64500", "64500"},
		{ClassEntity, "REG-1234", "REG-1234"},
	}

	for _, c := range cases {
		got, err := ValidateIdentifier(c.class, c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}

	_, err := ValidateIdentifier("bogus", "anything")
	assert.Error(t, err)
}

//////////////////////////////////////////////////////////////////////////
// end of code
