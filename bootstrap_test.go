//////////////////////////////////////////////////////////////////////////
// RDAP Registry Server
//////////////////////////////////////////////////////////////////////////

package main

//////////////////////////////////////////////////////////////////////////

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//////////////////////////////////////////////////////////////////////////
// table fixtures

const testServiceURL = "https://rdap.example.net"

// tables where this server owns .com/.net, AS64500-64510 and
// 203.0.113.0/24, with everything else delegated elsewhere
func buildTestBootstrap() *Bootstrap {

	self := canonBaseURL(testServiceURL)
	b := &Bootstrap{}

	b.addDNS(&BootstrapFile{Services: [][][]string{
		{{"com", "net"}, {testServiceURL}},
		{{"org"}, {"http://rdap.org.example", "https://rdap.org.example"}},
		{{"uk"}, {"https://rdap.uk.example"}},
		{{"co.uk"}, {"https://rdap.couk.example"}},
	}}, self)

	b.addIP(&BootstrapFile{Services: [][][]string{
		{{"203.0.0.0/8"}, {"https://rdap.apnic.example"}},
		{{"203.0.113.0/24"}, {testServiceURL}},
		{{"2001:db8::/32"}, {"https://rdap.six.example"}},
	}}, self)

	b.addASN(&BootstrapFile{Services: [][][]string{
		{{"64500-64510"}, {testServiceURL}},
		{{"1-1876"}, {"https://rdap.arin.example"}},
	}}, self)

	b.addEntity(&BootstrapFile{Services: [][][]string{
		{{"maint@far.example"}, {"YYYY"}, {"https://rdap.far.example"}},
		{{"maint@example.net"}, {"XXXX"}, {testServiceURL}},
		{{"WWWW"}, {"https://rdap.west.example"}},
	}}, self)

	return b
}

//////////////////////////////////////////////////////////////////////////
// domain resolution

func TestResolveDomain(t *testing.T) {

	b := buildTestBootstrap()

	// authoritative for our own TLDs
	decision, _ := b.ResolveDomain("example.com")
	assert.Equal(t, BootstrapAuthoritative, decision)

	// delegated elsewhere, secure URL first
	decision, urls := b.ResolveDomain("example.org")
	require.Equal(t, BootstrapRedirect, decision)
	require.NotEmpty(t, urls)
	assert.Equal(t, "https://rdap.org.example", urls[0])

	// the longest label suffix wins
	decision, urls = b.ResolveDomain("example.co.uk")
	require.Equal(t, BootstrapRedirect, decision)
	assert.Equal(t, []string{"https://rdap.couk.example"}, urls)

	decision, urls = b.ResolveDomain("example.uk")
	require.Equal(t, BootstrapRedirect, decision)
	assert.Equal(t, []string{"https://rdap.uk.example"}, urls)

	// no matching registry at all
	decision, _ = b.ResolveDomain("nonexistent.invalidtld")
	assert.Equal(t, BootstrapUnknown, decision)
}

func TestResolveDomainOverlapFirstWins(t *testing.T) {

	b := &Bootstrap{}
	b.addDNS(&BootstrapFile{Services: [][][]string{
		{{"com"}, {"https://first.example"}},
		{{"com"}, {"https://second.example"}},
	}}, "")

	decision, urls := b.ResolveDomain("example.com")
	require.Equal(t, BootstrapRedirect, decision)
	assert.Equal(t, []string{"https://first.example"}, urls)
}

//////////////////////////////////////////////////////////////////////////
// ip resolution

func TestResolveIP(t *testing.T) {

	b := buildTestBootstrap()

	// most specific covering prefix is ours
	decision, _ := b.ResolveIP(netip.MustParsePrefix("203.0.113.50/32"))
	assert.Equal(t, BootstrapAuthoritative, decision)

	// outside our /24 but inside the /8
	decision, urls := b.ResolveIP(netip.MustParsePrefix("203.0.200.1/32"))
	require.Equal(t, BootstrapRedirect, decision)
	assert.Equal(t, []string{"https://rdap.apnic.example"}, urls)

	// v6 delegation
	decision, urls = b.ResolveIP(netip.MustParsePrefix("2001:db8::1/128"))
	require.Equal(t, BootstrapRedirect, decision)
	assert.Equal(t, []string{"https://rdap.six.example"}, urls)

	// nothing covers this
	decision, _ = b.ResolveIP(netip.MustParsePrefix("192.0.2.1/32"))
	assert.Equal(t, BootstrapUnknown, decision)
}

//////////////////////////////////////////////////////////////////////////
// asn resolution

func TestResolveAutnum(t *testing.T) {

	b := buildTestBootstrap()

	decision, _ := b.ResolveAutnum(64505)
	assert.Equal(t, BootstrapAuthoritative, decision)

	decision, urls := b.ResolveAutnum(1000)
	require.Equal(t, BootstrapRedirect, decision)
	assert.Equal(t, []string{"https://rdap.arin.example"}, urls)

	decision, _ = b.ResolveAutnum(90000)
	assert.Equal(t, BootstrapUnknown, decision)
}

//////////////////////////////////////////////////////////////////////////
// entity resolution

func TestResolveEntity(t *testing.T) {

	b := buildTestBootstrap()

	decision, _ := b.ResolveEntity("ABC-XXXX")
	assert.Equal(t, BootstrapAuthoritative, decision)

	decision, urls := b.ResolveEntity("ABC-YYYY")
	require.Equal(t, BootstrapRedirect, decision)
	assert.Equal(t, []string{"https://rdap.far.example"}, urls)

	// entries without the leading maintainer array also register
	decision, urls = b.ResolveEntity("ABC-WWWW")
	require.Equal(t, BootstrapRedirect, decision)
	assert.Equal(t, []string{"https://rdap.west.example"}, urls)

	// untagged handles are answered locally
	decision, _ = b.ResolveEntity("PLAINHANDLE")
	assert.Equal(t, BootstrapAuthoritative, decision)

	decision, _ = b.ResolveEntity("ABC-ZZZZ")
	assert.Equal(t, BootstrapUnknown, decision)
}

//////////////////////////////////////////////////////////////////////////
// empty tables answer locally

func TestResolveEmptyTables(t *testing.T) {

	b := &Bootstrap{}

	decision, _ := b.Resolve(ClassDomain, "example.com")
	assert.Equal(t, BootstrapAuthoritative, decision)

	decision, _ = b.Resolve(ClassIP, "203.0.113.0/24")
	assert.Equal(t, BootstrapAuthoritative, decision)

	decision, _ = b.Resolve(ClassAutnum, "64500")
	assert.Equal(t, BootstrapAuthoritative, decision)

	decision, _ = b.Resolve(ClassEntity, "ABC-XXXX")
	assert.Equal(t, BootstrapAuthoritative, decision)
}

//////////////////////////////////////////////////////////////////////////
// asn range parsing

func TestParseASNRange(t *testing.T) {

	lo, hi, ok := parseASNRange("64500-64510")
	require.True(t, ok)
	assert.Equal(t, uint32(64500), lo)
	assert.Equal(t, uint32(64510), hi)

	lo, hi, ok = parseASNRange("64500")
	require.True(t, ok)
	assert.Equal(t, uint32(64500), lo)
	assert.Equal(t, uint32(64500), hi)

	for _, in := range []string{"", "10-5", "abc", "1-abc"} {
		_, _, ok := parseASNRange(in)
		assert.False(t, ok, in)
	}
}

//////////////////////////////////////////////////////////////////////////
// end of code
