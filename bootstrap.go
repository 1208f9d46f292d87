//////////////////////////////////////////////////////////////////////////
// RDAP Registry Server
//////////////////////////////////////////////////////////////////////////

package main

//////////////////////////////////////////////////////////////////////////

import (
	"encoding/json"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

//////////////////////////////////////////////////////////////////////////
// bootstrap data model (RFC 7484)
//
// the tables decide whether this server is authoritative for a query
// or must redirect the client to another RDAP service

type BootstrapDecision int

const (
	BootstrapUnknown BootstrapDecision = iota
	BootstrapAuthoritative
	BootstrapRedirect
)

// one row of a compiled table: a service range plus the ordered URL
// list of the servers responsible for it
type dnsEntry struct {
	suffix string
	urls   []string
	local  bool
}

type ipEntry struct {
	prefix netip.Prefix
	urls   []string
	local  bool
}

type asnEntry struct {
	lo, hi uint32
	urls   []string
	local  bool
}

type tagEntry struct {
	tag   string
	urls  []string
	local bool
}

// the compiled tables, immutable once built
type Bootstrap struct {
	DNS    []dnsEntry
	IP     []ipEntry
	ASN    []asnEntry
	Entity []tagEntry
}

// current table set, replaced wholesale on refresh
var bootstrapTables atomic.Pointer[Bootstrap]

func CurrentBootstrap() *Bootstrap {
	return bootstrapTables.Load()
}

//////////////////////////////////////////////////////////////////////////
// IANA registry file format (RFC 9224 / RFC 8521)
//
// each service entry is two (or three, for object tags) string
// arrays: the ranges served, and the base URLs serving them

type BootstrapFile struct {
	Version     string       `json:"version"`
	Publication string       `json:"publication"`
	Description string       `json:"description"`
	Services    [][][]string `json:"services"`
}

//////////////////////////////////////////////////////////////////////////
// table resolution
//
// longest match wins in every table; on equal specificity the first
// loaded entry takes precedence

func decide(urls []string, local bool) (BootstrapDecision, []string) {
	if local {
		return BootstrapAuthoritative, nil
	}
	return BootstrapRedirect, urls
}

// match the rightmost label sequence against the TLD table
func (b *Bootstrap) ResolveDomain(name string) (BootstrapDecision, []string) {

	// a server without a DNS table is the registry for all it holds
	if len(b.DNS) == 0 {
		return BootstrapAuthoritative, nil
	}

	best := -1
	for ix, entry := range b.DNS {
		if name != entry.suffix &&
			!strings.HasSuffix(name, "."+entry.suffix) {
			continue
		}
		if best < 0 || len(entry.suffix) > len(b.DNS[best].suffix) {
			best = ix
		}
	}

	if best < 0 {
		return BootstrapUnknown, nil
	}
	return decide(b.DNS[best].urls, b.DNS[best].local)
}

// match the most specific covering prefix
func (b *Bootstrap) ResolveIP(query netip.Prefix) (BootstrapDecision, []string) {

	if len(b.IP) == 0 {
		return BootstrapAuthoritative, nil
	}

	best := -1
	for ix, entry := range b.IP {
		if entry.prefix.Addr().Is6() != query.Addr().Is6() {
			continue
		}
		if !entry.prefix.Contains(query.Addr()) ||
			entry.prefix.Bits() > query.Bits() {
			continue
		}
		if best < 0 || entry.prefix.Bits() > b.IP[best].prefix.Bits() {
			best = ix
		}
	}

	if best < 0 {
		return BootstrapUnknown, nil
	}
	return decide(b.IP[best].urls, b.IP[best].local)
}

// match the smallest containing AS number range
func (b *Bootstrap) ResolveAutnum(asn uint32) (BootstrapDecision, []string) {

	if len(b.ASN) == 0 {
		return BootstrapAuthoritative, nil
	}

	best := -1
	for ix, entry := range b.ASN {
		if asn < entry.lo || asn > entry.hi {
			continue
		}
		if best < 0 ||
			(entry.hi-entry.lo) < (b.ASN[best].hi-b.ASN[best].lo) {
			best = ix
		}
	}

	if best < 0 {
		return BootstrapUnknown, nil
	}
	return decide(b.ASN[best].urls, b.ASN[best].local)
}

// entity handles carry an RFC 8521 service tag as their final
// hyphen-separated element; untagged handles are answered locally
func (b *Bootstrap) ResolveEntity(handle string) (BootstrapDecision, []string) {

	if len(b.Entity) == 0 {
		return BootstrapAuthoritative, nil
	}

	ix := strings.LastIndexByte(handle, '-')
	if ix < 0 || ix == len(handle)-1 {
		return BootstrapAuthoritative, nil
	}
	tag := strings.ToUpper(handle[ix+1:])

	for _, entry := range b.Entity {
		if entry.tag == tag {
			return decide(entry.urls, entry.local)
		}
	}

	return BootstrapUnknown, nil
}

// class dispatch over the tables
func (b *Bootstrap) Resolve(class, id string) (BootstrapDecision, []string) {

	switch class {

	case ClassDomain, ClassNameserver:
		return b.ResolveDomain(id)

	case ClassIP:
		prefix, err := netip.ParsePrefix(id)
		if err != nil {
			return BootstrapUnknown, nil
		}
		return b.ResolveIP(prefix)

	case ClassAutnum:
		asn, err := strconv.ParseUint(id, 10, 32)
		if err != nil {
			return BootstrapUnknown, nil
		}
		return b.ResolveAutnum(uint32(asn))

	case ClassEntity:
		return b.ResolveEntity(id)
	}

	return BootstrapUnknown, nil
}

//////////////////////////////////////////////////////////////////////////
// table construction

// normalize a service URL for identity comparison
func canonBaseURL(u string) string {
	return strings.TrimRight(strings.ToLower(u), "/")
}

// order service URLs so that secure transports come first (RFC 7484
// advises clients to prefer https)
func sortServiceURLs(urls []string) []string {
	sorted := append([]string(nil), urls...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.HasPrefix(sorted[i], "https://") &&
			!strings.HasPrefix(sorted[j], "https://")
	})
	return sorted
}

// split a service entry in to its range and URL arrays; object tag
// entries carry a leading maintainer array which is skipped
func splitService(service [][]string) ([]string, []string) {
	switch len(service) {
	case 2:
		return service[0], service[1]
	case 3:
		return service[1], service[2]
	}
	return nil, nil
}

func containsURL(urls []string, serviceURL string) bool {
	for _, u := range urls {
		if canonBaseURL(u) == serviceURL {
			return true
		}
	}
	return false
}

func (b *Bootstrap) addDNS(file *BootstrapFile, serviceURL string) {

	seen := make(map[string]bool)

	for _, service := range file.Services {
		ranges, urls := splitService(service)
		if len(urls) == 0 {
			continue
		}

		local := containsURL(urls, serviceURL)
		urls = sortServiceURLs(urls)

		for _, tld := range ranges {
			suffix := strings.ToLower(strings.TrimPrefix(tld, "."))

			// registries should not overlap; keep the first
			// loaded entry and warn
			if seen[suffix] {
				log.WithFields(log.Fields{
					"suffix": suffix,
				}).Warn("Overlapping DNS bootstrap entry ignored")
				continue
			}
			seen[suffix] = true

			b.DNS = append(b.DNS, dnsEntry{
				suffix: suffix,
				urls:   urls,
				local:  local,
			})
		}
	}
}

func (b *Bootstrap) addIP(file *BootstrapFile, serviceURL string) {

	seen := make(map[netip.Prefix]bool)

	for _, service := range file.Services {
		ranges, urls := splitService(service)
		if len(urls) == 0 {
			continue
		}

		local := containsURL(urls, serviceURL)
		urls = sortServiceURLs(urls)

		for _, raw := range ranges {
			prefix, err := netip.ParsePrefix(strings.TrimSpace(raw))
			if err != nil {
				log.WithFields(log.Fields{
					"prefix": raw,
					"error":  err,
				}).Warn("Invalid prefix in IP bootstrap entry")
				continue
			}
			prefix = prefix.Masked()

			if seen[prefix] {
				log.WithFields(log.Fields{
					"prefix": prefix.String(),
				}).Warn("Overlapping IP bootstrap entry ignored")
				continue
			}
			seen[prefix] = true

			b.IP = append(b.IP, ipEntry{
				prefix: prefix,
				urls:   urls,
				local:  local,
			})
		}
	}
}

// AS ranges are either a single number or "lo-hi"
func parseASNRange(s string) (uint32, uint32, bool) {

	s = strings.TrimSpace(s)
	if ix := strings.IndexByte(s, '-'); ix >= 0 {
		lo, err1 := strconv.ParseUint(strings.TrimSpace(s[:ix]), 10, 32)
		hi, err2 := strconv.ParseUint(strings.TrimSpace(s[ix+1:]), 10, 32)
		if err1 != nil || err2 != nil || hi < lo {
			return 0, 0, false
		}
		return uint32(lo), uint32(hi), true
	}

	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, 0, false
	}
	return uint32(n), uint32(n), true
}

func (b *Bootstrap) addASN(file *BootstrapFile, serviceURL string) {

	for _, service := range file.Services {
		ranges, urls := splitService(service)
		if len(urls) == 0 {
			continue
		}

		local := containsURL(urls, serviceURL)
		urls = sortServiceURLs(urls)

		for _, raw := range ranges {
			lo, hi, ok := parseASNRange(raw)
			if !ok {
				log.WithFields(log.Fields{
					"range": raw,
				}).Warn("Invalid range in ASN bootstrap entry")
				continue
			}

			overlap := false
			for _, prev := range b.ASN {
				if lo <= prev.hi && hi >= prev.lo {
					overlap = true
					break
				}
			}
			if overlap {
				log.WithFields(log.Fields{
					"range": raw,
				}).Warn("Overlapping ASN bootstrap entry ignored")
				continue
			}

			b.ASN = append(b.ASN, asnEntry{
				lo:    lo,
				hi:    hi,
				urls:  urls,
				local: local,
			})
		}
	}
}

func (b *Bootstrap) addEntity(file *BootstrapFile, serviceURL string) {

	seen := make(map[string]bool)

	for _, service := range file.Services {
		tags, urls := splitService(service)
		if len(urls) == 0 {
			continue
		}

		local := containsURL(urls, serviceURL)
		urls = sortServiceURLs(urls)

		for _, raw := range tags {
			tag := strings.ToUpper(strings.TrimSpace(raw))

			if seen[tag] {
				log.WithFields(log.Fields{
					"tag": tag,
				}).Warn("Overlapping object tag bootstrap entry ignored")
				continue
			}
			seen[tag] = true

			b.Entity = append(b.Entity, tagEntry{
				tag:   tag,
				urls:  urls,
				local: local,
			})
		}
	}
}

//////////////////////////////////////////////////////////////////////////
// loading and refresh

// the per-class registry files expected in the bootstrap directory
var bootstrapFiles = map[string]func(*Bootstrap, *BootstrapFile, string){
	"dns.json":         (*Bootstrap).addDNS,
	"ipv4.json":        (*Bootstrap).addIP,
	"ipv6.json":        (*Bootstrap).addIP,
	"asn.json":         (*Bootstrap).addASN,
	"object-tags.json": (*Bootstrap).addEntity,
}

func loadBootstrapFile(path string) (*BootstrapFile, error) {

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file BootstrapFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	return &file, nil
}

// build a fresh table set from the bootstrap directory and swap it in
func reloadBootstrap(dir string, serviceURL string) {

	log.Debug("Reloading bootstrap tables")

	bootstrap := &Bootstrap{}
	serviceURL = canonBaseURL(serviceURL)

	for name, add := range bootstrapFiles {
		path := filepath.Join(dir, name)

		file, err := loadBootstrapFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				// missing registries simply leave the table
				// empty, which means answer locally
				log.WithFields(log.Fields{
					"path": path,
				}).Debug("No bootstrap registry file")
			} else {
				log.WithFields(log.Fields{
					"error": err,
					"path":  path,
				}).Error("Failed to load bootstrap registry file")
			}
			continue
		}

		add(bootstrap, file, serviceURL)
	}

	log.WithFields(log.Fields{
		"dns":    len(bootstrap.DNS),
		"ip":     len(bootstrap.IP),
		"asn":    len(bootstrap.ASN),
		"entity": len(bootstrap.Entity),
	}).Info("Bootstrap tables loaded")

	// swap in the new tables
	bootstrapTables.Store(bootstrap)
}

//////////////////////////////////////////////////////////////////////////
// called from main to initialise the bootstrap data and refreshing

func InitialiseBootstrapData(dir string, serviceURL string,
	refresh time.Duration) {

	// initial synchronous load so requests never observe nil tables
	reloadBootstrap(dir, serviceURL)

	if refresh <= 0 {
		return
	}

	// enforce a minimum refresh time
	minTime := time.Minute
	if refresh < minTime {
		log.WithFields(log.Fields{
			"interval": refresh,
		}).Error("Enforcing minimum bootstrap refresh time of 1 minute")

		refresh = minTime
	}

	go func() {
		for range time.Tick(refresh) {
			log.Debug("Bootstrap refresh timer")
			reloadBootstrap(dir, serviceURL)
		}
	}()

}

//////////////////////////////////////////////////////////////////////////
// end of code
