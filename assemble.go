//////////////////////////////////////////////////////////////////////////
// RDAP Registry Server
//////////////////////////////////////////////////////////////////////////

package main

//////////////////////////////////////////////////////////////////////////

import (
	"encoding/json"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/idna"
)

//////////////////////////////////////////////////////////////////////////
// disclosure policy
//
// which jCard properties to withhold, per entity role; the policy is
// configuration, the assembler never invents redactions

type RedactionPolicy struct {
	Roles map[string][]string `json:"roles"`
}

func LoadRedactionPolicy(path string) (*RedactionPolicy, error) {

	if path == "" {
		return &RedactionPolicy{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading redaction policy")
	}

	var policy RedactionPolicy
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, errors.Wrap(err, "parsing redaction policy")
	}

	return &policy, nil
}

// union of the redacted properties across an entity's roles; records
// without any role fall under the policy's "default" key
func (p *RedactionPolicy) FieldsForRoles(roles []string) []string {

	if p == nil || len(p.Roles) == 0 {
		return nil
	}

	if len(roles) == 0 {
		roles = []string{"default"}
	}

	seen := make(map[string]bool)
	var fields []string
	for _, role := range roles {
		for _, field := range p.Roles[role] {
			if !seen[field] {
				seen[field] = true
				fields = append(fields, field)
			}
		}
	}

	return fields
}

//////////////////////////////////////////////////////////////////////////
// response assembler
//
// maps a backend record (or the absence of one) plus query context to
// an RFC 9083 object graph

type Assembler struct {
	ServiceURL   string
	TermsURL     string
	RedirectCode int
	Policy       *RedactionPolicy
}

func conformance() []string {
	return []string{RDAPLevel0}
}

// terms of service notice attached to every response
func (a *Assembler) tosNotice() Notice {

	notice := Notice{
		Title:       "Terms of Use",
		Description: []string{"Service subject to Terms of Use."},
	}
	if a.TermsURL != "" {
		notice.Links = []Link{{
			Href: a.TermsURL,
			Type: "text/html",
		}}
	}

	return notice
}

func (a *Assembler) selfLink(class, id string) Link {

	href := strings.TrimRight(a.ServiceURL, "/") + "/" + class + "/" + id
	return Link{
		Value: href,
		Rel:   "self",
		Href:  href,
		Type:  RDAPContentType,
	}
}

//////////////////////////////////////////////////////////////////////////
// status vocabulary enforcement
//
// backend values outside the RFC 9083 set are dropped and noted, not
// passed through

func filterStatus(status []string) (kept []string, dropped []string) {

	for _, s := range status {
		if rdapStatusValues[s] {
			kept = append(kept, s)
		} else {
			dropped = append(dropped, s)
		}
	}

	return kept, dropped
}

//////////////////////////////////////////////////////////////////////////
// shared object members

func mapEvents(events []RegistryEvent) []Event {

	mapped := make([]Event, 0, len(events)+1)
	for _, e := range events {
		mapped = append(mapped, Event{
			Action: e.Action,
			Actor:  e.Actor,
			Date:   e.Date.UTC().Format(time.RFC3339),
		})
	}

	// stamp every object with the database currency
	mapped = append(mapped, Event{
		Action: "last update of RDAP database",
		Date:   time.Now().UTC().Format(time.RFC3339),
	})

	return mapped
}

func mapRemarks(remarks []string) []Remark {

	if len(remarks) == 0 {
		return nil
	}
	return []Remark{{Description: remarks}}
}

// build the members shared by every object class; the returned
// notices cover status values dropped and redactions applied
func (a *Assembler) buildCommon(record *RegistryRecord,
	class, id string) (Common, []Notice) {

	var notices []Notice

	status, dropped := filterStatus(record.Status)
	if len(dropped) > 0 {
		notices = append(notices, Notice{
			Title: "Status Values Omitted",
			Description: []string{
				"The following status values are not part of the RDAP status vocabulary and were omitted: " +
					strings.Join(dropped, ", "),
			},
		})
	}

	entities, redacted := a.buildEntities(record.Entities)
	if redacted {
		notices = append(notices, Notice{
			Title: "Data Redacted",
			Type:  "object redacted due to authorization",
			Description: []string{
				"Some contact data has been redacted according to the operator disclosure policy.",
			},
		})
	}

	return Common{
		ObjectClassName: class,
		Handle:          record.Handle,
		Status:          status,
		Entities:        entities,
		Remarks:         mapRemarks(record.Remarks),
		Links:           []Link{a.selfLink(class, id)},
		Events:          mapEvents(record.Events),
		Port43:          record.Port43,
	}, notices
}

//////////////////////////////////////////////////////////////////////////
// entity construction

func (a *Assembler) buildEntities(entities []RegistryEntity) ([]Entity, bool) {

	if len(entities) == 0 {
		return nil, false
	}

	redacted := false
	built := make([]Entity, 0, len(entities))
	for _, e := range entities {
		entity, r := a.buildEntity(e)
		built = append(built, entity)
		redacted = redacted || r
	}

	return built, redacted
}

func (a *Assembler) buildEntity(e RegistryEntity) (Entity, bool) {

	vcard := NewVCard(e.Name)
	if len(e.Address) > 0 {
		vcard = vcard.Add("adr", nil, "text", e.Address)
	}
	if e.Phone != "" {
		vcard = vcard.Add("tel",
			map[string][]string{"type": {"voice"}},
			"uri", "tel:"+e.Phone)
	}
	if e.Email != "" {
		vcard = vcard.Add("email", nil, "text", e.Email)
	}

	// apply the disclosure policy
	stripped, removed := vcard.Strip(a.Policy.FieldsForRoles(e.Roles))
	redacted := len(removed) > 0

	entity := Entity{
		Common: Common{
			ObjectClassName: ClassEntity,
			Handle:          e.Handle,
		},
		VCard: stripped,
		Roles: e.Roles,
	}

	if e.IANAID != "" {
		entity.PublicIDs = []PublicID{{
			Type:       "IANA Registrar ID",
			Identifier: e.IANAID,
		}}
	}

	// nested contacts, abuse under registrar and the like
	if len(e.Entities) > 0 {
		nested, r := a.buildEntities(e.Entities)
		entity.Entities = nested
		redacted = redacted || r
	}

	return entity, redacted
}

//////////////////////////////////////////////////////////////////////////
// object class assembly

func (a *Assembler) Domain(record *RegistryRecord, name string) *Domain {

	common, notices := a.buildCommon(record, ClassDomain, name)
	common.Conformance = conformance()
	common.Notices = append([]Notice{a.tosNotice()}, notices...)

	domain := &Domain{
		Common:    common,
		LDHName:   name,
		SecureDNS: &SecureDNS{DelegationSigned: record.DelegationSigned},
	}

	// surface the U-label form when the name is internationalized
	if unicode, err := idna.ToUnicode(name); err == nil && unicode != name {
		domain.UnicodeName = unicode
	}

	for _, ns := range record.Nameservers {
		domain.Nameservers = append(domain.Nameservers,
			a.nameserverStub(ns))
	}

	return domain
}

func (a *Assembler) nameserverStub(ns RegistryNameserver) Nameserver {

	nameserver := Nameserver{
		Common: Common{
			ObjectClassName: ClassNameserver,
		},
		LDHName: strings.ToLower(strings.TrimSuffix(ns.Name, ".")),
	}

	if len(ns.V4) > 0 || len(ns.V6) > 0 {
		nameserver.IPAddresses = &IPAddresses{V4: ns.V4, V6: ns.V6}
	}

	return nameserver
}

func (a *Assembler) Nameserver(record *RegistryRecord, name string) *Nameserver {

	common, notices := a.buildCommon(record, ClassNameserver, name)
	common.Conformance = conformance()
	common.Notices = append([]Notice{a.tosNotice()}, notices...)

	nameserver := &Nameserver{
		Common:  common,
		LDHName: name,
	}

	// addresses of the nameserver itself ride on a single stub row
	for _, ns := range record.Nameservers {
		if len(ns.V4) > 0 || len(ns.V6) > 0 {
			nameserver.IPAddresses = &IPAddresses{V4: ns.V4, V6: ns.V6}
			break
		}
	}

	return nameserver
}

func (a *Assembler) Entity(record *RegistryRecord, handle string) *Entity {

	common, notices := a.buildCommon(record, ClassEntity, handle)
	common.Conformance = conformance()
	common.Notices = append([]Notice{a.tosNotice()}, notices...)

	entity := &Entity{Common: common}

	if record.Name != "" {
		vcard := NewVCard(record.Name)
		stripped, removed := vcard.Strip(
			a.Policy.FieldsForRoles(nil))
		entity.VCard = stripped
		if len(removed) > 0 {
			entity.Notices = append(entity.Notices, Notice{
				Title: "Data Redacted",
				Type:  "object redacted due to authorization",
				Description: []string{
					"Some contact data has been redacted according to the operator disclosure policy.",
				},
			})
		}
	}

	return entity
}

func (a *Assembler) Autnum(record *RegistryRecord, id string) *Autnum {

	common, notices := a.buildCommon(record, ClassAutnum, id)
	common.Conformance = conformance()
	common.Notices = append([]Notice{a.tosNotice()}, notices...)

	return &Autnum{
		Common:      common,
		StartAutnum: record.StartAutnum,
		EndAutnum:   record.EndAutnum,
		Name:        record.Name,
		Type:        record.Type,
		Country:     record.Country,
	}
}

func (a *Assembler) IPNetwork(record *RegistryRecord, id string) *IPNetwork {

	common, notices := a.buildCommon(record, ClassIP, id)
	common.Conformance = conformance()
	common.Notices = append([]Notice{a.tosNotice()}, notices...)

	// the wire name differs from the query path segment
	common.ObjectClassName = "ip network"

	network := &IPNetwork{
		Common:       common,
		Name:         record.Name,
		Type:         record.Type,
		Country:      record.Country,
		ParentHandle: record.ParentHandle,
	}

	start, end, version := networkBounds(record)
	network.StartAddress = start
	network.EndAddress = end
	network.IPVersion = version

	return network
}

// bounding addresses of an ip record, derived from its prefix when
// the record does not carry an explicit range
func networkBounds(record *RegistryRecord) (string, string, string) {

	if record.StartAddress != "" && record.EndAddress != "" {
		version := "v4"
		if addr, err := netip.ParseAddr(record.StartAddress); err == nil && addr.Is6() {
			version = "v6"
		}
		return record.StartAddress, record.EndAddress, version
	}

	prefix, err := netip.ParsePrefix(record.Prefix)
	if err != nil {
		log.WithFields(log.Fields{
			"handle": record.Handle,
			"prefix": record.Prefix,
		}).Error("IP record with unusable prefix")
		return "", "", ""
	}
	prefix = prefix.Masked()

	version := "v4"
	if prefix.Addr().Is6() {
		version = "v6"
	}

	return prefix.Addr().String(), lastAddr(prefix).String(), version
}

// highest address covered by a prefix
func lastAddr(prefix netip.Prefix) netip.Addr {

	if prefix.Addr().Is4() {
		raw := prefix.Addr().As4()
		for b := prefix.Bits(); b < 32; b++ {
			raw[b/8] |= 1 << (7 - b%8)
		}
		return netip.AddrFrom4(raw)
	}

	raw := prefix.Addr().As16()
	for b := prefix.Bits(); b < 128; b++ {
		raw[b/8] |= 1 << (7 - b%8)
	}
	return netip.AddrFrom16(raw)
}

//////////////////////////////////////////////////////////////////////////
// search result assembly

// notice describing server imposed truncation (RFC 9083 section 9)
func truncationNotice() Notice {
	return Notice{
		Title: "Search Results Truncated",
		Type:  "result set truncated due to excessive load",
		Description: []string{
			"The number of matches exceeded the server search limit, the result set has been truncated.",
		},
	}
}

func (a *Assembler) DomainSearch(records []*RegistryRecord,
	truncated bool) *DomainSearch {

	search := &DomainSearch{
		Conformance: conformance(),
		Notices:     []Notice{a.tosNotice()},
		Results:     []Domain{},
	}
	if truncated {
		search.Notices = append(search.Notices, truncationNotice())
	}

	for _, record := range records {
		name, err := ValidateDomainName(record.Name)
		if err != nil {
			continue
		}
		domain := a.Domain(record, name)

		// conformance and notices belong to the topmost object only
		domain.Conformance = nil
		domain.Notices = nil
		search.Results = append(search.Results, *domain)
	}

	return search
}

func (a *Assembler) NameserverSearch(records []*RegistryRecord,
	truncated bool) *NameserverSearch {

	search := &NameserverSearch{
		Conformance: conformance(),
		Notices:     []Notice{a.tosNotice()},
		Results:     []Nameserver{},
	}
	if truncated {
		search.Notices = append(search.Notices, truncationNotice())
	}

	for _, record := range records {
		name, err := ValidateDomainName(record.Name)
		if err != nil {
			continue
		}
		nameserver := a.Nameserver(record, name)
		nameserver.Conformance = nil
		nameserver.Notices = nil
		search.Results = append(search.Results, *nameserver)
	}

	return search
}

func (a *Assembler) EntitySearch(records []*RegistryRecord,
	truncated bool) *EntitySearch {

	search := &EntitySearch{
		Conformance: conformance(),
		Notices:     []Notice{a.tosNotice()},
		Results:     []Entity{},
	}
	if truncated {
		search.Notices = append(search.Notices, truncationNotice())
	}

	for _, record := range records {
		entity := a.Entity(record, record.Handle)
		entity.Conformance = nil
		entity.Notices = nil
		search.Results = append(search.Results, *entity)
	}

	return search
}

//////////////////////////////////////////////////////////////////////////
// error and help responses

func (a *Assembler) Error(code int, title string, description ...string) *RDAPError {

	return &RDAPError{
		Conformance: conformance(),
		Notices:     []Notice{a.tosNotice()},
		ErrorCode:   code,
		Title:       title,
		Description: description,
	}
}

// redirect body: an error-styled object carrying the authoritative
// service list; the first URL also goes in the Location header
func (a *Assembler) Redirect(class, id string, urls []string) *RDAPError {

	response := a.Error(a.RedirectCode, "Redirect",
		"This server is not authoritative for the requested object.")

	// the first URL is already carried in the Location header, the
	// remaining choices surface as alternates
	for ix, base := range urls {
		rel := "alternate"
		if ix == 0 {
			rel = "related"
		}
		href := strings.TrimRight(base, "/") + "/" + class + "/" + id
		response.Links = append(response.Links, Link{
			Value: href,
			Rel:   rel,
			Href:  href,
			Type:  RDAPContentType,
		})
	}

	return response
}

// target of the Location header for a redirect decision
func RedirectLocation(base, class, id string) string {
	return strings.TrimRight(base, "/") + "/" + class + "/" + id
}

func (a *Assembler) Help(classes []string) *Help {

	description := []string{
		"This server answers RDAP queries under " + a.ServiceURL + ".",
	}
	if len(classes) > 0 {
		description = append(description,
			"Authoritative object classes: "+strings.Join(classes, ", ")+".")
	}

	return &Help{
		Conformance: conformance(),
		Notices: []Notice{
			{
				Title:       "Service Information",
				Description: description,
				Links: []Link{{
					Value: strings.TrimRight(a.ServiceURL, "/") + "/help",
					Rel:   "self",
					Href:  strings.TrimRight(a.ServiceURL, "/") + "/help",
					Type:  RDAPContentType,
				}},
			},
			a.tosNotice(),
		},
	}
}

//////////////////////////////////////////////////////////////////////////
// end of code
