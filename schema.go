//////////////////////////////////////////////////////////////////////////
// RDAP Registry Server
//////////////////////////////////////////////////////////////////////////

package main

//////////////////////////////////////////////////////////////////////////

import (
	"encoding/json"
)

//////////////////////////////////////////////////////////////////////////
// RFC 9083 response object model
//
// these structures are only ever built and marshalled, never parsed,
// so the JSON tags are the single source of truth for member names

// conformance level declared on every topmost response object
const RDAPLevel0 = "rdap_level_0"

// media type for all responses (RFC 7480)
const RDAPContentType = "application/rdap+json"

// Link signifies a link to another resource (RFC 9083 section 4.2)
type Link struct {
	Value string `json:"value,omitempty"`
	Rel   string `json:"rel,omitempty"`
	Href  string `json:"href"`
	Title string `json:"title,omitempty"`
	Type  string `json:"type,omitempty"`
}

// Notice contains information about the entire response
// (RFC 9083 section 4.3)
type Notice struct {
	Title       string   `json:"title,omitempty"`
	Type        string   `json:"type,omitempty"`
	Description []string `json:"description"`
	Links       []Link   `json:"links,omitempty"`
}

// Remark contains information about the containing object
// (RFC 9083 section 4.3)
type Remark struct {
	Title       string   `json:"title,omitempty"`
	Type        string   `json:"type,omitempty"`
	Description []string `json:"description"`
	Links       []Link   `json:"links,omitempty"`
}

// Event records something that has occurred, or may occur in the
// future (RFC 9083 section 4.5)
type Event struct {
	Action string `json:"eventAction"`
	Actor  string `json:"eventActor,omitempty"`
	Date   string `json:"eventDate"`
}

// PublicID maps a public identifier to an object class
// (RFC 9083 section 4.8)
type PublicID struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier"`
}

//////////////////////////////////////////////////////////////////////////
// members common to all object classes

type Common struct {
	Conformance []string `json:"rdapConformance,omitempty"`
	Notices     []Notice `json:"notices,omitempty"`

	ObjectClassName string   `json:"objectClassName,omitempty"`
	Handle          string   `json:"handle,omitempty"`
	Status          []string `json:"status,omitempty"`
	Entities        []Entity `json:"entities,omitempty"`
	Remarks         []Remark `json:"remarks,omitempty"`
	Links           []Link   `json:"links,omitempty"`
	Events          []Event  `json:"events,omitempty"`
	Port43          string   `json:"port43,omitempty"`
}

//////////////////////////////////////////////////////////////////////////
// object classes (RFC 9083 section 5)

type Domain struct {
	Common
	LDHName     string       `json:"ldhName,omitempty"`
	UnicodeName string       `json:"unicodeName,omitempty"`
	Nameservers []Nameserver `json:"nameservers,omitempty"`
	SecureDNS   *SecureDNS   `json:"secureDNS,omitempty"`
	Network     *IPNetwork   `json:"network,omitempty"`
}

type SecureDNS struct {
	DelegationSigned bool `json:"delegationSigned"`
}

type Nameserver struct {
	Common
	LDHName     string       `json:"ldhName,omitempty"`
	IPAddresses *IPAddresses `json:"ipAddresses,omitempty"`
}

type IPAddresses struct {
	V4 []string `json:"v4,omitempty"`
	V6 []string `json:"v6,omitempty"`
}

type Entity struct {
	Common
	VCard     VCard      `json:"vcardArray,omitempty"`
	Roles     []string   `json:"roles,omitempty"`
	PublicIDs []PublicID `json:"publicIds,omitempty"`
}

type Autnum struct {
	Common
	StartAutnum uint32 `json:"startAutnum"`
	EndAutnum   uint32 `json:"endAutnum"`
	Name        string `json:"name,omitempty"`
	Type        string `json:"type,omitempty"`
	Country     string `json:"country,omitempty"`
}

type IPNetwork struct {
	Common
	StartAddress string `json:"startAddress,omitempty"`
	EndAddress   string `json:"endAddress,omitempty"`
	IPVersion    string `json:"ipVersion,omitempty"`
	Name         string `json:"name,omitempty"`
	Type         string `json:"type,omitempty"`
	Country      string `json:"country,omitempty"`
	ParentHandle string `json:"parentHandle,omitempty"`
}

//////////////////////////////////////////////////////////////////////////
// error and help responses (RFC 9083 sections 6 and 7)

type RDAPError struct {
	Conformance []string `json:"rdapConformance"`
	Notices     []Notice `json:"notices,omitempty"`
	Links       []Link   `json:"links,omitempty"`
	ErrorCode   int      `json:"errorCode"`
	Title       string   `json:"title,omitempty"`
	Description []string `json:"description,omitempty"`
}

type Help struct {
	Conformance []string `json:"rdapConformance"`
	Notices     []Notice `json:"notices"`
}

//////////////////////////////////////////////////////////////////////////
// search responses (RFC 9083 section 8)

type DomainSearch struct {
	Conformance []string `json:"rdapConformance"`
	Notices     []Notice `json:"notices,omitempty"`
	Results     []Domain `json:"domainSearchResults"`
}

type NameserverSearch struct {
	Conformance []string     `json:"rdapConformance"`
	Notices     []Notice     `json:"notices,omitempty"`
	Results     []Nameserver `json:"nameserverSearchResults"`
}

type EntitySearch struct {
	Conformance []string `json:"rdapConformance"`
	Notices     []Notice `json:"notices,omitempty"`
	Results     []Entity `json:"entitySearchResults"`
}

//////////////////////////////////////////////////////////////////////////
// jCard construction (RFC 7095)
//
// each property is the usual [name, params, type, value] quad, the
// whole card marshals as ["vcard", [properties...]]

type VCard [][]interface{}

// start a new card with the mandatory version and fn properties
func NewVCard(fullName string) VCard {
	return VCard{
		{"version", struct{}{}, "text", "4.0"},
		{"fn", struct{}{}, "text", fullName},
	}
}

// append a property to the card
func (vc VCard) Add(name string, params interface{},
	vtype string, value interface{}) VCard {

	if params == nil {
		params = struct{}{}
	}
	return append(vc, []interface{}{name, params, vtype, value})
}

// drop all properties with the given names, returning the remainder
// and the names actually removed
func (vc VCard) Strip(names []string) (VCard, []string) {

	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}

	var removed []string
	kept := make(VCard, 0, len(vc))
	for _, prop := range vc {
		name, _ := prop[0].(string)
		if drop[name] {
			removed = append(removed, name)
		} else {
			kept = append(kept, prop)
		}
	}

	return kept, removed
}

func (vc VCard) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{"vcard", [][]interface{}(vc)})
}

//////////////////////////////////////////////////////////////////////////
// status vocabulary
//
// the combined RFC 9083 section 10.2.2 and RFC 8056 value sets,
// treated as a closed set: backend values outside it are dropped by
// the assembler and noted in the response

var rdapStatusValues = map[string]bool{
	"validated":                  true,
	"renew prohibited":           true,
	"update prohibited":          true,
	"transfer prohibited":        true,
	"delete prohibited":          true,
	"proxy":                      true,
	"private":                    true,
	"removed":                    true,
	"obscured":                   true,
	"associated":                 true,
	"active":                     true,
	"inactive":                   true,
	"locked":                     true,
	"pending create":             true,
	"pending renew":              true,
	"pending transfer":           true,
	"pending update":             true,
	"pending delete":             true,
	"add period":                 true,
	"auto renew period":          true,
	"client delete prohibited":   true,
	"client hold":                true,
	"client renew prohibited":    true,
	"client transfer prohibited": true,
	"client update prohibited":   true,
	"pending restore":            true,
	"redemption period":          true,
	"renew period":               true,
	"server delete prohibited":   true,
	"server hold":                true,
	"server renew prohibited":    true,
	"server transfer prohibited": true,
	"server update prohibited":   true,
	"transfer period":            true,
}

//////////////////////////////////////////////////////////////////////////
// end of code
