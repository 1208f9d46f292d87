//////////////////////////////////////////////////////////////////////////
// RDAP Registry Server
//////////////////////////////////////////////////////////////////////////

package main

//////////////////////////////////////////////////////////////////////////

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

//////////////////////////////////////////////////////////////////////////
// object classes

const (
	ClassDomain     = "domain"
	ClassNameserver = "nameserver"
	ClassEntity     = "entity"
	ClassAutnum     = "autnum"
	ClassIP         = "ip"
)

//////////////////////////////////////////////////////////////////////////
// validation errors
//
// a failed validation surfaces to the client as a 400 with an RDAP
// error body, so the reason must be safe to echo back

type InvalidIdentifierError struct {
	Class  string
	Value  string
	Reason string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid %s identifier %q: %s",
		e.Class, e.Value, e.Reason)
}

func invalidIdentifier(class, value, reason string) error {
	return &InvalidIdentifierError{
		Class:  class,
		Value:  value,
		Reason: reason,
	}
}

//////////////////////////////////////////////////////////////////////////
// domain and nameserver names
//
// IDN labels are mapped to their A-label form before lookup, names
// are case folded and any single trailing dot is stripped, so
// validation is idempotent on its own output

// lookup profile per UTS 46, with DNS length rules enforced
var idnaLookup = idna.New(
	idna.MapForLookup(),
	idna.VerifyDNSLength(true),
)

func ValidateDomainName(raw string) (string, error) {

	name := strings.TrimSuffix(raw, ".")
	if name == "" {
		return "", invalidIdentifier(ClassDomain, raw, "empty name")
	}

	ascii, err := idnaLookup.ToASCII(strings.ToLower(name))
	if err != nil {
		return "", invalidIdentifier(ClassDomain, raw, "not a valid DNS name")
	}

	return ascii, nil
}

//////////////////////////////////////////////////////////////////////////
// IP addresses and networks
//
// a bare address is treated as a host query, /32 or /128

func ValidateIPQuery(raw string) (netip.Prefix, error) {

	if prefix, err := netip.ParsePrefix(raw); err == nil {
		return prefix.Masked(), nil
	}

	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{},
			invalidIdentifier(ClassIP, raw, "not an IP address or CIDR network")
	}

	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

//////////////////////////////////////////////////////////////////////////
// AS numbers
//
// 32 bit number, an optional AS prefix is accepted in any case

func ValidateAutnum(raw string) (uint32, error) {

	s := raw
	if len(s) >= 2 && strings.EqualFold(s[:2], "AS") {
		s = s[2:]
	}

	number, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, invalidIdentifier(ClassAutnum, raw,
			"not a valid 32 bit AS number")
	}

	return uint32(number), nil
}

//////////////////////////////////////////////////////////////////////////
// entity handles
//
// opaque registry tokens, length bounded with a restricted character
// set

const maxHandleLength = 64

func ValidateHandle(raw string) (string, error) {

	if len(raw) == 0 || len(raw) > maxHandleLength {
		return "", invalidIdentifier(ClassEntity, raw,
			"handle must be between 1 and 64 characters")
	}

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.' || c == ':':
		default:
			return "", invalidIdentifier(ClassEntity, raw,
				"handle contains an invalid character")
		}
	}

	return raw, nil
}

//////////////////////////////////////////////////////////////////////////
// class dispatch, returns the normalized identifier used for both
// bootstrap resolution and backend lookup

func ValidateIdentifier(class, raw string) (string, error) {

	switch class {

	case ClassDomain, ClassNameserver:
		name, err := ValidateDomainName(raw)
		if err != nil && class == ClassNameserver {
			return "", invalidIdentifier(ClassNameserver, raw,
				"not a valid DNS name")
		}
		return name, err

	case ClassIP:
		prefix, err := ValidateIPQuery(raw)
		if err != nil {
			return "", err
		}
		return prefix.String(), nil

	case ClassAutnum:
		number, err := ValidateAutnum(raw)
		if err != nil {
			return "", err
		}
		return strconv.FormatUint(uint64(number), 10), nil

	case ClassEntity:
		return ValidateHandle(raw)
	}

	return "", invalidIdentifier(class, raw, "unknown object class")
}

//////////////////////////////////////////////////////////////////////////
// end of code
