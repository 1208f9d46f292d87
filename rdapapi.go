//////////////////////////////////////////////////////////////////////////
// RDAP Registry Server
//////////////////////////////////////////////////////////////////////////

package main

//////////////////////////////////////////////////////////////////////////

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

//////////////////////////////////////////////////////////////////////////
// register the api

func init() {
	EventBus.Listen("APIEndpoint", InitRDAPAPI)
}

//////////////////////////////////////////////////////////////////////////
// service state
//
// wired together in main before the routes are installed; request
// handlers share no mutable state beyond the limiter counters and the
// bootstrap tables

type RDAPService struct {
	Store          RegistryStore
	Limiter        *RateLimiter
	Assemble       *Assembler
	BackendTimeout time.Duration
	SearchLimit    int
	SearchEnabled  bool
	TrustProxy     bool
}

var Service *RDAPService

//////////////////////////////////////////////////////////////////////////
// called from main to initialise the API routing (RFC 9082 paths)

func InitRDAPAPI(params ...interface{}) {

	router := params[0].(*mux.Router)

	s := router.
		Methods("GET", "HEAD").
		Subrouter()

	s.HandleFunc("/domain/{name}", lookupHandler(ClassDomain, "name"))
	s.HandleFunc("/nameserver/{name}", lookupHandler(ClassNameserver, "name"))
	s.HandleFunc("/entity/{handle}", lookupHandler(ClassEntity, "handle"))
	s.HandleFunc("/autnum/{number}", lookupHandler(ClassAutnum, "number"))
	s.HandleFunc("/ip/{address}", ipHandler)
	s.HandleFunc("/ip/{address}/{mask}", ipHandler)

	s.HandleFunc("/domains", searchHandler(ClassDomain, "name"))
	s.HandleFunc("/nameservers", searchHandler(ClassNameserver, "name"))
	s.HandleFunc("/entities", searchHandler(ClassEntity, "handle"))

	s.HandleFunc("/help", helpHandler)

	// unknown paths still get an RDAP error body
	router.NotFoundHandler = http.HandlerFunc(notFoundHandler)
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	log.Info("RDAP API installed")
}

//////////////////////////////////////////////////////////////////////////
// response helper

func ResponseRDAP(w http.ResponseWriter, status int, v interface{}) {

	w.Header().Set("Content-Type", RDAPContentType)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)

	if err := writeJSON(w, v); err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Error("Failed to marshal RDAP response")
	}
}

//////////////////////////////////////////////////////////////////////////
// client identity for rate limiting

func clientAddr(r *http.Request) string {

	if Service.TrustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			if ix := strings.IndexByte(fwd, ','); ix >= 0 {
				fwd = fwd[:ix]
			}
			return strings.TrimSpace(fwd)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// returns false when the request was denied and answered
func checkRateLimit(w http.ResponseWriter, r *http.Request, class string) bool {

	allowed, retry := Service.Limiter.Check(clientAddr(r))
	if allowed {
		return true
	}

	seconds := int(retry / time.Second)
	if retry%time.Second > 0 {
		seconds++
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))

	countQuery(class, "rate_limited")
	ResponseRDAP(w, http.StatusTooManyRequests,
		Service.Assemble.Error(http.StatusTooManyRequests,
			"Too Many Requests",
			"The query rate limit has been exceeded, try again later."))
	return false
}

//////////////////////////////////////////////////////////////////////////
// lookup orchestration
//
// validate, rate check, bootstrap decide, then (only if this server
// is authoritative) look up the backend and assemble

func lookupHandler(class, pathVar string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handleLookup(w, r, class, mux.Vars(r)[pathVar])
	}
}

// ip queries may carry the mask as a separate path segment
func ipHandler(w http.ResponseWriter, r *http.Request) {

	vars := mux.Vars(r)
	address := vars["address"]
	if mask, ok := vars["mask"]; ok {
		address += "/" + mask
	}

	handleLookup(w, r, ClassIP, address)
}

func handleLookup(w http.ResponseWriter, r *http.Request, class, raw string) {

	// validation first, so hopelessly malformed requests are not
	// charged against the client quota
	id, err := ValidateIdentifier(class, raw)
	if err != nil {
		countQuery(class, "bad_request")
		ResponseRDAP(w, http.StatusBadRequest,
			Service.Assemble.Error(http.StatusBadRequest,
				"Bad Request", err.Error()))
		return
	}

	if !checkRateLimit(w, r, class) {
		return
	}

	// is this server authoritative for the object ?
	decision, urls := CurrentBootstrap().Resolve(class, id)
	switch decision {

	case BootstrapRedirect:
		w.Header().Set("Location", RedirectLocation(urls[0], class, id))
		countQuery(class, "redirect")
		ResponseRDAP(w, Service.Assemble.RedirectCode,
			Service.Assemble.Redirect(class, id, urls))
		return

	case BootstrapUnknown:
		countQuery(class, "not_found")
		ResponseRDAP(w, http.StatusNotFound,
			Service.Assemble.Error(http.StatusNotFound,
				"Not Found", "The requested object does not exist."))
		return
	}

	// authoritative, ask the backend
	ctx, cancel := context.WithTimeout(r.Context(), Service.BackendTimeout)
	defer cancel()

	var record *RegistryRecord
	var lookupErr error

	if class == ClassIP {
		prefix, perr := netip.ParsePrefix(id)
		if perr != nil {
			lookupErr = perr
		} else {
			record, lookupErr = Service.Store.LookupNetwork(ctx, prefix)
		}
	} else {
		record, lookupErr = Service.Store.Lookup(ctx, class, id)
	}

	if lookupErr != nil {

		// client went away, discard the result quietly
		if r.Context().Err() != nil {
			return
		}

		if errors.Cause(lookupErr) == ErrNotFound {
			countQuery(class, "not_found")
			ResponseRDAP(w, http.StatusNotFound,
				Service.Assemble.Error(http.StatusNotFound,
					"Not Found", "The requested object does not exist."))
			return
		}

		// backend details are logged, never sent to the client
		log.WithFields(log.Fields{
			"class": class,
			"id":    id,
			"error": lookupErr,
		}).Error("Backend lookup failed")

		countQuery(class, "backend_error")
		ResponseRDAP(w, http.StatusInternalServerError,
			Service.Assemble.Error(http.StatusInternalServerError,
				"Internal Server Error", "An internal error occurred."))
		return
	}

	var body interface{}
	switch class {
	case ClassDomain:
		body = Service.Assemble.Domain(record, id)
	case ClassNameserver:
		body = Service.Assemble.Nameserver(record, id)
	case ClassEntity:
		body = Service.Assemble.Entity(record, id)
	case ClassAutnum:
		body = Service.Assemble.Autnum(record, id)
	case ClassIP:
		body = Service.Assemble.IPNetwork(record, id)
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	countQuery(class, "ok")
	ResponseRDAP(w, http.StatusOK, body)
}

//////////////////////////////////////////////////////////////////////////
// search orchestration
//
// searches are answered from local data only and never redirected

const maxSearchPattern = 253

func searchHandler(class, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handleSearch(w, r, class, param)
	}
}

func validSearchPattern(pattern string) bool {

	if pattern == "" || len(pattern) > maxSearchPattern {
		return false
	}

	// at most one wildcard, at the end
	if ix := strings.IndexByte(pattern, '*'); ix >= 0 && ix != len(pattern)-1 {
		return false
	}

	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.' || c == ':' || c == '*':
		default:
			return false
		}
	}

	return true
}

func handleSearch(w http.ResponseWriter, r *http.Request, class, param string) {

	if !Service.SearchEnabled {
		countQuery(class, "not_implemented")
		ResponseRDAP(w, http.StatusNotImplemented,
			Service.Assemble.Error(http.StatusNotImplemented,
				"Not Implemented", "Search is not supported by this server."))
		return
	}

	pattern := r.URL.Query().Get(param)
	if !validSearchPattern(pattern) {
		countQuery(class, "bad_request")
		ResponseRDAP(w, http.StatusBadRequest,
			Service.Assemble.Error(http.StatusBadRequest,
				"Bad Request",
				"A valid '"+param+"' query parameter is required."))
		return
	}

	if !checkRateLimit(w, r, class) {
		return
	}

	// domain and nameserver keys are case folded at load
	if class != ClassEntity {
		pattern = strings.ToLower(pattern)
	}

	ctx, cancel := context.WithTimeout(r.Context(), Service.BackendTimeout)
	defer cancel()

	results, truncated, err := Service.Store.Search(ctx, class,
		pattern, Service.SearchLimit)
	if err != nil {

		if r.Context().Err() != nil {
			return
		}

		log.WithFields(log.Fields{
			"class":   class,
			"pattern": pattern,
			"error":   err,
		}).Error("Backend search failed")

		countQuery(class, "backend_error")
		ResponseRDAP(w, http.StatusInternalServerError,
			Service.Assemble.Error(http.StatusInternalServerError,
				"Internal Server Error", "An internal error occurred."))
		return
	}

	var body interface{}
	switch class {
	case ClassDomain:
		body = Service.Assemble.DomainSearch(results, truncated)
	case ClassNameserver:
		body = Service.Assemble.NameserverSearch(results, truncated)
	case ClassEntity:
		body = Service.Assemble.EntitySearch(results, truncated)
	}

	countQuery(class, "ok")
	ResponseRDAP(w, http.StatusOK, body)
}

//////////////////////////////////////////////////////////////////////////
// help and fallthrough handlers

func helpHandler(w http.ResponseWriter, r *http.Request) {

	if !checkRateLimit(w, r, "help") {
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	countQuery("help", "ok")
	ResponseRDAP(w, http.StatusOK,
		Service.Assemble.Help(Service.Store.Classes()))
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {

	countQuery("unknown", "not_found")
	ResponseRDAP(w, http.StatusNotFound,
		Service.Assemble.Error(http.StatusNotFound,
			"Not Found", "The requested path is not a valid RDAP query."))
}

func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {

	countQuery("unknown", "bad_request")
	ResponseRDAP(w, http.StatusMethodNotAllowed,
		Service.Assemble.Error(http.StatusMethodNotAllowed,
			"Method Not Allowed", "Only GET and HEAD are supported."))
}

//////////////////////////////////////////////////////////////////////////
// end of code
