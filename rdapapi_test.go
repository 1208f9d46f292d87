//////////////////////////////////////////////////////////////////////////
// RDAP Registry Server
//////////////////////////////////////////////////////////////////////////

package main

//////////////////////////////////////////////////////////////////////////

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//////////////////////////////////////////////////////////////////////////
// service fixture
//
// a real router and store, with a spy in front of the store to prove
// which outcomes short circuit before the backend

type spyStore struct {
	RegistryStore
	lookups int
}

func (s *spyStore) Lookup(ctx context.Context, class,
	id string) (*RegistryRecord, error) {

	s.lookups++
	return s.RegistryStore.Lookup(ctx, class, id)
}

func (s *spyStore) LookupNetwork(ctx context.Context,
	query netip.Prefix) (*RegistryRecord, error) {

	s.lookups++
	return s.RegistryStore.LookupNetwork(ctx, query)
}

func newTestService(t *testing.T) (*mux.Router, *spyStore) {
	t.Helper()

	store, err := NewMemStore(testDataDir(t))
	require.NoError(t, err)
	spy := &spyStore{RegistryStore: store}

	Service = &RDAPService{
		Store:   spy,
		Limiter: NewRateLimiter(0, time.Minute),
		Assemble: &Assembler{
			ServiceURL:   testServiceURL,
			TermsURL:     "https://www.example.net/tos",
			RedirectCode: http.StatusFound,
			Policy:       &RedactionPolicy{},
		},
		BackendTimeout: 5 * time.Second,
		SearchLimit:    50,
		SearchEnabled:  true,
	}

	bootstrapTables.Store(buildTestBootstrap())

	router := mux.NewRouter()
	InitRDAPAPI(router)

	return router, spy
}

func doRequest(router *mux.Router, method, target string) *httptest.ResponseRecorder {

	request := httptest.NewRequest(method, target, nil)
	request.RemoteAddr = "192.0.2.55:40000"

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	return body
}

//////////////////////////////////////////////////////////////////////////
// lookups

func TestAPIDomainLookup(t *testing.T) {

	router, spy := newTestService(t)

	recorder := doRequest(router, "GET", "/domain/example.com")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, RDAPContentType,
		recorder.Header().Get("Content-Type"))
	assert.Equal(t, "*",
		recorder.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "public, max-age=3600",
		recorder.Header().Get("Cache-Control"))
	assert.Equal(t, 1, spy.lookups)

	body := decodeBody(t, recorder)
	assert.Equal(t, "domain", body["objectClassName"])
	assert.Equal(t, "example.com", body["ldhName"])
	assert.Equal(t, []interface{}{"active"}, body["status"])
	assert.Equal(t, []interface{}{RDAPLevel0}, body["rdapConformance"])
	assert.Len(t, body["nameservers"], 2)
	assert.Len(t, body["entities"], 1)
	assert.NotNil(t, body["secureDNS"])
}

func TestAPIDomainLookupNormalizes(t *testing.T) {

	router, _ := newTestService(t)

	// mixed case with a trailing dot resolves to the same object
	recorder := doRequest(router, "GET", "/domain/Example.COM.")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "example.com", decodeBody(t, recorder)["ldhName"])
}

func TestAPIIPLookup(t *testing.T) {

	router, _ := newTestService(t)

	recorder := doRequest(router, "GET", "/ip/203.0.113.50")
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, "ip network", body["objectClassName"])
	assert.Equal(t, "NET-203-0-113", body["handle"])
	assert.Equal(t, "203.0.113.0", body["startAddress"])
	assert.Equal(t, "203.0.113.255", body["endAddress"])
	assert.Equal(t, "v4", body["ipVersion"])

	// mask as a separate path segment
	recorder = doRequest(router, "GET", "/ip/203.0.113.0/24")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "NET-203-0-113", decodeBody(t, recorder)["handle"])
}

func TestAPIAutnumLookup(t *testing.T) {

	router, _ := newTestService(t)

	// the AS prefix is accepted and the range covers the number
	recorder := doRequest(router, "GET", "/autnum/AS64505")
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, "autnum", body["objectClassName"])
	assert.Equal(t, "AS64500-HANDLE", body["handle"])
	assert.Equal(t, float64(64500), body["startAutnum"])
	assert.Equal(t, float64(64510), body["endAutnum"])
}

func TestAPIEntityLookup(t *testing.T) {

	router, _ := newTestService(t)

	// the handle carries the locally served object tag
	recorder := doRequest(router, "GET", "/entity/OPS-XXXX")
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, "entity", body["objectClassName"])
	assert.Equal(t, "OPS-XXXX", body["handle"])
	assert.NotNil(t, body["vcardArray"])

	// an unrecognised tag is not served here
	recorder = doRequest(router, "GET", "/entity/REG-ZZZZ")
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

//////////////////////////////////////////////////////////////////////////
// negative outcomes

func TestAPINotFound(t *testing.T) {

	router, spy := newTestService(t)

	// no registry covers the TLD, the backend is never consulted
	recorder := doRequest(router, "GET", "/domain/nonexistent.invalidtld")
	require.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Equal(t, 0, spy.lookups)

	body := decodeBody(t, recorder)
	assert.Equal(t, float64(404), body["errorCode"])

	// authoritative but absent, the backend is consulted
	recorder = doRequest(router, "GET", "/domain/missing.com")
	require.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Equal(t, 1, spy.lookups)
}

func TestAPIRedirect(t *testing.T) {

	router, spy := newTestService(t)

	recorder := doRequest(router, "GET", "/domain/foo.org")
	require.Equal(t, http.StatusFound, recorder.Code)
	assert.Equal(t, "https://rdap.org.example/domain/foo.org",
		recorder.Header().Get("Location"))
	assert.Equal(t, 0, spy.lookups)

	body := decodeBody(t, recorder)
	assert.Equal(t, float64(http.StatusFound), body["errorCode"])
	assert.NotEmpty(t, body["links"])
}

func TestAPIBadRequest(t *testing.T) {

	router, spy := newTestService(t)

	recorder := doRequest(router, "GET", "/domain/exam!ple.com")
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, 0, spy.lookups)
	assert.Equal(t, float64(400), decodeBody(t, recorder)["errorCode"])

	recorder = doRequest(router, "GET", "/autnum/4294967296")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = doRequest(router, "GET", "/ip/banana")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestAPIRateLimit(t *testing.T) {

	router, _ := newTestService(t)
	Service.Limiter = NewRateLimiter(2, time.Minute)

	for i := 0; i < 2; i++ {
		recorder := doRequest(router, "GET", "/domain/example.com")
		require.Equal(t, http.StatusOK, recorder.Code)
	}

	recorder := doRequest(router, "GET", "/domain/example.com")
	require.Equal(t, http.StatusTooManyRequests, recorder.Code)
	assert.NotEmpty(t, recorder.Header().Get("Retry-After"))
	assert.Equal(t, float64(429), decodeBody(t, recorder)["errorCode"])
}

//////////////////////////////////////////////////////////////////////////
// searches

func TestAPIDomainSearch(t *testing.T) {

	router, _ := newTestService(t)

	recorder := doRequest(router, "GET", "/domains?name=ex*")
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	results, ok := body["domainSearchResults"].([]interface{})
	require.True(t, ok)
	assert.Len(t, results, 3)

	// missing or malformed patterns are rejected
	recorder = doRequest(router, "GET", "/domains")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = doRequest(router, "GET", "/domains?name=*ample.com")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestAPISearchDisabled(t *testing.T) {

	router, _ := newTestService(t)
	Service.SearchEnabled = false

	recorder := doRequest(router, "GET", "/domains?name=ex*")
	require.Equal(t, http.StatusNotImplemented, recorder.Code)
	assert.Equal(t, float64(501), decodeBody(t, recorder)["errorCode"])
}

//////////////////////////////////////////////////////////////////////////
// help and fallthrough

func TestAPIHelp(t *testing.T) {

	router, _ := newTestService(t)

	recorder := doRequest(router, "GET", "/help")
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, []interface{}{RDAPLevel0}, body["rdapConformance"])
	assert.NotEmpty(t, body["notices"])
}

func TestAPIUnknownPath(t *testing.T) {

	router, _ := newTestService(t)

	// even unroutable paths get an RDAP error body
	recorder := doRequest(router, "GET", "/bogus/path")
	require.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Equal(t, RDAPContentType,
		recorder.Header().Get("Content-Type"))
	assert.Equal(t, float64(404), decodeBody(t, recorder)["errorCode"])
}

func TestAPIMethodNotAllowed(t *testing.T) {

	router, _ := newTestService(t)

	recorder := doRequest(router, "POST", "/domain/example.com")
	require.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
	assert.Equal(t, float64(405), decodeBody(t, recorder)["errorCode"])
}

//////////////////////////////////////////////////////////////////////////
// client identity

func TestClientAddr(t *testing.T) {

	_, _ = newTestService(t)

	request := httptest.NewRequest("GET", "/help", nil)
	request.RemoteAddr = "192.0.2.55:40000"
	request.Header.Set("X-Forwarded-For", "198.51.100.7, 192.0.2.55")

	// proxy headers are ignored unless explicitly trusted
	assert.Equal(t, "192.0.2.55", clientAddr(request))

	Service.TrustProxy = true
	assert.Equal(t, "198.51.100.7", clientAddr(request))
}

//////////////////////////////////////////////////////////////////////////
// end of code
