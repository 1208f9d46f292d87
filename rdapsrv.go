//////////////////////////////////////////////////////////////////////////
// RDAP Registry Server
//////////////////////////////////////////////////////////////////////////

package main

//////////////////////////////////////////////////////////////////////////

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

//////////////////////////////////////////////////////////////////////////
// simple event bus

type NotifyFunc func(...interface{})
type SimpleEventBus map[string][]NotifyFunc

var EventBus = make(SimpleEventBus)

// add a listener to an event
func (bus SimpleEventBus) Listen(event string, nfunc NotifyFunc) {
	bus[event] = append(bus[event], nfunc)
}

// fire notifications for an event
func (bus SimpleEventBus) Fire(event string, params ...interface{}) {
	funcs := bus[event]
	if funcs != nil {
		for _, nfunc := range funcs {
			nfunc(params...)
		}
	}
}

//////////////////////////////////////////////////////////////////////////
// utility func for writing a JSON body

func writeJSON(w http.ResponseWriter, v interface{}) error {

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	_, err = w.Write(data)
	return err
}

//////////////////////////////////////////////////////////////////////////
// utility function to set the log level

func setLogLevel(levelStr string) {

	if level, err := log.ParseLevel(levelStr); err != nil {
		// failed to set the level

		// set a sensible default and, of course, log the error
		log.SetLevel(log.InfoLevel)
		log.WithFields(log.Fields{
			"loglevel": levelStr,
			"error":    err,
		}).Error("Failed to set requested log level")

	} else {

		// set the requested level
		log.SetLevel(level)

	}
}

//////////////////////////////////////////////////////////////////////////
// http request logger

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		log.WithFields(log.Fields{
			"method": r.Method,
			"URL":    r.URL.String(),
			"Remote": r.RemoteAddr,
		}).Debug("HTTP Request")

		next.ServeHTTP(w, r)
	})
}

//////////////////////////////////////////////////////////////////////////
// parse a duration option, fatal on bad values

func mustParseDuration(name, value string) time.Duration {

	d, err := time.ParseDuration(value)
	if err != nil {
		log.WithFields(log.Fields{
			"error":  err,
			"option": name,
			"value":  value,
		}).Fatal("Unable to parse duration option")
	}
	return d
}

//////////////////////////////////////////////////////////////////////////
// everything starts here

func main() {

	// set a default log level, so that logging can be used immediately
	// the level will be overidden later on once the command line
	// options are loaded
	log.SetLevel(log.InfoLevel)
	log.Info("RDAP Registry Server Starting")

	// declare cmd line options
	var (
		logLevel        = flag.StringP("LogLevel", "l", "Info", "Log level")
		bindAddress     = flag.StringP("BindAddress", "b", "[::]:8080", "Server bind address")
		dataDir         = flag.StringP("DataDir", "d", "data", "Registry record directory")
		boltPath        = flag.StringP("BoltDB", "D", "", "Bolt record store path (empty for in-memory)")
		bootstrapDir    = flag.StringP("BootstrapDir", "B", "bootstrap", "Bootstrap registry directory")
		serviceURL      = flag.StringP("ServiceURL", "u", "https://rdap.example.net", "Public base URL of this server")
		termsURL        = flag.StringP("TermsURL", "T", "", "Terms of service URL")
		refreshInterval = flag.StringP("Refresh", "i", "60m", "Bootstrap refresh interval (0 to disable)")
		backendTimeout  = flag.StringP("BackendTimeout", "t", "5s", "Backend lookup timeout")
		rateLimit       = flag.IntP("RateLimit", "r", 100, "Requests per client per window (0 to disable)")
		rateWindow      = flag.StringP("RateWindow", "w", "60s", "Rate limit window")
		searchLimit     = flag.IntP("SearchLimit", "s", 50, "Maximum search results")
		enableSearch    = flag.BoolP("EnableSearch", "S", true, "Enable search endpoints")
		redactionFile   = flag.StringP("RedactionFile", "R", "", "Disclosure policy file")
		redirectStatus  = flag.Int("RedirectStatus", http.StatusFound, "Redirect status code (301 or 302)")
		trustProxy      = flag.BoolP("TrustProxy", "p", false, "Trust X-Forwarded-For for client identity")
	)
	flag.Parse()

	// now initialise logging properly based on the cmd line options
	setLogLevel(*logLevel)

	if *redirectStatus != http.StatusMovedPermanently &&
		*redirectStatus != http.StatusFound {
		log.WithFields(log.Fields{
			"status": *redirectStatus,
		}).Fatal("Redirect status must be 301 or 302")
	}

	// load the disclosure policy
	policy, err := LoadRedactionPolicy(*redactionFile)
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
			"path":  *redactionFile,
		}).Fatal("Unable to load disclosure policy")
	}

	// load the bootstrap tables and start refreshing
	refresh := time.Duration(0)
	if *refreshInterval != "0" {
		refresh = mustParseDuration("Refresh", *refreshInterval)
	}
	InitialiseBootstrapData(*bootstrapDir, *serviceURL, refresh)

	// open the record store
	var store RegistryStore
	if *boltPath != "" {

		bolt, err := OpenBoltStore(*boltPath)
		if err != nil {
			log.WithFields(log.Fields{
				"error": err,
				"path":  *boltPath,
			}).Fatal("Unable to open record store")
		}
		defer bolt.Close()

		// refresh the store from the data directory when present
		if _, err := os.Stat(*dataDir); err == nil {
			if err := bolt.ImportDirectory(*dataDir); err != nil {
				log.WithFields(log.Fields{
					"error": err,
					"path":  *dataDir,
				}).Fatal("Unable to import registry records")
			}
		}
		store = bolt

	} else {

		mem, err := NewMemStore(*dataDir)
		if err != nil {
			log.WithFields(log.Fields{
				"error": err,
				"path":  *dataDir,
			}).Fatal("Unable to load registry records")
		}
		store = mem
	}

	// the rate limiter
	window := mustParseDuration("RateWindow", *rateWindow)
	limiter := NewRateLimiter(*rateLimit, window)
	limiter.StartPruning(window)

	// wire the service together
	Service = &RDAPService{
		Store:   store,
		Limiter: limiter,
		Assemble: &Assembler{
			ServiceURL:   *serviceURL,
			TermsURL:     *termsURL,
			RedirectCode: *redirectStatus,
			Policy:       policy,
		},
		BackendTimeout: mustParseDuration("BackendTimeout", *backendTimeout),
		SearchLimit:    *searchLimit,
		SearchEnabled:  *enableSearch,
		TrustProxy:     *trustProxy,
	}

	// initialise router
	router := mux.NewRouter()
	// global handlers, log all requests and allow compression
	router.Use(requestLogger)
	router.Use(handlers.CompressHandler)

	// add API routes
	EventBus.Fire("APIEndpoint", router)

	// initialise http server
	server := &http.Server{
		Addr:         *bindAddress,
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      router,
	}

	// run the server in a non-blocking goroutine

	log.WithFields(log.Fields{
		"BindAddress": *bindAddress,
	}).Info("Starting server")

	go func() {
		if err := server.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			log.WithFields(log.Fields{
				"error":       err,
				"BindAddress": *bindAddress,
			}).Fatal("Unable to start server")
		}
	}()

	// graceful shutdown via SIGINT (^C)
	csig := make(chan os.Signal, 1)
	signal.Notify(csig, os.Interrupt)

	// and block
	<-csig

	log.Info("Server shutting down")

	// deadline for server to shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// shutdown the server
	server.Shutdown(ctx)

	// nothing left to do
	log.Info("Shutdown complete, all done")
}

//////////////////////////////////////////////////////////////////////////
// end of code
