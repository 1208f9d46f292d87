//////////////////////////////////////////////////////////////////////////
// RDAP Registry Server
//////////////////////////////////////////////////////////////////////////

package main

//////////////////////////////////////////////////////////////////////////

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

//////////////////////////////////////////////////////////////////////////
// register the api

func init() {
	EventBus.Listen("APIEndpoint", InitMetricsAPI)
}

//////////////////////////////////////////////////////////////////////////
// query counters, by object class and outcome

var queriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rdapsrv_queries_total",
		Help: "RDAP queries processed, by object class and outcome.",
	},
	[]string{"class", "outcome"},
)

func countQuery(class, outcome string) {
	queriesTotal.WithLabelValues(class, outcome).Inc()
}

//////////////////////////////////////////////////////////////////////////
// called from main to install the metrics endpoint

func InitMetricsAPI(params ...interface{}) {

	router := params[0].(*mux.Router)

	prometheus.MustRegister(queriesTotal)
	router.Handle("/metrics", promhttp.Handler())

	log.Info("Metrics API installed")
}

//////////////////////////////////////////////////////////////////////////
// end of code
