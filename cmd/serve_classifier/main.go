// Command serve_classifier serves a classifier artifact over HTTP.
//
//	POST /classify  {"query": "foo=1%27%20or%201=1%2D%2D"}
//	GET  /health
//	GET  /metrics
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/snort3/libml"
	"github.com/snort3/libml/config"
	"github.com/snort3/libml/inference"
	"github.com/snort3/libml/logging"
)

func main() {
	modelPath := flag.String("model", "classifier.model", "classifier artifact")
	port := flag.Int("port", 8080, "Port to serve on")
	threshold := flag.Float64("threshold", 0.5, "attack score threshold")
	level := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	logger, err := logging.New(config.Log{Level: *level, Encoding: "json"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	clf, err := inference.LoadFile(*modelPath)
	if err != nil {
		logger.Fatal("Failed to load model", zap.String("path", *modelPath), zap.Error(err))
	}
	h := clf.Header()
	logger.Info("Model loaded",
		zap.String("version", libml.Version),
		zap.String("run_id", h.RunID),
		zap.String("quantization", h.Quantization.Mode),
		zap.Int("input_size", clf.InputSize()),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mux := inference.NewServer(clf, float32(*threshold), logger, reg).Routes()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("Listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal("Server stopped", zap.Error(err))
	}
}
