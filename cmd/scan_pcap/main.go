package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/snort3/libml/capture"
	"github.com/snort3/libml/config"
	"github.com/snort3/libml/inference"
	"github.com/snort3/libml/logging"
)

// ═══════════════════════════════════════════════════════════════════════════════
// OFFLINE HTTP QUERY SCANNER
// ═══════════════════════════════════════════════════════════════════════════════
//
// Reads a pcap capture, pulls the query string out of every HTTP request
// line, and scores it with a classifier artifact:
//   - percent-encoded queries are decoded first
//   - queries with broken escapes are scored as raw bytes
//   - scores at or above -threshold are reported as attacks
//
// ═══════════════════════════════════════════════════════════════════════════════

func main() {
	modelPath := flag.String("model", "classifier.model", "classifier artifact")
	threshold := flag.Float64("threshold", 0.5, "attack score threshold")
	all := flag.Bool("all", false, "print every request, not only attacks")
	level := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: scan_pcap [-model classifier.model] [-threshold 0.5] capture.pcap")
		os.Exit(2)
	}

	logger, err := logging.New(config.Log{Level: *level, Encoding: "console"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	clf, err := inference.LoadFile(*modelPath)
	if err != nil {
		logger.Fatal("Failed to load model", zap.String("path", *modelPath), zap.Error(err))
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		logger.Fatal("Failed to open capture", zap.Error(err))
	}
	defer f.Close()

	reqs, err := capture.ReadRequests(f)
	if err != nil {
		logger.Error("Capture read stopped early", zap.Int("requests", len(reqs)), zap.Error(err))
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSRC\tDST\tSCORE\tVERDICT\tQUERY")

	attacks := 0
	for _, req := range reqs {
		if req.Query == "" {
			continue
		}
		score, err := clf.RunQuery(req.Query)
		if err != nil {
			logger.Debug("Scoring undecodable query as raw bytes", zap.String("query", req.Query), zap.Error(err))
			score, err = clf.Run([]byte(req.Query))
			if err != nil {
				logger.Warn("Failed to score query", zap.String("query", req.Query), zap.Error(err))
				continue
			}
		}
		verdict := "benign"
		if float64(score) >= *threshold {
			verdict = "ATTACK"
			attacks++
		} else if !*all {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.4f\t%s\t%s\n",
			req.Timestamp.Format("15:04:05.000"), req.Src, req.Dst, score, verdict, req.Query)
	}
	tw.Flush()

	logger.Info("Scan finished", zap.Int("requests", len(reqs)), zap.Int("attacks", attacks))
}
