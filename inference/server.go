package inference

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/snort3/libml/querystring"
)

// ClassifyRequest is the body accepted by the /classify endpoint. With Raw
// set the query bytes are scored without percent-decoding.
type ClassifyRequest struct {
	Query string `json:"query"`
	Raw   bool   `json:"raw"`
}

// ClassifyResponse is the /classify reply.
type ClassifyResponse struct {
	Score  float32 `json:"score"`
	Attack bool    `json:"attack"`
	Error  string  `json:"error,omitempty"`
}

// Server exposes a Classifier over HTTP.
type Server struct {
	clf       *Classifier
	threshold float32
	logger    *zap.Logger

	requests *prometheus.CounterVec
	latency  prometheus.Histogram
}

// NewServer registers its request metrics on reg.
func NewServer(clf *Classifier, threshold float32, logger *zap.Logger, reg prometheus.Registerer) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	return &Server{
		clf:       clf,
		threshold: threshold,
		logger:    logger,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "libml_classify_requests_total",
			Help: "Classification requests by outcome",
		}, []string{"outcome"}),
		latency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "libml_classify_duration_seconds",
			Help:    "Time spent scoring one request",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Routes returns the handler serving /classify and /health.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/classify", s.handleClassify)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":     "ok",
		"run_id":     s.clf.Header().RunID,
		"input_size": s.clf.InputSize(),
	})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req ClassifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.requests.WithLabelValues("bad_request").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	var score float32
	var err error
	if req.Raw {
		score, err = s.clf.Run([]byte(req.Query))
	} else {
		score, err = s.clf.RunQuery(req.Query)
	}
	s.latency.Observe(time.Since(start).Seconds())

	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, querystring.ErrMalformedEncoding) || errors.Is(err, ErrEmptyInput) {
			status = http.StatusUnprocessableEntity
		}
		s.requests.WithLabelValues("error").Inc()
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(ClassifyResponse{Error: err.Error()})
		return
	}

	attack := score >= s.threshold
	outcome := "benign"
	if attack {
		outcome = "attack"
		s.logger.Warn("Attack detected", zap.String("query", req.Query), zap.Float32("score", score))
	}
	s.requests.WithLabelValues(outcome).Inc()
	json.NewEncoder(w).Encode(ClassifyResponse{Score: score, Attack: attack})
}
