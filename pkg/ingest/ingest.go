// Package ingest exposes the HTTP boundary of the pipeline.
//
// Ingestion publishes accepted queries to the inbound queue and answers are
// read back from the result cache by polling, since the queue itself has no
// response channel. It also hosts the referrer/FAQ registry endpoints.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Shopify/sarama"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.scholarhub.net/triage/pkg/knowledge"
	"go.scholarhub.net/triage/pkg/resultcache"
	"go.scholarhub.net/triage/pkg/types"
	"go.uber.org/zap"
)

// Server handles ingestion and registry requests.
type Server struct {
	// Required components
	Producer sarama.SyncProducer
	Cache    *resultcache.Cache
	Log      *zap.Logger
	// Required config
	InTopic string
	// Optional components
	Knowledge *knowledge.Store
}

// Router builds the HTTP routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Post("/queries", s.ingestQuery)
	r.Get("/answers/{senderID}", s.getAnswer)
	if s.Knowledge != nil {
		r.Post("/referrers", s.putReferrer)
		r.Get("/referrers/{username}", s.getReferrer)
		r.Post("/faqs", s.addFAQ)
		r.Get("/faqs", s.listFAQs)
	}
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ingestQuery validates a query and publishes it to the inbound queue.
// The queue write is durable; the HTTP response only means "queued".
func (s *Server) ingestQuery(w http.ResponseWriter, r *http.Request) {
	query := new(types.Query)
	if err := json.NewDecoder(r.Body).Decode(query); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	query.SchemaVersion = types.SchemaVersion
	query.Status = types.StatusReceived
	if query.Timestamp.IsZero() {
		query.Timestamp = time.Now().UTC()
	}
	if err := query.Check(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	buf, err := json.Marshal(query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	_, _, err = s.Producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.InTopic,
		Key:   sarama.StringEncoder(query.SenderID),
		Value: sarama.ByteEncoder(buf),
	})
	if err != nil {
		s.Log.Error("Failed to enqueue query", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, errors.New("queue unavailable"))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "queued",
		"data":   query,
	})
}

func (s *Server) getAnswer(w http.ResponseWriter, r *http.Request) {
	senderID := chi.URLParam(r, "senderID")
	result, ok, err := s.Cache.Get(r.Context(), senderID)
	if err != nil {
		s.Log.Error("Failed to read result cache", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, errors.New("cache unavailable"))
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no answer yet"))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) putReferrer(w http.ResponseWriter, r *http.Request) {
	ref := new(knowledge.Referrer)
	if err := json.NewDecoder(r.Body).Decode(ref); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	if ref.Username == "" || !ref.Platform.Valid() {
		writeError(w, http.StatusBadRequest, errors.New("username and known platform required"))
		return
	}
	if err := s.Knowledge.PutReferrer(r.Context(), ref); err != nil {
		s.Log.Error("Failed to store referrer", zap.Error(err))
		writeError(w, http.StatusInternalServerError, errors.New("store failed"))
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

func (s *Server) getReferrer(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	ref, err := s.Knowledge.GetReferrer(r.Context(), username)
	if errors.Is(err, knowledge.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	} else if err != nil {
		s.Log.Error("Failed to look up referrer", zap.Error(err))
		writeError(w, http.StatusInternalServerError, errors.New("store failed"))
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

func (s *Server) addFAQ(w http.ResponseWriter, r *http.Request) {
	faq := new(knowledge.FAQ)
	if err := json.NewDecoder(r.Body).Decode(faq); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	if faq.Question == "" || faq.Answer == "" {
		writeError(w, http.StatusBadRequest, errors.New("question and answer required"))
		return
	}
	if err := s.Knowledge.AddFAQ(r.Context(), faq); err != nil {
		s.Log.Error("Failed to store FAQ", zap.Error(err))
		writeError(w, http.StatusInternalServerError, errors.New("store failed"))
		return
	}
	writeJSON(w, http.StatusOK, faq)
}

func (s *Server) listFAQs(w http.ResponseWriter, r *http.Request) {
	faqs, err := s.Knowledge.ListFAQs(r.Context())
	if err != nil {
		s.Log.Error("Failed to list FAQs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, errors.New("store failed"))
		return
	}
	writeJSON(w, http.StatusOK, faqs)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
