// Command pokerapi serves a stand-in for the poker API so the example
// scenario can run locally. Latency and failures can be injected to see
// thresholds trip.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"time"
)

type server struct {
	latency   time.Duration
	errorRate float64
}

func main() {
	port := flag.Int("port", 8080, "Listening port")
	latency := flag.Duration("latency", 0, "Extra delay added to every /api response")
	errorRate := flag.Float64("error-rate", 0, "Fraction of /api requests answered with 500")
	flag.Parse()

	if *port <= 0 {
		log.Fatalf("port must be > 0")
	}
	if *errorRate < 0 || *errorRate > 1 {
		log.Fatalf("error-rate must be between 0 and 1")
	}

	s := &server{latency: *latency, errorRate: *errorRate}
	addr := fmt.Sprintf(":%d", *port)
	log.Printf("poker API listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, s.routes()))
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	mux.HandleFunc("POST /api/evaluate", s.api(func(body map[string]any) map[string]any {
		return map[string]any{"success": true, "handRank": "ROYAL_FLUSH", "handValue": 9}
	}))
	mux.HandleFunc("POST /api/compare", s.api(func(body map[string]any) map[string]any {
		return map[string]any{"success": true, "winner": 0, "result": "tie"}
	}))
	mux.HandleFunc("POST /api/probability", s.api(func(body map[string]any) map[string]any {
		sims, _ := body["simulations"].(float64)
		return map[string]any{"success": true, "winProbability": 0.93, "simulations": int(sims)}
	}))
	return mux
}

func (s *server) api(handle func(map[string]any) map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.latency > 0 {
			time.Sleep(s.latency)
		}
		if s.errorRate > 0 && rand.Float64() < s.errorRate {
			respondJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "injected failure"})
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid JSON"})
			return
		}
		respondJSON(w, http.StatusOK, handle(body))
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}
