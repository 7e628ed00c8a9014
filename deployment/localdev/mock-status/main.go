package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/miradorstack/mirador-statuswatch/internal/bus"
)

type incidentUpdate struct {
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	DisplayAt time.Time `json:"display_at"`
}

type component struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type incident struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Status     string           `json:"status"`
	Impact     string           `json:"impact"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	StartedAt  time.Time        `json:"started_at"`
	ResolvedAt *time.Time       `json:"resolved_at"`
	Shortlink  string           `json:"shortlink"`
	Updates    []incidentUpdate `json:"incident_updates"`
	Components []component      `json:"components"`
}

// lifecycle is walked one step per POST /advance.
var lifecycle = []struct {
	status string
	body   string
}{
	{"investigating", "We are investigating elevated error rates on the checkout API."},
	{"identified", "A faulty deploy of the payments service has been identified."},
	{"monitoring", "The deploy was rolled back; we are monitoring error rates."},
	{"resolved", "Error rates are back to normal. A postmortem will follow."},
}

type page struct {
	mu        sync.Mutex
	step      int
	started   time.Time
	incidents []incident
}

func newPage(now time.Time) *page {
	p := &page{started: now.Add(-20 * time.Minute)}
	p.rebuild(now)
	return p
}

func (p *page) rebuild(now time.Time) {
	checkout := incident{
		ID:         "mock-checkout",
		Name:       "Checkout API errors",
		Impact:     "major",
		CreatedAt:  p.started,
		StartedAt:  p.started,
		Shortlink:  "http://localhost:8090/incidents/mock-checkout",
		Components: []component{{ID: "c1", Name: "Checkout API", Status: "partial_outage"}},
	}
	for i := p.step; i >= 0; i-- {
		at := p.started.Add(time.Duration(i) * 10 * time.Minute)
		checkout.Updates = append(checkout.Updates, incidentUpdate{
			Body: lifecycle[i].body, Status: lifecycle[i].status, CreatedAt: at, DisplayAt: at,
		})
	}
	checkout.Status = lifecycle[p.step].status
	checkout.UpdatedAt = now
	if checkout.Status == "resolved" {
		resolved := now
		checkout.ResolvedAt = &resolved
	}

	p.incidents = []incident{
		checkout,
		{
			ID:        "mock-old",
			Name:      "Historic DNS outage",
			Status:    "resolved",
			Impact:    "critical",
			CreatedAt: now.Add(-30 * 24 * time.Hour),
			StartedAt: now.Add(-30 * 24 * time.Hour),
			UpdatedAt: now.Add(-29 * 24 * time.Hour),
		},
	}
}

func (p *page) advance() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.step < len(lifecycle)-1 {
		p.step++
	}
	p.rebuild(time.Now().UTC())
	return lifecycle[p.step].status
}

func (p *page) snapshot() []incident {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]incident(nil), p.incidents...)
}

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	natsURL := flag.String("nats", "", "NATS URL to tail statuswatch notification events from")
	flag.Parse()

	logger := log.New(log.Writer(), "status-mock ", log.LstdFlags|log.Lmicroseconds)
	p := newPage(time.Now().UTC())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v2/incidents.json", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, map[string]any{
			"page":      map[string]string{"id": "mock", "name": "Mock Status"},
			"incidents": p.snapshot(),
		})
	})

	mux.HandleFunc("/advance", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]string{"status": p.advance()})
	})

	mux.HandleFunc("/webhook", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var card struct {
			CardsV2 []struct {
				CardID string `json:"cardId"`
				Card   struct {
					Header struct {
						Title    string `json:"title"`
						Subtitle string `json:"subtitle"`
					} `json:"header"`
				} `json:"card"`
			} `json:"cardsV2"`
		}
		if err := json.NewDecoder(r.Body).Decode(&card); err != nil || len(card.CardsV2) == 0 {
			http.Error(w, "expected a cardsV2 message", http.StatusBadRequest)
			return
		}
		c := card.CardsV2[0]
		logger.Printf("card %s: %s | %s", c.CardID, c.Card.Header.Title, c.Card.Header.Subtitle)
		writeJSON(w, map[string]string{"name": fmt.Sprintf("spaces/mock/messages/%d", time.Now().UnixNano())})
	})

	if *natsURL != "" {
		sub, err := bus.NewSubscriber(*natsURL)
		if err != nil {
			logger.Fatalf("nats connect: %v", err)
		}
		defer sub.Close()
		if _, err := sub.Subscribe(bus.DefaultSubject, func(evt bus.NotificationEvent) {
			logger.Printf("event run=%s kind=%s incidents=%v delivered=%t %s", evt.RunID, evt.Kind, evt.IncidentIDs, evt.Delivered, evt.Error)
		}); err != nil {
			logger.Fatalf("nats subscribe: %v", err)
		}
	}

	srv := &http.Server{
		Addr:    *addr,
		Handler: logRequests(logger, mux),
	}

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
