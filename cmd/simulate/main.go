package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mentorbook/mentorship-booking/internal/db"
)

// simulate drives concurrent traffic at a running api-server: many requesters
// racing for the same small pool of slots, a share of winners completing a
// synthetic confirm, and every confirm replayed once to check idempotency.

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	ConfirmRatio float64
	SlotLimit    int
	PostgresDSN  string
}

type slotRef struct {
	ID       uuid.UUID
	MentorID uuid.UUID
}

type counters struct {
	holds      atomic.Int64
	conflicts  atomic.Int64
	releases   atomic.Int64
	confirms   atomic.Int64
	duplicates atomic.Int64
	mismatches atomic.Int64
	errors     atomic.Int64
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := loadSimConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}

	slots, err := loadSlots(context.Background(), pool, cfg.SlotLimit)
	pool.Close()
	if err != nil {
		log.Fatalf("load slots: %v", err)
	}
	if len(slots) == 0 {
		log.Fatal("no open slots found, run the seeder first")
	}

	log.Printf("simulating %d workers against %d slots for %s", cfg.Workers, len(slots), cfg.Duration)

	deadline := time.Now().Add(cfg.Duration)
	var c counters
	var wg sync.WaitGroup

	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}
			rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(rand.Int())))
			for time.Now().Before(deadline) {
				runAttempt(client, rng, cfg, slots, &c)
			}
		}()
	}

	wg.Wait()

	log.Printf("done: holds=%d conflicts=%d releases=%d confirms=%d duplicate_replays=%d id_mismatches=%d errors=%d",
		c.holds.Load(), c.conflicts.Load(), c.releases.Load(),
		c.confirms.Load(), c.duplicates.Load(), c.mismatches.Load(), c.errors.Load())

	if c.mismatches.Load() > 0 {
		os.Exit(1)
	}
}

func runAttempt(client *http.Client, rng *rand.Rand, cfg SimConfig, slots []slotRef, c *counters) {
	slot := slots[rng.Intn(len(slots))]
	requester := uuid.New()

	status, _ := postJSON(client, cfg.APIBaseURL+"/bookings/hold-slot", map[string]string{
		"slotId":      slot.ID.String(),
		"requesterId": requester.String(),
		"mentorId":    slot.MentorID.String(),
	})

	switch status {
	case http.StatusCreated:
		c.holds.Add(1)
	case http.StatusConflict:
		c.conflicts.Add(1)
		return
	default:
		c.errors.Add(1)
		return
	}

	if rng.Float64() >= cfg.ConfirmRatio {
		// Walk away; release about half the time, let the rest expire.
		if rng.Intn(2) == 0 {
			req, _ := http.NewRequest(http.MethodDelete,
				fmt.Sprintf("%s/bookings/hold-slot?slotId=%s&requesterId=%s",
					cfg.APIBaseURL, slot.ID, requester), nil)
			if resp, err := client.Do(req); err == nil {
				resp.Body.Close()
				c.releases.Add(1)
			}
		}
		return
	}

	confirm := map[string]any{
		"slotId":      slot.ID.String(),
		"mentorId":    slot.MentorID.String(),
		"sessionType": "mentorship",
		"userDetails": map[string]string{
			"name":  "Sim Requester",
			"email": fmt.Sprintf("sim-%s@example.com", requester.String()[:8]),
		},
		"paymentId": "pay_sim_" + uuid.NewString()[:12],
		"orderId":   "order_sim_" + uuid.NewString()[:12],
	}

	status, first := postJSON(client, cfg.APIBaseURL+"/bookings/confirm", confirm)
	if status != http.StatusOK {
		c.errors.Add(1)
		return
	}
	c.confirms.Add(1)

	// Replay the exact confirm to exercise the idempotent path.
	status, second := postJSON(client, cfg.APIBaseURL+"/bookings/confirm", confirm)
	if status != http.StatusOK {
		c.errors.Add(1)
		return
	}
	c.duplicates.Add(1)

	if bookingID(first) != bookingID(second) {
		c.mismatches.Add(1)
		log.Printf("MISMATCH: duplicate confirm returned a different booking for order %v", confirm["orderId"])
	}
}

func bookingID(body []byte) string {
	var resp struct {
		Booking struct {
			ID string `json:"id"`
		} `json:"booking"`
	}
	_ = json.Unmarshal(body, &resp)
	return resp.Booking.ID
}

func postJSON(client *http.Client, url string, payload any) (int, []byte) {
	data, _ := json.Marshal(payload)
	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return 0, nil
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp.StatusCode, buf.Bytes()
}

func loadSlots(ctx context.Context, pool *pgxpool.Pool, limit int) ([]slotRef, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, mentor_id
		FROM slots
		WHERE is_booked = FALSE
		ORDER BY day, start_time
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []slotRef
	for rows.Next() {
		var s slotRef
		if err := rows.Scan(&s.ID, &s.MentorID); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func loadSimConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getenv("SIM_API_URL", "http://127.0.0.1:8080"),
		Duration:     30 * time.Second,
		Workers:      16,
		ConfirmRatio: 0.2,
		SlotLimit:    25,
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
	}

	if v := os.Getenv("SIM_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Duration = d
		}
	}
	if v := os.Getenv("SIM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("SIM_CONFIRM_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			cfg.ConfirmRatio = f
		}
	}
	if v := os.Getenv("SIM_SLOT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SlotLimit = n
		}
	}

	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
