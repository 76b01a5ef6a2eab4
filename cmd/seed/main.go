package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mentorbook/mentorship-booking/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	mentorIDs, err := seedMentors(context.Background(), pool, 50)
	if err != nil {
		log.Fatalf("seed mentors: %v", err)
	}
	if err := seedSlots(context.Background(), pool, mentorIDs, 14); err != nil {
		log.Fatalf("seed slots: %v", err)
	}

	log.Println("seed complete")
}

func seedMentors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d mentors", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		email := gofakeit.Email()

		// Roughly a third of mentors have no configured meeting link so the
		// fallback path gets exercised.
		var link *string
		if gofakeit.Number(0, 2) > 0 {
			l := fmt.Sprintf("https://meet.google.com/%s", gofakeit.LetterN(10))
			link = &l
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO mentors (id, name, email, meeting_link, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, name, email, link)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

func seedSlots(ctx context.Context, pool *pgxpool.Pool, mentorIDs []uuid.UUID, days int) error {
	log.Printf("seeding slots for %d mentors over %d days", len(mentorIDs), days)

	// Half-hour windows between 10:00 and 16:00.
	starts := []string{
		"10:00", "10:30", "11:00", "11:30", "12:00", "12:30",
		"13:00", "13:30", "14:00", "14:30", "15:00", "15:30",
	}
	ends := []string{
		"10:30", "11:00", "11:30", "12:00", "12:30", "13:00",
		"13:30", "14:00", "14:30", "15:00", "15:30", "16:00",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	total := 0
	today := time.Now().Truncate(24 * time.Hour)
	for _, mentorID := range mentorIDs {
		for d := 1; d <= days; d++ {
			day := today.AddDate(0, 0, d)
			for i := range starts {
				// Sparse availability, mentors don't offer every window.
				if gofakeit.Number(0, 2) != 0 {
					continue
				}
				_, err := tx.Exec(ctx, `
					INSERT INTO slots (id, mentor_id, day, start_time, end_time,
					                   is_booked, is_reserved, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, FALSE, FALSE, now(), now())
				`, uuid.New(), mentorID, day, starts[i], ends[i])
				if err != nil {
					return err
				}
				total++
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	log.Printf("seeded %d slots", total)
	return nil
}
