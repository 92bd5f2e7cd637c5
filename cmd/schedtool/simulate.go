package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/hackgods/property-visit-scheduling/internal/api"
	"github.com/hackgods/property-visit-scheduling/internal/appointment"
	"github.com/hackgods/property-visit-scheduling/internal/db"
)

type SimConfig struct {
	APIBaseURL     string
	Duration       time.Duration
	Workers        int
	RequestRatio   float64
	ConfirmRatio   float64
	CancelRatio    float64
	ReadRatio      float64
	StudentLimit   int
	PropertyLimit  int
	ConflictWindow time.Duration
	JWTSecret      string // empty means trusted identity headers
}

type bookedVisit struct {
	ID      uuid.UUID
	OwnerID uuid.UUID
}

type DataPool struct {
	Students   []uuid.UUID
	Properties []uuid.UUID

	mu     sync.RWMutex
	booked []bookedVisit
}

func (dp *DataPool) AddBooked(v bookedVisit) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.booked = append(dp.booked, v)
}

func (dp *DataPool) RandomBooked(rng *rand.Rand) (bookedVisit, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.booked) == 0 {
		return bookedVisit{}, false
	}
	return dp.booked[rng.Intn(len(dp.booked))], true
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	auth    *api.JWTAuthenticator
	logger  *slog.Logger
	metrics Metrics
}

func simulateCommand() *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "Drive concurrent visit traffic at the API, then audit Postgres for double bookings.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "api", Value: "http://localhost:8080", EnvVars: []string{"SIM_API_BASE_URL"}},
			&cli.DurationFlag{Name: "duration", Value: 30 * time.Second, EnvVars: []string{"SIM_DURATION"}},
			&cli.IntFlag{Name: "workers", Value: 10, EnvVars: []string{"SIM_WORKERS"}},
			&cli.Float64Flag{Name: "request-ratio", Value: 0.5},
			&cli.Float64Flag{Name: "confirm-ratio", Value: 0.15},
			&cli.Float64Flag{Name: "cancel-ratio", Value: 0.05},
			&cli.Float64Flag{Name: "read-ratio", Value: 0.3},
			&cli.IntFlag{Name: "student-limit", Value: 2000},
			&cli.IntFlag{Name: "property-limit", Value: 200, Usage: "fewer properties means more contention"},
			&cli.DurationFlag{Name: "conflict-window", Value: appointment.DefaultConflictWindow, EnvVars: []string{"CONFLICT_WINDOW"}},
			&cli.StringFlag{Name: "jwt-secret", EnvVars: []string{"JWT_SECRET"}, Usage: "sign bearer tokens instead of sending identity headers"},
		},
		Action: func(c *cli.Context) error {
			logger := newLogger(c)
			cfg := SimConfig{
				APIBaseURL:     c.String("api"),
				Duration:       c.Duration("duration"),
				Workers:        c.Int("workers"),
				RequestRatio:   c.Float64("request-ratio"),
				ConfirmRatio:   c.Float64("confirm-ratio"),
				CancelRatio:    c.Float64("cancel-ratio"),
				ReadRatio:      c.Float64("read-ratio"),
				StudentLimit:   c.Int("student-limit"),
				PropertyLimit:  c.Int("property-limit"),
				ConflictWindow: c.Duration("conflict-window"),
				JWTSecret:      c.String("jwt-secret"),
			}
			if err := validateSimConfig(&cfg); err != nil {
				return err
			}
			dsn := c.String("postgres-dsn")
			if dsn == "" {
				return errors.New("POSTGRES_DSN is required (set in .env or environment)")
			}

			ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
			defer cancel()

			pgPool, err := db.ConnectPostgres(ctx, dsn)
			if err != nil {
				return err
			}
			defer pgPool.Close()

			dataPool, err := loadDataPool(ctx, pgPool, cfg)
			if err != nil {
				return fmt.Errorf("load data pool: %w", err)
			}
			logger.Info("data loaded", "students", len(dataPool.Students), "properties", len(dataPool.Properties))

			sim := &Simulator{
				config: cfg,
				pool:   dataPool,
				client: &http.Client{Timeout: 10 * time.Second},
				logger: logger,
			}
			if cfg.JWTSecret != "" {
				sim.auth = api.NewJWTAuthenticator(cfg.JWTSecret)
			}

			sim.Run(c.Context)
			sim.PrintReport()

			violations, err := auditDoubleBookings(c.Context, pgPool, cfg.ConflictWindow)
			if err != nil {
				return fmt.Errorf("audit: %w", err)
			}
			fmt.Printf("Double-booking audit: %d overlapping active pairs\n", violations)
			if violations > 0 {
				return fmt.Errorf("found %d overlapping active appointment pairs", violations)
			}
			return nil
		},
	}
}

func validateSimConfig(cfg *SimConfig) error {
	if cfg.Workers <= 0 {
		return errors.New("--workers must be > 0")
	}
	if cfg.Duration <= 0 {
		return errors.New("--duration must be > 0")
	}
	if cfg.ConflictWindow <= 0 {
		return errors.New("--conflict-window must be > 0")
	}

	total := cfg.RequestRatio + cfg.ConfirmRatio + cfg.CancelRatio + cfg.ReadRatio
	if total <= 0 {
		return errors.New("at least one operation ratio must be positive")
	}
	cfg.RequestRatio /= total
	cfg.ConfirmRatio /= total
	cfg.CancelRatio /= total
	cfg.ReadRatio /= total
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	var err error
	dataPool.Students, err = loadIDs(ctx, pool, `SELECT id FROM users WHERE role = 'student' LIMIT $1`, cfg.StudentLimit)
	if err != nil {
		return nil, fmt.Errorf("load students: %w", err)
	}
	dataPool.Properties, err = loadIDs(ctx, pool, `SELECT id FROM properties WHERE is_available LIMIT $1`, cfg.PropertyLimit)
	if err != nil {
		return nil, fmt.Errorf("load properties: %w", err)
	}

	if len(dataPool.Students) == 0 {
		return nil, errors.New("no students loaded, run schedtool seed first")
	}
	if len(dataPool.Properties) == 0 {
		return nil, errors.New("no available properties loaded, run schedtool seed first")
	}
	return dataPool, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// auditDoubleBookings counts pairs of active appointments of one owner closer than window.
func auditDoubleBookings(ctx context.Context, pool *pgxpool.Pool, window time.Duration) (int64, error) {
	var n int64
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM visit_appointments a
		JOIN visit_appointments b
		  ON a.owner_id = b.owner_id
		 AND a.id < b.id
		WHERE a.status <> 'cancelled'
		  AND b.status <> 'cancelled'
		  AND abs(extract(epoch FROM a.appointment_date_time - b.appointment_date_time)) <= $1
	`, window.Seconds()).Scan(&n)
	return n, err
}

func (s *Simulator) Run(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.config.Duration)
	defer cancel()

	s.logger.Info("starting simulation", "duration", s.config.Duration, "workers", s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.RequestRatio:
			s.doRequest(ctx, rng)
		case r < s.config.RequestRatio+s.config.ConfirmRatio:
			s.doTransition(ctx, rng, appointment.StatusConfirmed, "", &s.metrics.Confirm)
		case r < s.config.RequestRatio+s.config.ConfirmRatio+s.config.CancelRatio:
			s.doTransition(ctx, rng, appointment.StatusCancelled, "Property no longer available", &s.metrics.Cancel)
		default:
			if rng.Intn(2) == 0 {
				s.doList(ctx, rng)
			} else {
				s.doAvailability(ctx, rng)
			}
		}
	}
}

// visitTime picks a half-hour slot in the coming week so requests collide often.
func visitTime(rng *rand.Rand) time.Time {
	start := time.Now().UTC().Truncate(30 * time.Minute).Add(time.Hour)
	return start.Add(time.Duration(rng.Intn(7*48)) * 30 * time.Minute)
}

func (s *Simulator) doRequest(ctx context.Context, rng *rand.Rand) {
	student := s.pool.Students[rng.Intn(len(s.pool.Students))]
	prop := s.pool.Properties[rng.Intn(len(s.pool.Properties))]

	body, _ := json.Marshal(api.CreateAppointmentRequest{
		PropertyID:          prop.String(),
		AppointmentDateTime: visitTime(rng).Format(time.RFC3339),
		Message:             "Simulated visit request",
	})

	start := time.Now()
	resp, err := s.send(ctx, http.MethodPost, "/appointments", body, appointment.Actor{ID: student, Role: appointment.RoleStudent})
	latency := time.Since(start)
	if err != nil {
		s.metrics.Request.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		s.metrics.Request.Record(latency, false, resp.StatusCode == http.StatusConflict)
		return
	}

	var appt api.AppointmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&appt); err != nil {
		s.metrics.Request.Record(latency, false, false)
		return
	}
	if appt.Status == string(appointment.StatusPending) {
		s.pool.AddBooked(bookedVisit{ID: appt.ID, OwnerID: appt.OwnerID})
		s.metrics.Request.Record(latency, true, false)
		return
	}
	s.metrics.Request.Record(latency, false, true)
}

func (s *Simulator) doTransition(ctx context.Context, rng *rand.Rand, to appointment.AppointmentStatus, reason string, om *OperationMetrics) {
	visit, ok := s.pool.RandomBooked(rng)
	if !ok {
		return
	}

	body, _ := json.Marshal(api.UpdateStatusRequest{Status: string(to), CancellationReason: reason})

	start := time.Now()
	resp, err := s.send(ctx, http.MethodPatch, "/appointments/"+visit.ID.String()+"/status", body,
		appointment.Actor{ID: visit.OwnerID, Role: appointment.RoleOwner})
	latency := time.Since(start)
	if err != nil {
		om.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()

	om.Record(latency, resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusConflict)
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	student := s.pool.Students[rng.Intn(len(s.pool.Students))]

	start := time.Now()
	resp, err := s.send(ctx, http.MethodGet, "/appointments?limit=20&offset=0", nil,
		appointment.Actor{ID: student, Role: appointment.RoleStudent})
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}
	s.metrics.List.Record(latency, success, false)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	student := s.pool.Students[rng.Intn(len(s.pool.Students))]
	prop := s.pool.Properties[rng.Intn(len(s.pool.Properties))]
	path := fmt.Sprintf("/properties/%s/availability?at=%s", prop, visitTime(rng).Format(time.RFC3339))

	start := time.Now()
	resp, err := s.send(ctx, http.MethodGet, path, nil, appointment.Actor{ID: student, Role: appointment.RoleStudent})
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}
	s.metrics.Availability.Record(latency, success, false)
}

func (s *Simulator) send(ctx context.Context, method, path string, body []byte, actor appointment.Actor) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if s.auth != nil {
		tok, err := s.auth.SignToken(actor, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))})
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	} else {
		req.Header.Set(api.UserIDHeader, actor.ID.String())
		req.Header.Set(api.UserRoleHeader, string(actor.Role))
	}

	return s.client.Do(req)
}

func (s *Simulator) PrintReport() {
	w := os.Stdout
	fmt.Fprintln(w, "\n"+rule())
	fmt.Fprintln(w, "SIMULATION REPORT")
	fmt.Fprintln(w, rule())
	fmt.Fprintf(w, "Duration: %s\n", s.config.Duration)
	fmt.Fprintf(w, "Workers: %d\n\n", s.config.Workers)

	printOperationReport(w, "Visit requests", &s.metrics.Request, "Rejected (conflict or unavailable)")
	printOperationReport(w, "Confirm", &s.metrics.Confirm, "Invalid transitions")
	printOperationReport(w, "Owner cancel", &s.metrics.Cancel, "Invalid transitions")
	printOperationReport(w, "List", &s.metrics.List, "")
	printOperationReport(w, "Availability", &s.metrics.Availability, "")
}
