package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicdesk/booking/internal/config"
	"github.com/clinicdesk/booking/internal/domain/appointment"
	"github.com/clinicdesk/booking/internal/platform/db"
	"github.com/clinicdesk/booking/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "booking-server",
		Short: "Clinic appointment availability and booking API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(slotsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the booking API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			inMemory, _ := cmd.Flags().GetBool("in-memory")
			return runServer(inMemory)
		},
	}
	cmd.Flags().Bool("in-memory", false, "Serve from an in-memory store instead of Postgres")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			migrator, closeFn, err := openMigrator(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			migrator, closeFn, err := openMigrator(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func openMigrator(ctx context.Context) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, migrations.FS), pool.Close, nil
}

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Print the availability of a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			flow, _ := cmd.Flags().GetString("flow")
			rawDate, _ := cmd.Flags().GetString("date")
			inMemory, _ := cmd.Flags().GetBool("in-memory")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(!inMemory); err != nil {
				return err
			}

			ctx := context.Background()
			backend, err := openStore(ctx, cfg, inMemory)
			if err != nil {
				return err
			}
			defer backend.Close()

			svc, err := newService(cfg, backend, nil, zerolog.Nop())
			if err != nil {
				return err
			}

			date := svc.Assembler().Today()
			if rawDate != "" {
				if date, err = civil.ParseDate(rawDate); err != nil {
					return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
				}
			}
			return printAvailability(ctx, os.Stdout, svc, appointment.Flow(flow), date)
		},
	}
	cmd.Flags().String("flow", string(appointment.FlowPatient), "Booking flow: patient or mr")
	cmd.Flags().String("date", "", "Date to inspect (YYYY-MM-DD, default today)")
	cmd.Flags().Bool("in-memory", false, "Read from an empty in-memory store")
	return cmd
}

func printAvailability(ctx context.Context, w io.Writer, svc *appointment.Service, flow appointment.Flow, date civil.Date) error {
	switch flow {
	case appointment.FlowPatient:
		slots, err := svc.ComputeSlots(ctx, date)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Patient slots for %s (%s)\n", date, date.In(time.UTC).Weekday())
		fmt.Fprintf(w, "%-6s %-8s %-8s %s\n", "TIME", "WINDOW", "BOOKED", "STATUS")
		for _, s := range slots {
			status := "open"
			if !s.Available {
				status = "closed"
			}
			fmt.Fprintf(w, "%-6s %-8s %d/%-6d %s\n", s.Time, s.Window, s.CurrentBookings, s.MaxBookings, status)
		}
	case appointment.FlowMR:
		day, err := svc.MRDay(ctx, date)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "MR visits for %s (%s): %d/%d booked\n", day.Date, day.Weekday, day.Booked, day.Capacity)
		if !day.Available {
			fmt.Fprintf(w, "unavailable: %s (%s)\n", day.Reason, day.Message)
			return nil
		}
		times := make([]string, len(day.Times))
		for i, t := range day.Times {
			times[i] = t.String()
		}
		fmt.Fprintf(w, "times: %s\n", strings.Join(times, " "))
	default:
		return fmt.Errorf("--flow must be %q or %q", appointment.FlowPatient, appointment.FlowMR)
	}
	return nil
}

func runServer(inMemory bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(!inMemory); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	backend, err := openStore(ctx, cfg, inMemory)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer backend.Close()
	if backend.pool != nil {
		logger.Info().Msg("connected to database")
	} else {
		logger.Warn().Msg("serving from the in-memory store; bookings are lost on restart")
	}

	locker, redisClient, err := newLocker(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	if redisClient != nil {
		defer redisClient.Close()
		logger.Info().Msg("booking locks shared through redis")
	}

	svc, err := newService(cfg, backend, locker, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build booking service")
	}

	publisher, closePublisher, err := newPublisher(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}
	defer closePublisher()
	svc.SetPublisher(publisher)
	if cfg.AMQPURL != "" {
		logger.Info().Str("exchange", cfg.AMQPExchange).Msg("publishing booking events")
	}

	e := newServer(cfg, svc, backend.pool, redisClient, logger)

	// Cancelling the base context ends open slot streams so Shutdown can drain.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	e.Server.BaseContext = func(net.Listener) context.Context { return baseCtx }

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("timezone", cfg.ClinicTimezone).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	cancelBase()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
