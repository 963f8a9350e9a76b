package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/clinicdesk/booking/internal/domain/appointment"
	"github.com/clinicdesk/booking/internal/platform/clock"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	AuthMode       string   `mapstructure:"AUTH_MODE"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL       string   `mapstructure:"REDIS_URL"`
	AMQPURL        string   `mapstructure:"AMQP_URL"`
	AMQPExchange   string   `mapstructure:"AMQP_EXCHANGE"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	ClinicTimezone       string        `mapstructure:"CLINIC_TIMEZONE"`
	PatientMorningWindow string        `mapstructure:"PATIENT_MORNING_WINDOW"`
	PatientEveningWindow string        `mapstructure:"PATIENT_EVENING_WINDOW"`
	PatientSlotInterval  time.Duration `mapstructure:"PATIENT_SLOT_INTERVAL"`
	PatientSlotCapacity  int           `mapstructure:"PATIENT_SLOT_CAPACITY"`
	MorningCutoffHour    int           `mapstructure:"MORNING_CUTOFF_HOUR"`
	EveningCutoffHour    int           `mapstructure:"EVENING_CUTOFF_HOUR"`
	BlackoutWeekdays     []string      `mapstructure:"BLACKOUT_WEEKDAYS"`
	MRWindow             string        `mapstructure:"MR_WINDOW"`
	MRSlotInterval       time.Duration `mapstructure:"MR_SLOT_INTERVAL"`
	MRHorizonMonths      int           `mapstructure:"MR_HORIZON_MONTHS"`
	SlotRefreshInterval  time.Duration `mapstructure:"SLOT_REFRESH_INTERVAL"`
	BookingLockTTL       time.Duration `mapstructure:"BOOKING_LOCK_TTL"`
}

var keys = []string{
	"PORT", "ENV", "AUTH_MODE", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL", "AMQP_URL", "AMQP_EXCHANGE", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"CLINIC_TIMEZONE", "PATIENT_MORNING_WINDOW", "PATIENT_EVENING_WINDOW",
	"PATIENT_SLOT_INTERVAL", "PATIENT_SLOT_CAPACITY", "MORNING_CUTOFF_HOUR", "EVENING_CUTOFF_HOUR",
	"BLACKOUT_WEEKDAYS", "MR_WINDOW", "MR_SLOT_INTERVAL", "MR_HORIZON_MONTHS",
	"SLOT_REFRESH_INTERVAL", "BOOKING_LOCK_TTL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("AMQP_EXCHANGE", "clinic.bookings")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)

	v.SetDefault("CLINIC_TIMEZONE", clock.DefaultTimezone)
	v.SetDefault("PATIENT_MORNING_WINDOW", "09:30-12:00")
	v.SetDefault("PATIENT_EVENING_WINDOW", "17:30-20:00")
	v.SetDefault("PATIENT_SLOT_INTERVAL", "15m")
	v.SetDefault("PATIENT_SLOT_CAPACITY", 3)
	v.SetDefault("MORNING_CUTOFF_HOUR", 9)
	v.SetDefault("EVENING_CUTOFF_HOUR", 13)
	v.SetDefault("BLACKOUT_WEEKDAYS", "Sunday")
	v.SetDefault("MR_WINDOW", "14:00-16:00")
	v.SetDefault("MR_SLOT_INTERVAL", "30m")
	v.SetDefault("MR_HORIZON_MONTHS", 6)
	v.SetDefault("SLOT_REFRESH_INTERVAL", "60s")
	v.SetDefault("BOOKING_LOCK_TTL", "10s")

	// Bind explicitly so Unmarshal sees variables that have no default.
	for _, k := range keys {
		v.BindEnv(k)
	}

	// The .env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(cfg.CORSOrigins)
	cfg.BlackoutWeekdays = splitList(cfg.BlackoutWeekdays)
	return cfg, nil
}

// splitList flattens comma-separated entries and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE, or "development" in the development
// environment and "jwt" everywhere else.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

// Validate checks that the configuration is safe to run. requireDB is false
// when serving from the in-memory store.
func (c *Config) Validate(requireDB bool) error {
	if requireDB && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	switch mode := c.ResolvedAuthMode(); mode {
	case "development":
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed in production")
		}
	case "jwt":
		if c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
			return fmt.Errorf("AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when AUTH_MODE is \"jwt\"")
		}
		if c.IsProduction() && c.AuthSigningKey != "" {
			return fmt.Errorf("AUTH_SIGNING_KEY is for development only; use AUTH_JWKS_URL in production")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode)
	}

	if _, err := clock.New(c.ClinicTimezone); err != nil {
		return fmt.Errorf("CLINIC_TIMEZONE: %w", err)
	}
	if _, err := c.PatientPolicy(); err != nil {
		return err
	}
	if _, err := c.MRPolicy(); err != nil {
		return err
	}
	if c.SlotRefreshInterval < time.Second {
		return fmt.Errorf("SLOT_REFRESH_INTERVAL must be at least 1s, got %s", c.SlotRefreshInterval)
	}
	return nil
}

// PatientPolicy builds the patient operating rules.
func (c *Config) PatientPolicy() (appointment.PatientPolicy, error) {
	p := appointment.PatientPolicy{
		Interval:          c.PatientSlotInterval,
		SlotCapacity:      c.PatientSlotCapacity,
		MorningCutoffHour: c.MorningCutoffHour,
		EveningCutoffHour: c.EveningCutoffHour,
	}
	for _, w := range []struct {
		name appointment.WindowName
		raw  string
	}{
		{appointment.WindowMorning, c.PatientMorningWindow},
		{appointment.WindowEvening, c.PatientEveningWindow},
	} {
		if w.raw == "" {
			continue
		}
		win, err := appointment.ParseWindow(w.name, w.raw)
		if err != nil {
			return p, fmt.Errorf("PATIENT_%s_WINDOW: %w", strings.ToUpper(string(w.name)), err)
		}
		p.Windows = append(p.Windows, win)
	}
	if len(p.Windows) == 0 {
		return p, fmt.Errorf("at least one patient window must be configured")
	}
	if p.SlotCapacity < 1 {
		return p, fmt.Errorf("PATIENT_SLOT_CAPACITY must be at least 1, got %d", p.SlotCapacity)
	}
	for name, h := range map[string]int{"MORNING_CUTOFF_HOUR": p.MorningCutoffHour, "EVENING_CUTOFF_HOUR": p.EveningCutoffHour} {
		if h < 0 || h > 24 {
			return p, fmt.Errorf("%s must be between 0 and 24, got %d", name, h)
		}
	}
	for _, name := range c.BlackoutWeekdays {
		d, err := appointment.ParseWeekday(name)
		if err != nil {
			return p, fmt.Errorf("BLACKOUT_WEEKDAYS: %w", err)
		}
		p.BlackoutWeekdays = append(p.BlackoutWeekdays, d)
	}
	if _, err := appointment.GenerateTemplate(p.Windows, p.Interval, p.SlotCapacity); err != nil {
		return p, fmt.Errorf("PATIENT_SLOT_INTERVAL: %w", err)
	}
	return p, nil
}

// MRPolicy builds the medical-representative visiting rules.
func (c *Config) MRPolicy() (appointment.MRPolicy, error) {
	m := appointment.MRPolicy{Interval: c.MRSlotInterval, HorizonMonths: c.MRHorizonMonths}
	win, err := appointment.ParseWindow(appointment.WindowMR, c.MRWindow)
	if err != nil {
		return m, fmt.Errorf("MR_WINDOW: %w", err)
	}
	m.Window = win
	if m.HorizonMonths < 0 {
		return m, fmt.Errorf("MR_HORIZON_MONTHS must not be negative, got %d", m.HorizonMonths)
	}
	if _, err := appointment.GenerateTemplate([]appointment.Window{win}, m.Interval, 1); err != nil {
		return m, fmt.Errorf("MR_SLOT_INTERVAL: %w", err)
	}
	return m, nil
}
