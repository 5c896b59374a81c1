// Package config loads and freezes the Gatekeeper's YAML configuration, per
// spec.md §6's defaults table. Grounded on sawpanic-cryptorun's
// internal/config/guards.go (file-based YAML config with a typed struct tree
// and a Load function returning a pointer-or-error), generalized from guard
// profiles to the full gate/DRP/DQS/heat/sizing/reservation threshold set.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/gatekeeper/internal/gates"
)

// Root is the top-level Gatekeeper configuration file shape.
type Root struct {
	Gates       gates.Config       `yaml:"gates"`
	Reservation ReservationConfig  `yaml:"reservation"`
	Server      ServerConfig       `yaml:"server"`
	Logging     LoggingConfig      `yaml:"logging"`
}

// ReservationConfig holds the TTL/heartbeat/overload knobs of spec.md §4.11.
type ReservationConfig struct {
	TTLSecMinMaker            float64 `yaml:"reservation_ttl_sec_min_maker"`
	TTLSecMinTaker            float64 `yaml:"reservation_ttl_sec_min_taker"`
	TTLSecMinStop             float64 `yaml:"reservation_ttl_sec_min_stop"`
	PassiveFadeHardTimeoutSec float64 `yaml:"passive_fade_hard_timeout_sec"`
	RenewalMinPeriodSec       float64 `yaml:"reservation_renewal_min_period_sec"`
	HeartbeatPeriodMs         int64   `yaml:"reservation_heartbeat_period_ms"`
	HeartbeatGraceMs          int64   `yaml:"reservation_heartbeat_grace_ms"`
	WriterQueueHardCap        int     `yaml:"writer_queue_hard_cap"`
	PreexecValidationDeadlineMs int64 `yaml:"preexec_validation_deadline_ms"`
}

// ServerConfig holds the HTTP admission/metrics server bind address.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LoggingConfig holds the zerolog sink configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	JSONOutput bool   `yaml:"json_output"`
}

// Default returns a Root populated with spec.md §6's defaults table plus the
// ambient-stack defaults documented in SPEC_FULL.md.
func Default() Root {
	return Root{
		Gates: gates.Default(),
		Reservation: ReservationConfig{
			TTLSecMinMaker:              30,
			TTLSecMinTaker:              5,
			TTLSecMinStop:               15,
			PassiveFadeHardTimeoutSec:   30,
			RenewalMinPeriodSec:         2,
			HeartbeatPeriodMs:           1000,
			HeartbeatGraceMs:            5000,
			WriterQueueHardCap:          1000,
			PreexecValidationDeadlineMs: 250,
		},
		Server: ServerConfig{ListenAddr: ":8090"},
		Logging: LoggingConfig{Level: "info", JSONOutput: true},
	}
}

// Load reads and parses a YAML config file, returning the frozen Root. The
// returned value is never mutated by callers; treat it as read-only after
// Load returns, per spec.md's "frozen config" ambient-stack requirement.
func Load(path string) (Root, error) {
	root := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Root{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &root); err != nil {
		return Root{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return root, nil
}
