// Package config holds the immutable run configuration: RF front end, SSB
// layout, attack parameters and operational settings.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rjboer/GoSSB/internal/logging"
)

const (
	MaxPCI       = 1007
	MaxCoreset0  = 15
	MaxSS0       = 15
	envKeyPrefix = "SSB_"
)

// RF describes the radio front end.
type RF struct {
	DeviceName   string  `json:"device_name"`
	DeviceArgs   string  `json:"device_args"`
	TxFreqHz     float64 `json:"tx_freq_hz"`
	RxFreqHz     float64 `json:"rx_freq_hz"`
	SampleRateHz float64 `json:"sample_rate_hz"`
	TxGainDB     float64 `json:"tx_gain_db"`
	RxGainDB     float64 `json:"rx_gain_db"`
}

// SSB describes the synchronization block layout handed to the signal engine.
type SSB struct {
	Pattern       string  `json:"pattern"`
	SCSkHz        uint32  `json:"scs_khz"`
	PeriodicityMs uint32  `json:"periodicity_ms"`
	FreqOffsetHz  float64 `json:"freq_offset_hz"`
	BetaPSS       float32 `json:"beta_pss"`
	BetaSSS       float32 `json:"beta_sss"`
	BetaPBCH      float32 `json:"beta_pbch"`
	BetaPBCHDMRS  float32 `json:"beta_pbch_dmrs"`
}

// Attack holds the target filter, the MIB tamper toggles and the transmit mode.
// A toggle that is false leaves its MIB field untouched.
type Attack struct {
	TargetPCI     uint32 `json:"target_pci"`
	ScanForTarget bool   `json:"scan_for_target"`

	ModifyCoreset0   bool   `json:"modify_coreset0_idx"`
	Coreset0Value    uint32 `json:"coreset0_idx_value"`
	ModifySS0        bool   `json:"modify_ss0_idx"`
	SS0Value         uint32 `json:"ss0_idx_value"`
	ModifyCellBarred bool   `json:"modify_cell_barred"`
	CellBarredValue  bool   `json:"cell_barred_value"`

	TxPowerDB    float64 `json:"tx_power_db"`
	ContinuousTX bool    `json:"continuous_tx"`
}

// TargetFilter returns the PCI to filter on, or nil when any cell is acceptable.
func (a Attack) TargetFilter() *uint32 {
	if !a.ScanForTarget {
		return nil
	}
	pci := a.TargetPCI
	return &pci
}

// Operation holds run-time settings that do not affect the radio.
type Operation struct {
	ScanDurationSec float64 `json:"scan_duration_sec"`
	LogLevel        string  `json:"log_level"`
	LogFormat       string  `json:"log_format"`
	LogFile         string  `json:"log_file"`
	SaveSamples     bool    `json:"save_samples"`
	SamplesFile     string  `json:"samples_file"`
	JournalPath     string  `json:"journal_path"`
	WebAddr         string  `json:"web_addr"`
}

// ScanDuration converts the scan budget to a time.Duration.
func (o Operation) ScanDuration() time.Duration {
	return time.Duration(o.ScanDurationSec * float64(time.Second))
}

// Config aggregates every section. It is loaded once and treated as read-only.
type Config struct {
	RF        RF        `json:"rf"`
	SSB       SSB       `json:"ssb"`
	Attack    Attack    `json:"attack"`
	Operation Operation `json:"operation"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		RF: RF{
			DeviceName:   "mock",
			RxFreqHz:     3.51e9,
			TxFreqHz:     3.51e9,
			SampleRateHz: 23.04e6,
			RxGainDB:     40,
			TxGainDB:     60,
		},
		SSB: SSB{
			Pattern:       "C",
			SCSkHz:        30,
			PeriodicityMs: 20,
		},
		Attack: Attack{
			ScanForTarget:    true,
			ModifyCellBarred: true,
			CellBarredValue:  true,
			Coreset0Value:    15,
			SS0Value:         15,
			ContinuousTX:     true,
		},
		Operation: Operation{
			ScanDurationSec: 10,
			LogLevel:        "info",
			LogFormat:       "text",
			SamplesFile:     "rx_samples.fc32",
		},
	}
}

// Load reads a JSON configuration file on top of Default and validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadOrCreate loads path, writing Default there first when it does not exist.
func LoadOrCreate(path string) (Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := Save(path, Default()); err != nil {
			return Config{}, err
		}
	}
	return Load(path)
}

// Save writes cfg as indented JSON.
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// ApplyEnv overrides selected fields from SSB_* environment variables.
// Unparseable values are reported rather than silently ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(envKeyPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *float64) {
		if v, ok := lookup(envKeyPrefix + key); ok {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envKeyPrefix, key, err))
				return
			}
			*dst = parsed
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(envKeyPrefix + key); ok {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envKeyPrefix, key, err))
				return
			}
			*dst = parsed
		}
	}

	str("DEVICE", &c.RF.DeviceName)
	str("DEVICE_ARGS", &c.RF.DeviceArgs)
	num("RX_FREQ_HZ", &c.RF.RxFreqHz)
	num("TX_FREQ_HZ", &c.RF.TxFreqHz)
	num("SAMPLE_RATE_HZ", &c.RF.SampleRateHz)
	num("SCAN_DURATION_SEC", &c.Operation.ScanDurationSec)
	flag("CONTINUOUS_TX", &c.Attack.ContinuousTX)
	str("LOG_LEVEL", &c.Operation.LogLevel)
	str("LOG_FILE", &c.Operation.LogFile)
	str("JOURNAL", &c.Operation.JournalPath)
	str("WEB_ADDR", &c.Operation.WebAddr)
	if v, ok := lookup(envKeyPrefix + "TARGET_PCI"); ok {
		pci, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sTARGET_PCI: %w", envKeyPrefix, err))
		} else {
			c.Attack.TargetPCI = uint32(pci)
			c.Attack.ScanForTarget = true
		}
	}
	return errors.Join(errs...)
}

// Validate checks ranges that the radio and the signal engine depend on.
// All problems are reported together.
func (c Config) Validate() error {
	var errs []error
	if c.RF.SampleRateHz <= 0 {
		errs = append(errs, errors.New("invalid sample rate"))
	}
	if c.RF.RxFreqHz <= 0 || c.RF.TxFreqHz <= 0 {
		errs = append(errs, errors.New("invalid frequency"))
	}
	switch strings.ToUpper(c.SSB.Pattern) {
	case "A", "B", "C", "D", "E":
	default:
		errs = append(errs, fmt.Errorf("invalid SSB pattern %q (need A/B/C/D/E)", c.SSB.Pattern))
	}
	if c.SSB.SCSkHz != 15 && c.SSB.SCSkHz != 30 {
		errs = append(errs, fmt.Errorf("invalid SCS %d kHz (need 15 or 30)", c.SSB.SCSkHz))
	}
	if c.Attack.TargetPCI > MaxPCI {
		errs = append(errs, fmt.Errorf("invalid PCI %d (max %d)", c.Attack.TargetPCI, MaxPCI))
	}
	if c.Attack.Coreset0Value > MaxCoreset0 {
		errs = append(errs, fmt.Errorf("invalid CORESET0 index %d (max %d)", c.Attack.Coreset0Value, MaxCoreset0))
	}
	if c.Attack.SS0Value > MaxSS0 {
		errs = append(errs, fmt.Errorf("invalid SS0 index %d (max %d)", c.Attack.SS0Value, MaxSS0))
	}
	if c.Operation.ScanDurationSec <= 0 {
		errs = append(errs, errors.New("scan duration must be positive"))
	}
	if c.Operation.SaveSamples && c.Operation.SamplesFile == "" {
		errs = append(errs, errors.New("save_samples requires samples_file"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Log writes a one-entry-per-section summary of the configuration.
func (c Config) Log(logger logging.Logger) {
	logger.Info("rf configuration",
		logging.F("device", c.RF.DeviceName),
		logging.F("args", c.RF.DeviceArgs),
		logging.F("rx_freq_mhz", c.RF.RxFreqHz/1e6),
		logging.F("tx_freq_mhz", c.RF.TxFreqHz/1e6),
		logging.F("srate_mhz", c.RF.SampleRateHz/1e6),
		logging.F("rx_gain_db", c.RF.RxGainDB),
		logging.F("tx_gain_db", c.RF.TxGainDB),
	)
	logger.Info("ssb configuration",
		logging.F("pattern", c.SSB.Pattern),
		logging.F("scs_khz", c.SSB.SCSkHz),
		logging.F("period_ms", c.SSB.PeriodicityMs),
		logging.F("offset_hz", c.SSB.FreqOffsetHz),
	)
	fields := []logging.Field{
		logging.F("scan_for_target", c.Attack.ScanForTarget),
		logging.F("modify_cell_barred", c.Attack.ModifyCellBarred),
		logging.F("modify_coreset0", c.Attack.ModifyCoreset0),
		logging.F("modify_ss0", c.Attack.ModifySS0),
		logging.F("continuous_tx", c.Attack.ContinuousTX),
	}
	if c.Attack.ScanForTarget {
		fields = append(fields, logging.F("target_pci", c.Attack.TargetPCI))
	}
	if c.Attack.ModifyCellBarred {
		fields = append(fields, logging.F("cell_barred_value", c.Attack.CellBarredValue))
	}
	if c.Attack.ModifyCoreset0 {
		fields = append(fields, logging.F("coreset0_value", c.Attack.Coreset0Value))
	}
	if c.Attack.ModifySS0 {
		fields = append(fields, logging.F("ss0_value", c.Attack.SS0Value))
	}
	logger.Info("attack configuration", fields...)
	logger.Info("operation configuration",
		logging.F("scan_duration_s", c.Operation.ScanDurationSec),
		logging.F("save_samples", c.Operation.SaveSamples),
		logging.F("samples_file", c.Operation.SamplesFile),
		logging.F("journal", c.Operation.JournalPath),
	)
}
