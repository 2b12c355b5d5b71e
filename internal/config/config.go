// Package config holds the daemon's tunables: a flat struct populated
// first from flag.* vars, the teacher's samples/mount_sample/mount.go
// pattern, then optionally overridden by a BurntSushi/toml file.
package config

import (
	"flag"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full set of daemon knobs (spec.md §5, §6, §9's "global
// statics ... become fields on a process-wide context").
type Config struct {
	SPIDevice    string
	GPIOChip     string
	GPIOLine     int
	SPIPollDelay time.Duration
	ResendLimit  int

	SocketPath         string
	SocketPollInterval time.Duration

	MinimumProtocolVersion int
	CurrentProtocolVersion int

	MacroDirectory string

	HostUpdateInterval time.Duration
	MaxMessageAge      time.Duration

	IapTimeout            time.Duration
	IapBootDelay          time.Duration
	IapRebootDelay        time.Duration
	FirmwareFinishedDelay time.Duration

	// UpdateOnly runs just T3 against a standalone in-memory store,
	// skipping IPC and SPI bring-up (spec.md §6 "CLI surface").
	UpdateOnly bool

	ConfigFile string
}

// tomlOverlay mirrors Config's file-overridable fields with TOML's
// native types: durations are milliseconds, since BurntSushi/toml has
// no built-in time.Duration decoding. loadTOML copies whichever
// fields were actually present in the file onto a Config.
type tomlOverlay struct {
	SPIDevice    *string `toml:"spi_device"`
	GPIOChip     *string `toml:"gpio_chip"`
	GPIOLine     *int    `toml:"gpio_line"`
	SPIPollDelayMs *int64 `toml:"spi_poll_delay_ms"`
	ResendLimit  *int    `toml:"resend_limit"`

	SocketPath           *string `toml:"socket_path"`
	SocketPollIntervalMs *int64  `toml:"socket_poll_interval_ms"`

	MacroDirectory *string `toml:"macro_directory"`

	HostUpdateIntervalMs *int64 `toml:"host_update_interval_ms"`
	MaxMessageAgeMs      *int64 `toml:"max_message_age_ms"`

	IapTimeoutMs            *int64 `toml:"iap_timeout_ms"`
	IapBootDelayMs          *int64 `toml:"iap_boot_delay_ms"`
	IapRebootDelayMs        *int64 `toml:"iap_reboot_delay_ms"`
	FirmwareFinishedDelayMs *int64 `toml:"firmware_finished_delay_ms"`
}

func (o tomlOverlay) apply(cfg *Config) {
	set(&cfg.SPIDevice, o.SPIDevice)
	set(&cfg.GPIOChip, o.GPIOChip)
	set(&cfg.GPIOLine, o.GPIOLine)
	setDuration(&cfg.SPIPollDelay, o.SPIPollDelayMs)
	set(&cfg.ResendLimit, o.ResendLimit)
	set(&cfg.SocketPath, o.SocketPath)
	setDuration(&cfg.SocketPollInterval, o.SocketPollIntervalMs)
	set(&cfg.MacroDirectory, o.MacroDirectory)
	setDuration(&cfg.HostUpdateInterval, o.HostUpdateIntervalMs)
	setDuration(&cfg.MaxMessageAge, o.MaxMessageAgeMs)
	setDuration(&cfg.IapTimeout, o.IapTimeoutMs)
	setDuration(&cfg.IapBootDelay, o.IapBootDelayMs)
	setDuration(&cfg.IapRebootDelay, o.IapRebootDelayMs)
	setDuration(&cfg.FirmwareFinishedDelay, o.FirmwareFinishedDelayMs)
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, ms *int64) {
	if ms != nil {
		*dst = time.Duration(*ms) * time.Millisecond
	}
}

// Default returns the daemon's built-in defaults, overridden by
// RegisterFlags/Parse before use.
func Default() Config {
	return Config{
		SPIDevice:              "/dev/spidev0.0",
		GPIOChip:               "/dev/gpiochip0",
		GPIOLine:               25,
		SPIPollDelay:           2 * time.Millisecond,
		ResendLimit:            3,
		SocketPath:             "/run/sbcd/sbcd.sock",
		SocketPollInterval:     250 * time.Millisecond,
		MinimumProtocolVersion: 8,
		CurrentProtocolVersion: 12,
		MacroDirectory:         "/opt/sbc/sys",
		HostUpdateInterval:     10 * time.Second,
		MaxMessageAge:          5 * time.Minute,
		IapTimeout:             20 * time.Second,
		IapBootDelay:           2 * time.Second,
		IapRebootDelay:         5 * time.Second,
		FirmwareFinishedDelay:  500 * time.Millisecond,
	}
}

// flags holds the flag.* variables RegisterFlags binds, so the loader
// it returns can read them back after flag.Parse without reaching for package
// globals from other files.
type flags struct {
	spiDevice    *string
	gpioChip     *string
	gpioLine     *int
	spiPollDelay *time.Duration
	resendLimit  *int

	socketPath         *string
	socketPollInterval *time.Duration

	macroDirectory *string

	hostUpdateInterval *time.Duration
	maxMessageAge      *time.Duration

	updateOnly *bool
	configFile *string
}

// RegisterFlags declares the daemon's flag.* vars against fs (the
// teacher's pattern is one flag.* var per tunable, parsed by the
// caller's main). Call the returned loader after flag.Parse to resolve
// them into a Config, applying any -config TOML override on top.
func RegisterFlags(fs *flag.FlagSet) func() (Config, error) {
	d := Default()
	f := &flags{
		spiDevice:          fs.String("spi-device", d.SPIDevice, "Path to the SPI device node."),
		gpioChip:           fs.String("gpio-chip", d.GPIOChip, "Path to the GPIO chip device node."),
		gpioLine:           fs.Int("gpio-line", d.GPIOLine, "GPIO line number for the data-ready signal."),
		spiPollDelay:       fs.Duration("spi-poll-delay", d.SPIPollDelay, "Idle tick between SPI transfers."),
		resendLimit:        fs.Int("resend-limit", d.ResendLimit, "Max resend attempts for a malformed frame."),
		socketPath:         fs.String("socket-path", d.SocketPath, "Path to the IPC Unix domain socket."),
		socketPollInterval: fs.Duration("socket-poll-interval", d.SocketPollInterval, "Subscription patch-batching window."),
		macroDirectory:     fs.String("macro-directory", d.MacroDirectory, "Root directory for firmware-requested macros."),
		hostUpdateInterval: fs.Duration("host-update-interval", d.HostUpdateInterval, "Interval between host reconciliation passes."),
		maxMessageAge:      fs.Duration("max-message-age", d.MaxMessageAge, "Messages older than this are pruned."),
		updateOnly:         fs.Bool("update-only", false, "Run only the host updater, skipping IPC and SPI bring-up."),
		configFile:         fs.String("config", "", "Optional TOML file overriding the flag defaults."),
	}

	return func() (Config, error) {
		cfg := d
		cfg.SPIDevice = *f.spiDevice
		cfg.GPIOChip = *f.gpioChip
		cfg.GPIOLine = *f.gpioLine
		cfg.SPIPollDelay = *f.spiPollDelay
		cfg.ResendLimit = *f.resendLimit
		cfg.SocketPath = *f.socketPath
		cfg.SocketPollInterval = *f.socketPollInterval
		cfg.MacroDirectory = *f.macroDirectory
		cfg.HostUpdateInterval = *f.hostUpdateInterval
		cfg.MaxMessageAge = *f.maxMessageAge
		cfg.UpdateOnly = *f.updateOnly
		cfg.ConfigFile = *f.configFile

		if cfg.ConfigFile != "" {
			var overlay tomlOverlay
			if _, err := toml.DecodeFile(cfg.ConfigFile, &overlay); err != nil {
				return cfg, err
			}
			overlay.apply(&cfg)
		}
		return cfg, nil
	}
}
