/*
 * Copyright (c) 2024. Anton Starikov -- All Rights Reserved
 *
 * This file is part of MHPBC project.
 *
 * MHPBC is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as the Free Software Foundation,
 * either version 3 of the License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/pborman/getopt/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/antst/mhpbc/internal/logger"
)

const (
	defaultConfigFile   = "config.yaml"
	defaultStateFile    = "mhpbc.state"
	defaultDBFile       = ""
	defaultSaveInterval = 10 * time.Second
	defaultReport       = 5 * time.Second
)

// Commands understood by the binary.
const (
	CommandRun     = "run"
	CommandReplay  = "replay"
	CommandOff     = "off"
	CommandPWM     = "pwm"
	CommandHistory = "history"
)

type Config struct {
	LogLevel      zapcore.Level               `yaml:"log_level"`
	MQTTConfig    *MQTTConfig                 `yaml:"mqtt"`
	State         string                      `yaml:"state"`
	DBFile        string                      `yaml:"db_file,omitempty"`
	MetricsListen string                      `yaml:"metrics_listen,omitempty"`
	Adj           *AdjConfig                  `yaml:"adj"`
	Output        map[string]*PWMOutputConfig `yaml:"output"`
	Sensor        *SensorConfig               `yaml:"sensor"`
	Setting       *SettingConfig              `yaml:"setting"`
	Lim           *LimConfig                  `yaml:"lim"`
	Cmd           *CmdConfig                  `yaml:"cmd"`
	Feedback      *FeedbackConfig             `yaml:"feedback"`
	Misc          *MiscConfig                 `yaml:"misc"`
	PID           *PIDSetConfig               `yaml:"pid"`
}

// Options carries command line choices that are not part of the config file.
type Options struct {
	Command    string
	Args       []string
	RecordFile string
	ForceOn    bool
	HistoryLen int
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:   zapcore.InfoLevel,
		MQTTConfig: NewMQTTConfig(),
		State:      defaultStateFile,
		DBFile:     defaultDBFile,
		Adj:        NewAdjConfig(),
		Output: map[string]*PWMOutputConfig{
			"flow": {Path: "heat/s/pump/pid", Chip: defaultGPIOChip, Pin: 4, Freq: 200},
		},
		Sensor:   NewSensorConfig(),
		Setting:  NewSettingConfig(),
		Lim:      NewLimConfig(),
		Cmd:      NewCmdConfig(),
		Feedback: NewFeedbackConfig(),
		Misc:     NewMiscConfig(),
		PID:      NewPIDSetConfig(),
	}
}

func prettyPrint(cfg *Config) {
	d, err := yaml.Marshal(cfg)
	if err != nil {
		logger.L().Error("Failed to marshal config for pretty print", err)
		return
	}
	logger.L().Debugf("--- Config ---\n%s\n\n", string(d))
}

func (cfg *Config) FillDefaults() {
	if cfg.MQTTConfig == nil {
		cfg.MQTTConfig = NewMQTTConfig()
	}
	cfg.MQTTConfig.FillDefaults()
	if cfg.State == "" {
		cfg.State = defaultStateFile
	}
	if cfg.Adj == nil {
		cfg.Adj = NewAdjConfig()
	}
	cfg.Adj.FillDefaults()
	if cfg.Output == nil {
		cfg.Output = make(map[string]*PWMOutputConfig)
	}
	for _, o := range cfg.Output {
		o.FillDefaults()
	}
	if cfg.Sensor == nil {
		cfg.Sensor = NewSensorConfig()
	}
	cfg.Sensor.FillDefaults()
	if cfg.Setting == nil {
		cfg.Setting = NewSettingConfig()
	}
	cfg.Setting.FillDefaults()
	if cfg.Lim == nil {
		cfg.Lim = NewLimConfig()
	}
	if cfg.Cmd == nil {
		cfg.Cmd = NewCmdConfig()
	}
	cfg.Cmd.FillDefaults()
	if cfg.Feedback == nil {
		cfg.Feedback = NewFeedbackConfig()
	}
	if cfg.Misc == nil {
		cfg.Misc = NewMiscConfig()
	}
	cfg.Misc.FillDefaults()
	if cfg.PID == nil {
		cfg.PID = NewPIDSetConfig()
	}
	cfg.PID.FillDefaults()
}

// Validate checks that every quantity the controller needs has a feed path and that the
// numeric settings are usable.
func (cfg *Config) Validate() error {
	required := map[string]string{
		"cmd.main":           cfg.Cmd.Main,
		"cmd.heat":           cfg.Cmd.Heat,
		"cmd.power":          cfg.Cmd.Power,
		"cmd.mode.path":      cfg.Cmd.Mode.Path,
		"setting.heat.day":   cfg.Setting.Heat.Day,
		"setting.water":      cfg.Setting.Water,
		"sensor.pump.in":     cfg.Sensor.Pump.In,
		"sensor.pump.out":    cfg.Sensor.Pump.Out,
		"sensor.pump.flow":   cfg.Sensor.Pump.Flow,
		"sensor.pump.ice":    cfg.Sensor.Pump.Ice,
		"sensor.buffer.top":  cfg.Sensor.Buffer.Top,
		"sensor.buffer.heat": cfg.Sensor.Buffer.Heat,
		"sensor.buffer.mid":  cfg.Sensor.Buffer.Mid,
		"sensor.buffer.low":  cfg.Sensor.Buffer.Low,
		"sensor.error":       cfg.Sensor.Error,
		"sensor.power":       cfg.Sensor.Power,
	}
	for name, path := range required {
		if path == "" {
			return fmt.Errorf("missing feed path for `%s`", name)
		}
	}

	flow, ok := cfg.Output["flow"]
	if !ok || flow == nil {
		return errors.New("missing `output.flow`")
	}
	if flow.Path == "" && flow.Pin < 0 {
		return errors.New("`output.flow` needs either a path or a pin")
	}

	if cfg.Setting.Heat.Mode.Path == "" && cfg.Setting.Heat.Pin == nil {
		return errors.New("`setting.heat` needs either a mode path or a pin")
	}

	if cfg.Adj.Low.Water > cfg.Adj.Water {
		return fmt.Errorf("adj.low.water (%v) above adj.water (%v)", cfg.Adj.Low.Water, cfg.Adj.Water)
	}
	if cfg.Adj.Low.Heat > cfg.Adj.Heat {
		return fmt.Errorf("adj.low.heat (%v) above adj.heat (%v)", cfg.Adj.Low.Heat, cfg.Adj.Heat)
	}

	if err := cfg.PID.Validate(); err != nil {
		return err
	}
	if nh := cfg.Setting.Heat.NightHours; nh != nil {
		if err := nh.parse(); err != nil {
			return errors.WithMessage(err, "setting.heat.night_hours")
		}
		if cfg.Setting.Heat.Night == "" {
			return errors.New("setting.heat.night_hours needs setting.heat.night")
		}
	}
	if cfg.Misc.Start.Flow.Init.Rate <= 0 {
		return errors.New("misc.start.flow.init.rate must be positive")
	}
	return nil
}

// Get parses the command line, reads the config file and returns both.
func Get() (*Config, *Options) {
	cfg := Default()
	opts := &Options{Command: CommandRun}

	logLevel := getopt.StringLong("log-level", 'l', "", "log levels: debug, info, warn, error, dpanic, panic, fatal")
	configFile := getopt.StringLong("config", 'c', defaultConfigFile, "config file pathname")
	dbFile := getopt.StringLong("db", 'd', "", "journal DB file pathname")
	record := getopt.StringLong("record", 'r', "", "record live values to this file")
	forceOn := getopt.BoolLong("force-on", 'f', "start the heat pump regardless of buffer temperature")
	history := getopt.IntLong("count", 'n', 20, "number of journal entries for `history`")
	help := getopt.BoolLong("help", 'h', "display help")
	getopt.SetParameters("[run|replay FILE|off|pwm|history]")

	getopt.Parse()
	if *help {
		getopt.Usage()
		os.Exit(0)
	}

	if err := readFile(cfg, *configFile); err != nil {
		log.Panicf("GetConfig: %v", err)
	}
	logger.L().Infof("Using config file `%v`", *configFile)

	if *dbFile != "" {
		cfg.DBFile = *dbFile
	}
	if cfg.DBFile != "" {
		logger.L().Infof("Using DB file `%v`", cfg.DBFile)
	}

	cfg.FillDefaults()

	if *logLevel != "" {
		if err := cfg.LogLevel.Set(*logLevel); err != nil {
			logger.L().Errorf("Wrong log level `%v`: %v", *logLevel, err)
		}
	}
	logger.SetLogLevel(cfg.LogLevel)

	if args := getopt.Args(); len(args) > 0 {
		opts.Command = args[0]
		opts.Args = args[1:]
	}
	opts.RecordFile = *record
	opts.ForceOn = *forceOn
	opts.HistoryLen = *history

	prettyPrint(cfg)

	return cfg, opts
}

// Load reads a config file on top of the defaults. A missing file yields the defaults.
func Load(configFileName string) (*Config, error) {
	cfg := Default()
	if err := readFile(cfg, configFileName); err != nil {
		return nil, err
	}
	cfg.FillDefaults()
	return cfg, nil
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	return err == nil && !info.IsDir()
}

func readFile(cfg *Config, configFileName string) error {
	if !fileExists(configFileName) {
		return nil
	}

	f, err := os.Open(configFileName)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	return nil
}

func GetPTR[T any](v T) *T {
	return &v
}
