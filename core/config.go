/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

package core

import (
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/SSSOC-CAN/bdlog/errors"
	"github.com/SSSOC-CAN/bdlog/state"
	"github.com/SSSOC-CAN/bdlog/utils"
	flags "github.com/jessevdk/go-flags"
	e "github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Mode selects which instrument a daemon logs
type Mode string

const (
	ModeSerial Mode = "serlogd"
	ModeAIS    Mode = "aislogd"
	ModeWinch  Mode = "winchlogd"
	ModeTide   Mode = "tidelogd"

	appName = "bdlog"
)

// Config is the object which will hold all of the config parameters
type Config struct {
	Mode            Mode   `yaml:"-"`
	DefaultLogDir   bool   `yaml:"DefaultLogDir"`
	LogFileDir      string `yaml:"LogFileDir" long:"logfiledir" description:"Choose the directory where the log file is stored"`
	MaxLogFiles     int64  `yaml:"MaxLogFiles" long:"maxlogfiles" description:"Maximum number of logfiles in the log rotation (0 for no rotation)"`
	MaxLogFileSize  int64  `yaml:"MaxLogFileSize" long:"maxlogfilesize" description:"Maximum size of a logfile in MB"`
	ConsoleOutput   bool   `yaml:"ConsoleOutput" long:"consoleoutput" description:"Whether log information is printed to the console"`
	LogLevel        string `yaml:"LogLevel" long:"loglevel" description:"One of TRACE, DEBUG, INFO, WARN, ERROR"`
	Identity        string `yaml:"Identity" long:"identity" description:"Name this instance answers to in commands (defaults to the hostname)"`
	DataDir         string `yaml:"DataDir" long:"datadir" description:"Directory under which dataset directories are created"`
	RecoveryFile    string `yaml:"RecoveryFile" long:"recoveryfile" description:"File holding the active dataset across restarts"`
	Dataset         string `yaml:"Dataset" long:"dataset" description:"Dataset used when no recovery file exists"`
	InstallYear     int64  `yaml:"InstallYear" long:"installyear" description:"Records stamped before this year are rejected"`
	IdleTimeout     int64  `yaml:"IdleTimeout" long:"idletimeout" description:"Seconds an output file may stay idle before it is closed"`
	Device          string `yaml:"Device" long:"device" description:"Serial device path"`
	BaudRate        int64  `yaml:"BaudRate" long:"baud" description:"Serial baud rate"`
	LineMode        string `yaml:"LineMode" long:"linemode" description:"Serial preset: 8N1, 7N1, 7N2, 7E1, 7E2, 7O1 or 7O2"`
	Instrument      string `yaml:"Instrument" long:"instrument" description:"Stream name of the serial instrument"`
	RequireChecksum bool   `yaml:"RequireChecksum" long:"requirechecksum" description:"Reject serial lines without a checksum trailer"`
	ListenAddr      string `yaml:"ListenAddr" long:"listen" description:"UDP address the data socket binds"`
	TideAddr        string `yaml:"TideAddr" long:"tideaddr" description:"host:port of the tide gauge"`
	PollCommand     string `yaml:"PollCommand" long:"pollcommand" description:"Command sent to poll the tide gauge"`
	PollPeriod      int64  `yaml:"PollPeriod" long:"pollperiod" description:"Seconds between tide gauge polls"`
	CommandPort     int64  `yaml:"CommandPort" long:"commandport" description:"UDP port for command sentences (0 disables)"`
	DisplayAddr     string `yaml:"DisplayAddr" long:"displayaddr" description:"UDP address records routed to the display are sent to"`
	MetricsPort     int64  `yaml:"MetricsPort" long:"metricsport" description:"Port of the prometheus endpoint (0 disables)"`
	HealthPort      int64  `yaml:"HealthPort" long:"healthport" description:"Port of the gRPC health service (0 disables)"`
	InfluxURL       string `yaml:"InfluxURL" long:"influxurl" description:"InfluxDB URL readings are mirrored to"`
	InfluxToken     string `yaml:"InfluxToken" long:"influxtoken" description:"InfluxDB API token"`
	InfluxOrg       string `yaml:"InfluxOrg" long:"influxorg" description:"InfluxDB organization"`
	InfluxBucket    string `yaml:"InfluxBucket" long:"influxbucket" description:"InfluxDB bucket"`
}

// default_log_dir returns the default log directory
var (
	default_log_dir = func() string {
		return utils.AppDataDir(appName, false)
	}
	default_data_dir            = func() string { return filepath.Join(default_log_dir(), "data") }
	default_recovery_file       = func() string { return filepath.Join(default_log_dir(), "dataset") }
	default_log_file_size int64 = 10
	default_max_log_files int64 = 0
	default_log_level           = "INFO"
	default_idle_timeout  int64 = 60
	default_install_year  int64 = 2017
	default_baud_rate     int64 = 9600
	default_line_mode           = "8N1"
	default_device              = "/dev/ttyUSB0"
	default_instrument          = "nmea"
	default_poll_command        = "M"
	default_poll_period   int64 = 10
	default_listen_addrs        = map[Mode]string{
		ModeAIS:   ":10110",
		ModeWinch: ":5110",
	}
	// default_config returns the default configuration of a daemon
	default_config = func(mode Mode) Config {
		return Config{
			Mode:           mode,
			DefaultLogDir:  true,
			LogFileDir:     default_log_dir(),
			MaxLogFiles:    default_max_log_files,
			MaxLogFileSize: default_log_file_size,
			ConsoleOutput:  true,
			LogLevel:       default_log_level,
			DataDir:        default_data_dir(),
			RecoveryFile:   default_recovery_file(),
			InstallYear:    default_install_year,
			IdleTimeout:    default_idle_timeout,
			Device:         default_device,
			BaudRate:       default_baud_rate,
			LineMode:       default_line_mode,
			Instrument:     default_instrument,
			ListenAddr:     default_listen_addrs[mode],
			PollCommand:    default_poll_command,
			PollPeriod:     default_poll_period,
		}
	}
)

// ConfigFile returns the path of the configuration file of a daemon
func ConfigFile(mode Mode) string {
	return filepath.Join(default_log_dir(), string(mode)+".yaml")
}

// InitConfig returns the `Config` struct with either default values or values specified in `<daemon>.yaml`
func InitConfig(mode Mode, isTesting bool) (Config, error) {
	// Check if bdlog directory exists, if no then create it
	if !utils.FileExists(default_log_dir()) {
		err := os.MkdirAll(default_log_dir(), 0700)
		if err != nil {
			log.Println(err)
		}
	}
	config, err := LoadConfig(mode, ConfigFile(mode))
	if err != nil {
		return Config{}, err
	}
	// now to parse the flags
	if !isTesting {
		if _, err := flags.Parse(&config); err != nil {
			return Config{}, err
		}
	}
	config.Mode = mode
	return config, config.Validate()
}

// LoadConfig reads the yaml file at filename over the defaults of mode. A missing file
// yields the defaults.
func LoadConfig(mode Mode, filename string) (Config, error) {
	config := default_config(mode)
	if !utils.FileExists(filename) {
		return config, nil
	}
	config_file, err := ioutil.ReadFile(filename)
	if err != nil {
		return Config{}, e.Wrapf(err, "could not read %s", filename)
	}
	if err = yaml.Unmarshal(config_file, &config); err != nil {
		return Config{}, e.Wrapf(err, "could not parse %s", filename)
	}
	// Need to check if any config parameters aren't defined in the file and assign them a default value
	config = check_yaml_config(config)
	config.Mode = mode
	return config, nil
}

// Validate checks the parameters the daemon cannot start without
func (c Config) Validate() error {
	switch c.Mode {
	case ModeSerial:
		if c.Device == "" {
			return e.Wrap(errors.ErrSourceConfig, "no serial device configured")
		}
	case ModeAIS, ModeWinch:
		if c.ListenAddr == "" {
			return e.Wrap(errors.ErrSourceConfig, "no listen address configured")
		}
	case ModeTide:
		if c.TideAddr == "" {
			return e.Wrap(errors.ErrSourceConfig, "no tide gauge address configured")
		}
	default:
		return e.Wrapf(errors.ErrSourceConfig, "unknown daemon %q", c.Mode)
	}
	if _, ok := log_level[strings.ToUpper(c.LogLevel)]; !ok {
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if c.Dataset != "" {
		if err := state.ValidateDataset(c.Dataset); err != nil {
			return e.Wrap(err, "invalid Dataset")
		}
	}
	if (c.InfluxURL != "") != (c.InfluxBucket != "") {
		return fmt.Errorf("InfluxURL and InfluxBucket must be set together")
	}
	return nil
}

// change_field changes the value of a specified field from the config struct
func change_field(field reflect.Value, new_value interface{}) {
	if field.IsValid() {
		if field.CanSet() {
			f := field.Kind()
			switch f {
			case reflect.String:
				if v, ok := new_value.(string); ok {
					field.SetString(v)
				} else {
					log.Fatal(fmt.Sprintf("Type of new_value: %v does not match the type of the field: string", new_value))
				}
			case reflect.Bool:
				if v, ok := new_value.(bool); ok {
					field.SetBool(v)
				} else {
					log.Fatal(fmt.Sprintf("Type of new_value: %v does not match the type of the field: bool", new_value))
				}
			case reflect.Int64:
				if v, ok := new_value.(int64); ok {
					field.SetInt(v)
				} else {
					log.Fatal(fmt.Sprintf("Type of new_value: %v does not match the type of the field: int64", new_value))
				}
			}
		}
	}
}

// check_yaml_config iterates over the Config struct fields and changes blank fields to default values
func check_yaml_config(config Config) Config {
	pv := reflect.ValueOf(&config)
	v := pv.Elem()
	field_names := v.Type()
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		field_name := field_names.Field(i).Name
		switch field_name {
		case "LogFileDir":
			if f.String() == "" {
				change_field(f, default_log_dir())
				dld := v.FieldByName("DefaultLogDir")
				change_field(dld, true)
			}
		case "MaxLogFileSize":
			if f.Int() == 0 {
				change_field(f, default_log_file_size)
			}
		case "LogLevel":
			if f.String() == "" {
				change_field(f, default_log_level)
			}
		case "DataDir":
			if f.String() == "" {
				change_field(f, default_data_dir())
			}
		case "RecoveryFile":
			if f.String() == "" {
				change_field(f, default_recovery_file())
			}
		case "InstallYear":
			if f.Int() == 0 {
				change_field(f, default_install_year)
			}
		case "IdleTimeout":
			if f.Int() <= 0 {
				change_field(f, default_idle_timeout)
			}
		case "BaudRate":
			if f.Int() <= 0 {
				change_field(f, default_baud_rate)
			}
		case "LineMode":
			if f.String() == "" {
				change_field(f, default_line_mode)
			}
		case "Instrument":
			if f.String() == "" {
				change_field(f, default_instrument)
			}
		case "PollCommand":
			if f.String() == "" {
				change_field(f, default_poll_command)
			}
		case "PollPeriod":
			if f.Int() <= 0 {
				change_field(f, default_poll_period)
			}
		default:
			continue
		}
	}
	return config
}
