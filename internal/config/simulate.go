package config

import "github.com/spf13/pflag"

// SimulateConfig holds configuration for the simulate command.
type SimulateConfig struct {
	Scenario    string
	Out         string
	Append      bool
	Report      string
	LogLevel    string
	MetricsAddr string
}

// LoadSimulate merges config file, environment variables, and flags into SimulateConfig.
func LoadSimulate(cfgFile string, flags *pflag.FlagSet) (SimulateConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"out":       "./data/sim_logs.jsonl",
		"append":    false,
		"log-level": "info",
	})
	if err != nil {
		return SimulateConfig{}, err
	}

	return SimulateConfig{
		Scenario:    v.GetString("scenario"),
		Out:         v.GetString("out"),
		Append:      v.GetBool("append"),
		Report:      v.GetString("report"),
		LogLevel:    v.GetString("log-level"),
		MetricsAddr: v.GetString("metrics-addr"),
	}, nil
}
