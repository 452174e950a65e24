package cmd

// CLI is the hcsim command line.
type CLI struct {
	ConfigFile string    `name:"config" help:"Configuration file (.json, .yaml or .toml)" env:"HCSIM_CONFIG" type:"path"`
	Log        LogConfig `embed:"" prefix:"log."`

	Run    RunCommand    `cmd:"" help:"Drive a simulated host controller with a device workload"`
	Config ConfigCommand `cmd:"" help:"Manage configuration files"`
}

// LogConfig holds the logging flags shared by every command.
type LogConfig struct {
	Level  string `help:"Log level" default:"info" enum:"trace,debug,info,warn,error" env:"HCSIM_LOG_LEVEL"`
	Format string `help:"Log record format" default:"text" enum:"text,json" env:"HCSIM_LOG_FORMAT"`
	File   string `help:"Write logs to this file as well as stderr" env:"HCSIM_LOG_FILE"`
}
