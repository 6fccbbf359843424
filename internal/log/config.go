package log

const (
	DefaultPattern    = "%time [%level] %caller: %msg %field"
	DefaultTimeLayout = "2006-01-02 15:04:05.000"
)

type Config struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Format  string `mapstructure:"format" yaml:"format"` // pattern or json
	Pattern string `mapstructure:"pattern" yaml:"pattern,omitempty"`
	Time    string `mapstructure:"time" yaml:"time,omitempty"`
	Caller  bool   `mapstructure:"caller" yaml:"caller"`
	Stdout  bool   `mapstructure:"stdout" yaml:"stdout"`

	File FileAppenderOpt `mapstructure:"file" yaml:"file"`
}

// DefaultConfig logs at info level to stdout with the default pattern.
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Format:  "pattern",
		Pattern: DefaultPattern,
		Time:    DefaultTimeLayout,
		Stdout:  true,
	}
}
