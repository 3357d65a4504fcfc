package log

// LoggerConfig configures the process-wide logger (see spec.md §6
// "Observable emissions"). Topology components attach their own
// structured fields (component_kind, and where known component_id and
// component_scope) via WithField/WithFields.
type LoggerConfig struct {
	Level     string           `yaml:"level" mapstructure:"level"`
	Pattern   string           `yaml:"pattern" mapstructure:"pattern"`
	Time      string           `yaml:"time" mapstructure:"time"`
	Appenders []AppenderConfig `yaml:"appenders" mapstructure:"appenders"`
	Formatter *FormatterConfig `yaml:"formatter,omitempty" mapstructure:"formatter"`
}

// AppenderConfig configures one log output destination.
type AppenderConfig struct {
	Type    string                 `yaml:"type" mapstructure:"type"`
	Level   string                 `yaml:"level,omitempty" mapstructure:"level"`
	Options map[string]interface{} `yaml:"options,omitempty" mapstructure:"options"`
}

// FormatterConfig tunes the text formatter's rendering.
type FormatterConfig struct {
	EnableColors   bool `yaml:"enable_colors,omitempty" mapstructure:"enable_colors"`
	FullTimestamp  bool `yaml:"full_timestamp,omitempty" mapstructure:"full_timestamp"`
	DisableSorting bool `yaml:"disable_sorting,omitempty" mapstructure:"disable_sorting"`
}

// DefaultLoggerConfig returns the default console logger used when no
// logger configuration is supplied.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:   "info",
		Pattern: "%time [%level] %caller: %msg %field",
		Time:    "2006-01-02 15:04:05",
		Appenders: []AppenderConfig{
			{Type: "console", Level: "info"},
		},
	}
}
