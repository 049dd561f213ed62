package nestlog

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds the logging-related command-line flags.
type Flags struct {
	LogLevel      string
	LogFormat     string
	LogFile       string
	DebugRTP      bool
	DebugFEC      bool
	DebugControl  bool
	DebugSession  bool
	DebugRTSP     bool
	DebugAll      bool
}

// RegisterFlags registers logging flags on fs and returns the bound Flags.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info", "Log level (shorthand)")
	fs.StringVar(&f.LogFormat, "log-format", "text", "Log output format: text, json")
	fs.StringVar(&f.LogFile, "log-file", "", "Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "", "Log output file path (shorthand)")

	fs.BoolVar(&f.DebugRTP, "debug-rtp", false, "Enable per-packet RTP/NV header debugging")
	fs.BoolVar(&f.DebugFEC, "debug-fec", false, "Enable FEC shard reconstruction debugging")
	fs.BoolVar(&f.DebugControl, "debug-control", false, "Enable control-channel frame debugging")
	fs.BoolVar(&f.DebugSession, "debug-session", false, "Enable session state transition debugging")
	fs.BoolVar(&f.DebugRTSP, "debug-rtsp", false, "Enable RTSP request/response debugging")
	fs.BoolVar(&f.DebugAll, "debug-all", false, "Enable all debug categories")

	return f
}

// ToConfig converts Flags into a logger Config.
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format
	cfg.OutputFile = f.LogFile

	switch {
	case f.DebugAll:
		cfg.EnableCategory(CategoryAll)
		cfg.Level = LevelDebug
	default:
		if f.DebugRTP {
			cfg.EnableCategory(CategoryRTP)
			cfg.Level = LevelDebug
		}
		if f.DebugFEC {
			cfg.EnableCategory(CategoryFEC)
			cfg.Level = LevelDebug
		}
		if f.DebugControl {
			cfg.EnableCategory(CategoryControl)
			cfg.Level = LevelDebug
		}
		if f.DebugSession {
			cfg.EnableCategory(CategorySession)
			cfg.Level = LevelDebug
		}
		if f.DebugRTSP {
			cfg.EnableCategory(CategoryRTSP)
			cfg.Level = LevelDebug
		}
	}

	return cfg, nil
}

// PrintUsageExamples prints example invocations to stdout.
func PrintUsageExamples() {
	fmt.Println(`
Logging examples:

  Basic usage (INFO level, text format to stdout):
    ./nestream

  Debug level everywhere:
    ./nestream --log-level debug

  JSON logs to a file:
    ./nestream --log-format json -o nestream.log

  Debug only the control channel:
    ./nestream --debug-control

  Debug everything:
    ./nestream --debug-all -o debug.log
`)
}

// String summarizes the enabled flags for a startup log line.
func (f *Flags) String() string {
	parts := []string{
		fmt.Sprintf("level=%s", f.LogLevel),
		fmt.Sprintf("format=%s", f.LogFormat),
	}
	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var cats []string
	switch {
	case f.DebugAll:
		cats = append(cats, "all")
	default:
		if f.DebugRTP {
			cats = append(cats, "rtp")
		}
		if f.DebugFEC {
			cats = append(cats, "fec")
		}
		if f.DebugControl {
			cats = append(cats, "control")
		}
		if f.DebugSession {
			cats = append(cats, "session")
		}
		if f.DebugRTSP {
			cats = append(cats, "rtsp")
		}
	}
	if len(cats) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(cats, ",")))
	}
	return strings.Join(parts, " ")
}
