package options

import (
	"io"
)

// Modes of the mxlwb command.
const (
	ModeTUI   = "tui"
	ModeRun   = "run"
	ModeChat  = "chat"
	ModeDebug = "debug"
)

// RunOptions contains all the options that are relevant to run mxlwb.
type RunOptions struct {
	*Config `json:"config,omitempty" yaml:"config,omitempty"`

	// Mode selects the front end: tui, run, chat or debug.
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`
	// PositionalArgs follow the mode. In run mode they form the prompt.
	PositionalArgs []string `json:"positionalArgs,omitempty" yaml:"positionalArgs,omitempty"`

	ShowSpinner bool `json:"showSpinner,omitempty" yaml:"showSpinner,omitempty"`
	// DebugCount makes debug mode exit after that many finished requests.
	// Zero follows the stream until interrupted.
	DebugCount int `json:"debugCount,omitempty" yaml:"debugCount,omitempty"`

	// Verbosity options
	Verbose   bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	DebugMode bool   `json:"debugMode,omitempty" yaml:"debugMode,omitempty"`
	LogFile   string `json:"logFile,omitempty" yaml:"logFile,omitempty"`

	ReadlineHistoryFile string `json:"readlineHistoryFile,omitempty" yaml:"readlineHistoryFile,omitempty"`

	// --- I/O handles passed in ---
	Stdout io.Writer `json:"-" yaml:"-"`
	Stderr io.Writer `json:"-" yaml:"-"`
	Stdin  io.Reader `json:"-" yaml:"-"`

	ConfigPath string `json:"configPath,omitempty" yaml:"configPath,omitempty"`
}
