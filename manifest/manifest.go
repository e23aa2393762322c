// Package manifest handles brace.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest file looked up by FindAndLoad.
const FileName = "brace.toml"

// Manifest represents a brace.toml project configuration.
type Manifest struct {
	Project Project     `toml:"project"`
	Program Program     `toml:"program"`
	Run     RunConfig   `toml:"run"`
	Trace   TraceConfig `toml:"trace"`
	Log     LogConfig   `toml:"log"`

	// Dir is the directory containing the brace.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Program configures which files make up the program text.
type Program struct {
	Entry string `toml:"entry"`
	// Include lists files whose text is prepended to the entry, in order.
	// They usually hold *def definitions shared between programs.
	Include []string `toml:"include"`
}

// RunConfig bounds the rewrite loop.
type RunConfig struct {
	MaxSteps         int     `toml:"max_steps"`
	DetectCycles     bool    `toml:"detect_cycles"`
	CompactThreshold float64 `toml:"compact_threshold"`
}

// TraceConfig configures the step database.
type TraceConfig struct {
	DB string `toml:"db"`
}

// LogConfig configures logging.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no brace.toml exists.
func Default() *Manifest {
	return &Manifest{
		Run: RunConfig{DetectCycles: true, CompactThreshold: 1},
	}
}

// Load parses a brace.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if m.Run.MaxSteps < 0 {
		return nil, fmt.Errorf("%s: run.max_steps must not be negative", path)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a brace.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Resolve makes a manifest-relative path absolute. Absolute paths and the
// empty string are returned unchanged.
func (m *Manifest) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || m.Dir == "" {
		return path
	}
	return filepath.Join(m.Dir, path)
}

// EntryPath returns the absolute path of the entry program, if configured.
func (m *Manifest) EntryPath() string {
	return m.Resolve(m.Program.Entry)
}

// TraceDBPath returns the absolute path of the trace database, or "" when
// tracing is disabled.
func (m *Manifest) TraceDBPath() string {
	return m.Resolve(m.Trace.DB)
}

// LogFilePath returns the absolute log file path, or "" for stderr.
func (m *Manifest) LogFilePath() string {
	return m.Resolve(m.Log.File)
}

// ProgramText reads the include files followed by the program at path and
// joins them with newlines.
func (m *Manifest) ProgramText(path string) (string, error) {
	var parts []string
	for _, inc := range m.Program.Include {
		data, err := os.ReadFile(m.Resolve(inc))
		if err != nil {
			return "", fmt.Errorf("cannot read include %s: %w", inc, err)
		}
		parts = append(parts, string(data))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("cannot read program %s: %w", path, err)
	}
	parts = append(parts, string(data))
	return strings.Join(parts, "\n"), nil
}
