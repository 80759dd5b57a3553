package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// FileName is the project-local config file looked up in the working directory.
const FileName = "ipsafe.config.json"

// ErrExists is returned by InitGlobal when the file exists and force is off.
var ErrExists = errors.New("config file already exists")

// Loader discovers config files and merges them over Defaults().
type Loader struct {
	Path      string // explicit file; disables discovery
	WorkDir   string
	HomeDir   string
	ConfigDir string
	Logger    *zap.Logger
}

func NewLoader(path string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	wd, _ := os.Getwd()
	home, _ := os.UserHomeDir()
	cfgDir, err := os.UserConfigDir()
	if err != nil && home != "" {
		cfgDir = filepath.Join(home, ".config")
	}
	return &Loader{Path: path, WorkDir: wd, HomeDir: home, ConfigDir: cfgDir, Logger: logger}
}

// GlobalPath is where InitGlobal writes and the lowest-precedence search location.
func (l *Loader) GlobalPath() string {
	if l.ConfigDir == "" {
		return ""
	}
	return filepath.Join(l.ConfigDir, "ipsafe", "config.json")
}

// SearchPaths lists candidate files from lowest to highest precedence.
func (l *Loader) SearchPaths() []string {
	if l.Path != "" {
		return []string{l.Path}
	}
	var out []string
	if p := l.GlobalPath(); p != "" {
		out = append(out, p)
	}
	if l.HomeDir != "" {
		out = append(out, filepath.Join(l.HomeDir, ".ipsafe.config.json"))
	}
	if l.WorkDir != "" {
		out = append(out, filepath.Join(l.WorkDir, FileName))
	}
	return out
}

// Load resolves the configuration. It never fails: unreadable or invalid
// files are skipped with a warning.
func (l *Loader) Load() Config {
	cfg, _ := l.load()
	return cfg
}

func (l *Loader) load() (Config, []string) {
	cfg := Defaults()
	var active []string
	for _, p := range l.SearchPaths() {
		if _, err := os.Stat(p); err != nil {
			if l.Path != "" {
				l.log().Warn("config_not_found", zap.String("path", p))
			}
			continue
		}
		ov, err := ReadOverlay(p)
		if err != nil {
			l.log().Warn("config_load_failed_using_defaults", zap.String("path", p), zap.Error(err))
			continue
		}
		cfg = cfg.Apply(ov)
		active = append(active, p)
	}
	if cfg.CheckContent && cfg.SearchText == "" {
		l.log().Warn("check_content_without_search_text", zap.Strings("files", active))
	}
	return cfg, active
}

// ReadOverlay parses one JSON config file. Header names may contain dots,
// so viper's key delimiter is moved off ".".
func ReadOverlay(path string) (Overlay, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return Overlay{}, fmt.Errorf("read %s: %w", path, err)
	}
	var ov Overlay
	if err := v.Unmarshal(&ov); err != nil {
		return Overlay{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return ov, nil
}

// SearchPath is one discovery location and whether it exists.
type SearchPath struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
}

// Info describes where configuration comes from.
type Info struct {
	Active      []string     `json:"active"`
	GlobalPath  string       `json:"globalPath"`
	SearchPaths []SearchPath `json:"searchPaths"`
	Config      Config       `json:"config"`
}

func (l *Loader) Info() Info {
	cfg, active := l.load()
	info := Info{Active: active, GlobalPath: l.GlobalPath(), Config: cfg}
	for _, p := range l.SearchPaths() {
		_, err := os.Stat(p)
		info.SearchPaths = append(info.SearchPaths, SearchPath{Path: p, Exists: err == nil})
	}
	return info
}

// InitGlobal writes Defaults() to GlobalPath.
func (l *Loader) InitGlobal(force bool) (string, error) {
	p := l.GlobalPath()
	if p == "" {
		return "", errors.New("cannot determine user config directory")
	}
	if _, err := os.Stat(p); err == nil && !force {
		return p, fmt.Errorf("%w at %s (use --force to overwrite)", ErrExists, p)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return p, err
	}
	data, err := json.MarshalIndent(Defaults(), "", "  ")
	if err != nil {
		return p, err
	}
	if err := os.WriteFile(p, append(data, '\n'), 0o644); err != nil {
		return p, err
	}
	return p, nil
}

func (l *Loader) log() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}
