// Package config loads the build configuration document into immutable
// project records.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/skroutz/forge/pkg/types"
)

// DefaultFile is the configuration document looked up when none is given.
const DefaultFile = "buildConfig.json"

// Defaults applied to projects that leave the fields empty.
const (
	DefaultPlatform = "winArm"
	DefaultCompiler = "gcc"
	DefaultType     = "debug"
)

// Project is the build record of a single project.
type Project struct {
	Name     string   `json:"name" yaml:"name"`
	Platform string   `json:"platform" yaml:"platform"`
	Compiler string   `json:"compiler" yaml:"compiler"`
	Type     string   `json:"type" yaml:"type"`
	CFlags   []string `json:"cflags" yaml:"cflags"`
	LFlags   []string `json:"lflags" yaml:"lflags"`

	UserBuildCmd BuildCmd `json:"userBuildCmd" yaml:"userBuildCmd"`

	Dockerfile     string   `json:"dockerfile" yaml:"dockerfile"`
	DockerImage    string   `json:"dockerImage" yaml:"dockerImage"`
	Context        string   `json:"context" yaml:"context"`
	DockerBuildCmd BuildCmd `json:"dockerBuildCmd" yaml:"dockerBuildCmd"`
	ResultDir      string   `json:"resultDir" yaml:"resultDir"`
}

// Config is the parsed configuration document.
type Config struct {
	Version  int       `json:"version" yaml:"version"`
	Projects []Project `json:"config" yaml:"config"`
}

// Names returns the project names, in configuration order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Projects))
	for _, p := range c.Projects {
		names = append(names, p.Name)
	}
	return names
}

// Project returns the project named name.
func (c *Config) Project(name string) (Project, bool) {
	for _, p := range c.Projects {
		if p.Name == name {
			return p, true
		}
	}
	return Project{}, false
}

// Load reads the configuration document at path. Files ending in .yaml
// or .yml are parsed as YAML, everything else as JSON. Any error is of
// type types.ErrConfig.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.ErrConfig{Path: path, Err: err}
	}
	defer f.Close()

	cfg, err := ParseConfig(f, formatOf(path))
	if err != nil {
		var cerr types.ErrConfig
		if errors.As(err, &cerr) {
			cerr.Path = path
			return nil, cerr
		}
		return nil, types.ErrConfig{Path: path, Err: err}
	}
	return cfg, nil
}

// ParseConfig parses a configuration document of the given format
// ("json" or "yaml") from r, applies defaults and validates it.
func ParseConfig(r io.Reader, format string) (*Config, error) {
	cfg := new(Config)

	var err error
	switch format {
	case "json":
		err = json.NewDecoder(r).Decode(cfg)
	case "yaml":
		err = yaml.NewDecoder(r).Decode(cfg)
		if err == io.EOF {
			err = nil
		}
	default:
		err = fmt.Errorf("unknown configuration format '%s'", format)
	}
	if err != nil {
		return nil, types.ErrConfig{Err: err}
	}

	projects := make([]Project, 0, len(cfg.Projects))
	seen := make(map[string]bool)
	for _, p := range cfg.Projects {
		// entries without a usable name are ignored
		if strings.TrimSpace(p.Name) == "" {
			continue
		}
		if seen[p.Name] {
			return nil, types.ErrConfig{Err: fmt.Errorf("duplicate project '%s'", p.Name)}
		}
		seen[p.Name] = true
		projects = append(projects, p.withDefaults())
	}
	cfg.Projects = projects

	return cfg, nil
}

func (p Project) withDefaults() Project {
	if p.Platform == "" {
		p.Platform = DefaultPlatform
	}
	if p.Compiler == "" {
		p.Compiler = DefaultCompiler
	}
	if p.Type == "" {
		p.Type = DefaultType
	}
	return p
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	}
	return "json"
}
