// Package config loads slipgen run settings from YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wudi/slipkit/order"
	"github.com/wudi/slipkit/writer"
)

const (
	DefaultOutputDir  = "output"
	DefaultMergedName = "merged.pdf"
	DefaultFontPath   = "fonts/GenShinGothic-Monospace-Medium.ttf"
)

// Config is the complete set of run settings. Zero values are filled by
// Defaults when a file omits a key.
type Config struct {
	OutputDir       string   `yaml:"output_dir"`
	MergedName      string   `yaml:"merged_name"`
	FontPath        string   `yaml:"font_path"`
	InputEncoding   string   `yaml:"input_encoding"`
	RowPolicy       string   `yaml:"row_policy"`
	Workers         int      `yaml:"workers"`
	Compression     *int     `yaml:"compression,omitempty"`
	SubsetFonts     *bool    `yaml:"subset_fonts,omitempty"`
	MandatoryFields []string `yaml:"mandatory_fields,omitempty"`
	MaxItemGroups   int      `yaml:"max_item_groups"`
	LogLevel        string   `yaml:"log_level"`
	LogFormat       string   `yaml:"log_format"`
	// IntroLines overrides the greeting printed under the title. Only the
	// second line is configurable; the first is fixed.
	IntroLines []string `yaml:"intro_lines,omitempty"`
}

func Defaults() Config {
	compression := 6
	subset := true
	return Config{
		OutputDir:     DefaultOutputDir,
		MergedName:    DefaultMergedName,
		FontPath:      DefaultFontPath,
		InputEncoding: "utf-8",
		RowPolicy:     "strict",
		Workers:       1,
		Compression:   &compression,
		SubsetFonts:   &subset,
		MaxItemGroups: order.DefaultMaxGroups,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// Load reads path over Defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over Defaults and validates the result.
func Parse(data []byte) (Config, error) {
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	cfg := Defaults()
	cfg.Merge(parsed)
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Merge copies every key set in o over c.
func (c *Config) Merge(o Config) {
	if o.OutputDir != "" {
		c.OutputDir = o.OutputDir
	}
	if o.MergedName != "" {
		c.MergedName = o.MergedName
	}
	if o.FontPath != "" {
		c.FontPath = o.FontPath
	}
	if o.InputEncoding != "" {
		c.InputEncoding = o.InputEncoding
	}
	if o.RowPolicy != "" {
		c.RowPolicy = o.RowPolicy
	}
	if o.Workers != 0 {
		c.Workers = o.Workers
	}
	if o.Compression != nil {
		v := *o.Compression
		c.Compression = &v
	}
	if o.SubsetFonts != nil {
		v := *o.SubsetFonts
		c.SubsetFonts = &v
	}
	if o.MandatoryFields != nil {
		c.MandatoryFields = append([]string(nil), o.MandatoryFields...)
	}
	if o.MaxItemGroups != 0 {
		c.MaxItemGroups = o.MaxItemGroups
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.LogFormat != "" {
		c.LogFormat = o.LogFormat
	}
	if o.IntroLines != nil {
		c.IntroLines = append([]string(nil), o.IntroLines...)
	}
}

func (c *Config) normalize() {
	c.OutputDir = strings.TrimSpace(c.OutputDir)
	c.MergedName = strings.TrimSpace(c.MergedName)
	c.RowPolicy = strings.ToLower(strings.TrimSpace(c.RowPolicy))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	for i, f := range c.MandatoryFields {
		c.MandatoryFields[i] = strings.TrimSpace(f)
	}
}

func (c *Config) Validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if c.MergedName == "" || strings.ContainsAny(c.MergedName, `/\`) {
		return fmt.Errorf("merged_name must be a plain file name, got %q", c.MergedName)
	}
	if strings.HasPrefix(c.MergedName, "output_") {
		return fmt.Errorf("merged_name %q collides with per-row artifact names", c.MergedName)
	}
	if c.FontPath == "" {
		return fmt.Errorf("font_path is required")
	}
	switch c.RowPolicy {
	case "", "strict", "skip", "lenient":
	default:
		return fmt.Errorf("row_policy must be strict or skip, got %q", c.RowPolicy)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.Compression != nil && (*c.Compression < 0 || *c.Compression > 9) {
		return fmt.Errorf("compression must be between 0 and 9, got %d", *c.Compression)
	}
	if c.MaxItemGroups < 1 {
		return fmt.Errorf("max_item_groups must be >= 1, got %d", c.MaxItemGroups)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if len(c.IntroLines) > 1 {
		return fmt.Errorf("intro_lines accepts at most one line, got %d", len(c.IntroLines))
	}
	for i, f := range c.MandatoryFields {
		if f == "" {
			return fmt.Errorf("mandatory_fields[%d] is empty", i)
		}
	}
	return nil
}

// IntroLine returns the configured second greeting line, or "" for the
// built-in default.
func (c Config) IntroLine() string {
	if len(c.IntroLines) == 0 {
		return ""
	}
	return c.IntroLines[0]
}

// WriterConfig maps serialization settings onto the PDF writer.
func (c Config) WriterConfig() writer.Config {
	cfg := writer.Config{Version: writer.PDF17, Compression: 6, SubsetFonts: true, Deterministic: true}
	if c.Compression != nil {
		cfg.Compression = *c.Compression
	}
	if c.SubsetFonts != nil {
		cfg.SubsetFonts = *c.SubsetFonts
	}
	return cfg
}
