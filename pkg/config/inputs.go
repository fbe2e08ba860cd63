package config

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gobwas/glob"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"dev/bravebird/form-submitter/pkg/models"
)

// LoadPayloadFile reads title, abstract and pdf_path from a JSON or YAML file
func LoadPayloadFile(path string) (PayloadConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return PayloadConfig{}, fmt.Errorf("failed to read payload file %s: %w", path, err)
	}

	var p PayloadConfig
	if err := v.Unmarshal(&p); err != nil {
		return PayloadConfig{}, fmt.Errorf("failed to parse payload file %s: %w", path, err)
	}
	if p.Title == "" || p.PDFPath == "" {
		return PayloadConfig{}, fmt.Errorf("payload file %s must set title and pdf_path", path)
	}
	expanded, err := homedir.Expand(p.PDFPath)
	if err != nil {
		return PayloadConfig{}, err
	}
	p.PDFPath = expanded
	return p, nil
}

// ReadTargetsCSV returns the non-blank values of column, in file order
func ReadTargetsCSV(r io.Reader, column string) ([]string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("targets file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read targets header: %w", err)
	}

	idx := -1
	for i, name := range header {
		if strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) == column {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("targets file must contain a %q column", column)
	}

	var urls []string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read targets: %w", err)
		}
		if idx >= len(row) {
			continue
		}
		if u := strings.TrimSpace(row[idx]); u != "" {
			urls = append(urls, u)
		}
	}
	return urls, nil
}

// FilterTargets keeps targets whose URL matches any pattern; no patterns keeps all
func FilterTargets(targets []models.Target, patterns []string) ([]models.Target, error) {
	if len(patterns) == 0 {
		return targets, nil
	}
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid target pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}

	out := make([]models.Target, 0, len(targets))
	for _, t := range targets {
		for _, g := range globs {
			if g.Match(t.URL) {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

// LoadTargets collects inline URLs followed by the CSV file's, applies the Only
// filter and pairs each with the payload. Duplicates keep their first position.
func (c *Config) LoadTargets() ([]models.Target, error) {
	urls := append([]string(nil), c.Targets.URLs...)

	if c.Targets.File != "" {
		f, err := os.Open(c.Targets.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open targets file: %w", err)
		}
		defer f.Close()

		fromFile, err := ReadTargetsCSV(f, c.Targets.Column)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Targets.File, err)
		}
		urls = append(urls, fromFile...)
	}

	targets := models.UniqueTargets(models.NewTargets(urls, c.PayloadValue()))
	return FilterTargets(targets, c.Targets.Only)
}

// GetEnv returns the variable or fallback when it is unset or empty
func GetEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
