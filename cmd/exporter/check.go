package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/kjstillabower/weather-exporter/internal/client"
	"github.com/kjstillabower/weather-exporter/internal/config"
)

var (
	okColor   = color.New(color.FgGreen).SprintfFunc()
	warnColor = color.New(color.FgYellow).SprintfFunc()
)

// writeCheck prints the effective configuration as a table followed by any
// warnings. It is the --check output; nothing is started.
func writeCheck(w io.Writer, cfg *config.Config) error {
	table := tablewriter.NewTable(w)
	table.Header([]string{"Setting", "Value"})

	for _, r := range checkRows(cfg) {
		if err := table.Append(r); err != nil {
			return fmt.Errorf("an error occurred while appending to the table: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("an error occurred while rendering the table: %w", err)
	}

	for _, msg := range cfg.Warnings {
		fmt.Fprintln(w, warnColor("warning: %s", msg))
	}
	fmt.Fprintln(w, okColor("configuration OK (%d locations)", len(cfg.Locations)))
	return nil
}

func checkRows(cfg *config.Config) [][]string {
	searchURL := cfg.SearchURL
	if searchURL == "" {
		searchURL = client.DefaultSearchURL
	}
	forecastURL := cfg.ForecastURL
	if forecastURL == "" {
		forecastURL = client.DefaultForecastURL
	}

	rows := [][]string{
		{"user agent", cfg.UserAgent},
		{"locations", strings.Join(cfg.Locations, "; ")},
		{"port", strconv.Itoa(cfg.ServerPort)},
		{"log level", cfg.LogLevel},
		{"poll interval", cfg.PollInterval.String()},
		{"min interval", cfg.MinInterval.String()},
		{"backoff", fmt.Sprintf("%s .. %s (jitter %.0f%%)", cfg.BackoffBase, cfg.BackoffMax, cfg.Jitter*100)},
		{"search url", searchURL},
		{"forecast url", forecastURL},
		{"upstream timeout", cfg.UpstreamTimeout.String()},
		{"upstream rate", fmt.Sprintf("%g req/s, burst %d", cfg.RateLimitRPS, cfg.RateLimitBurst)},
		{"cache backend", cfg.CacheBackend},
	}
	switch cfg.CacheBackend {
	case "memcached":
		rows = append(rows, []string{"memcached addrs", cfg.MemcachedAddrs})
	case "sqlite":
		rows = append(rows, []string{"sqlite path", cfg.SQLitePath})
	}
	rows = append(rows, []string{"shutdown timeout", cfg.ShutdownTimeout.String()})
	return rows
}
