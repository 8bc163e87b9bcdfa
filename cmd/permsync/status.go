// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PermSync Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/permsync/permsync/internal/config"
)

// probeTimeout bounds each health probe request.
const probeTimeout = 2 * time.Second

// ProbeStatus holds the result of one health probe.
type ProbeStatus struct {
	Probe  string `json:"probe"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	addr       string
	jsonOutput bool
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show health of a running permsync daemon",
		Long:  `Probes the daemon's liveness and readiness endpoints over HTTP.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.addr, "addr", config.Default().Observability.Addr, "daemon observability address")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	client := &http.Client{Timeout: probeTimeout}

	statuses := []ProbeStatus{
		probe(client, cfg.addr, "liveness"),
		probe(client, cfg.addr, "readiness"),
	}

	if cfg.jsonOutput {
		data, err := json.MarshalIndent(statuses, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Println(formatStatusTable(statuses))
	return nil
}

// probe issues one GET against a health endpoint and classifies the result.
func probe(client *http.Client, addr, name string) ProbeStatus {
	status := ProbeStatus{Probe: name}

	resp, err := client.Get(fmt.Sprintf("http://%s/healthz/%s", addr, name))
	if err != nil {
		status.Status = "unreachable"
		status.Error = err.Error()
		return status
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		status.Status = "unreachable"
		status.Error = err.Error()
		return status
	}

	switch resp.StatusCode {
	case http.StatusOK:
		status.Status = "ok"
	case http.StatusServiceUnavailable:
		status.Status = strings.TrimSpace(string(body))
	default:
		status.Status = "error"
		status.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return status
}

// formatStatusTable formats probe results as a human-readable table.
func formatStatusTable(statuses []ProbeStatus) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "PROBE\tSTATUS\tDETAIL")
	_, _ = fmt.Fprintln(w, "-----\t------\t------")
	for _, s := range statuses {
		detail := "-"
		if s.Error != "" {
			detail = s.Error
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", s.Probe, s.Status, detail)
	}

	_ = w.Flush()
	return strings.TrimRight(buf.String(), "\n")
}
