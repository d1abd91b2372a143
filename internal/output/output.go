// Package output renders completed scan runs for people and machines.
// Three formats are supported: a colored table for terminals, JSON for
// tooling, and CSV for spreadsheets.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/huginnscan/huginn/internal/engine"
	"github.com/huginnscan/huginn/internal/errors"
	"github.com/huginnscan/huginn/internal/probe"
)

const timeRounding = time.Millisecond

// Formatter renders one completed run.
type Formatter interface {
	Format(w io.Writer, run *engine.ScanRun) error
}

// New returns the formatter for a format name.
func New(format string) (Formatter, error) {
	switch strings.ToLower(format) {
	case "text", "":
		return &TextFormatter{}, nil
	case "json":
		return &JSONFormatter{}, nil
	case "csv":
		return &CSVFormatter{}, nil
	default:
		return nil, errors.NewConfigFieldError(errors.CodeValidation,
			"unknown output format", "format", format)
	}
}

// TextFormatter renders a human-readable table plus a summary block.
type TextFormatter struct{}

// Format implements Formatter.
func (f *TextFormatter) Format(w io.Writer, run *engine.ScanRun) error {
	bold := color.New(color.Bold).SprintFunc()

	fmt.Fprintf(w, "%s %s\n", bold("Scan"), run.ID)
	fmt.Fprintf(w, "Started:  %s\n", run.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Duration: %s\n\n", run.Summary.Duration.Round(timeRounding))

	table := tablewriter.NewWriter(w)
	table.Header("TARGET", "PROBE", "STATUS", "FINDINGS")
	for _, o := range run.Outcomes {
		if err := table.Append([]string{
			o.Request.Target.String(),
			o.Request.ProbeType,
			colorStatus(o.Status),
			findings(o),
		}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	s := run.Summary
	fmt.Fprintf(w, "\n%s\n", bold("Summary"))
	fmt.Fprintf(w, "  Requests:        %d (%d ok, %d failed, %d timed out, %d unreachable, %d denied, %d canceled, %d not attempted)\n",
		s.TotalRequests, s.Succeeded, s.Failed, s.TimedOut, s.Unreachable, s.PermissionDenied, s.Canceled, s.NotAttempted)
	fmt.Fprintf(w, "  Reachable hosts: %d / %d\n", s.ReachableHosts, len(run.Targets))
	fmt.Fprintf(w, "  Open ports:      %d\n", s.OpenPorts)
	fmt.Fprintf(w, "  Packets sent:    %d\n", s.PacketsSent)
	return nil
}

func colorStatus(status engine.Status) string {
	switch status {
	case engine.StatusSuccess:
		return color.GreenString(string(status))
	case engine.StatusFailure, engine.StatusPermissionDenied:
		return color.RedString(string(status))
	default:
		return color.YellowString(string(status))
	}
}

// findings renders the interesting part of an outcome in one cell:
// open ports first, then host reachability, then the error.
func findings(o engine.Outcome) string {
	if o.Error != "" && o.Result == nil {
		return o.Error
	}
	if o.Result == nil {
		return "-"
	}

	if len(o.Result.Ports) > 0 {
		var open, other []string
		for _, pr := range o.Result.Ports {
			entry := fmt.Sprintf("%d/%s", pr.Port, pr.State)
			if pr.Banner != "" {
				entry += " " + quoteBanner(pr.Banner)
			}
			if pr.State == probe.PortOpen {
				open = append(open, entry)
			} else if pr.State != probe.PortClosed {
				other = append(other, entry)
			}
		}
		parts := append(open, other...)
		if len(parts) == 0 {
			return "all ports closed"
		}
		sort.Strings(parts)
		return strings.Join(parts, ", ")
	}

	if o.Result.Reachable {
		s := "reachable"
		if rtt := o.Result.Details["rtt"]; rtt != "" {
			s += " rtt=" + rtt
		}
		if o.Result.Details["method"] == "tcp_fallback" {
			s += " (tcp fallback)"
		}
		return s
	}
	if o.Result.Details["method"] == "tcp_fallback" {
		return "no answer (tcp fallback, inconclusive)"
	}
	return "no answer"
}

func quoteBanner(banner string) string {
	if len(banner) > 40 {
		banner = banner[:40] + "..."
	}
	return strconv.Quote(banner)
}

// JSONFormatter renders the full run as indented JSON.
type JSONFormatter struct{}

// Format implements Formatter.
func (f *JSONFormatter) Format(w io.Writer, run *engine.ScanRun) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(run)
}

// CSVFormatter renders one row per observation: port-level probes get a
// row per port, host-level probes one row per target.
type CSVFormatter struct{}

var csvHeader = []string{
	"target", "host", "probe_type", "status", "port", "state",
	"latency_ms", "banner", "attempts", "error",
}

// Format implements Formatter.
func (f *CSVFormatter) Format(w io.Writer, run *engine.ScanRun) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for _, o := range run.Outcomes {
		addr := ""
		if o.Request.Target.Addr.IsValid() {
			addr = o.Request.Target.Addr.String()
		}
		base := []string{
			addr,
			o.Request.Target.Host,
			o.Request.ProbeType,
			string(o.Status),
		}
		attempts := strconv.Itoa(o.Attempts)

		if o.Result == nil || len(o.Result.Ports) == 0 {
			state := ""
			if o.Result != nil {
				state = strconv.FormatBool(o.Result.Reachable)
			}
			row := append(append([]string{}, base...),
				"", state, "", "", attempts, o.Error)
			if err := cw.Write(row); err != nil {
				return err
			}
			continue
		}

		for _, pr := range o.Result.Ports {
			latency := ""
			if pr.Latency > 0 {
				latency = strconv.FormatFloat(float64(pr.Latency.Microseconds())/1000, 'f', 3, 64)
			}
			row := append(append([]string{}, base...),
				strconv.Itoa(int(pr.Port)), string(pr.State), latency, pr.Banner, attempts, o.Error)
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}
