package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/npassword/npassword/pkg/audit"
	"github.com/npassword/npassword/pkg/engine"
)

// newAuditCmd is the parent command for audit operations
func newAuditCmd(a *app) *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit log operations",
	}
	auditCmd.AddCommand(newAuditListCmd(a), newAuditVerifyCmd(a))
	return auditCmd
}

func (a *app) openAudit() (*audit.Logger, error) {
	return audit.Open(filepath.Join(a.cfg.DataDir, engine.AuditDirName))
}

// newAuditListCmd lists audit log entries
func newAuditListCmd(a *app) *cobra.Command {
	var (
		limit int
		since string
		user  string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := a.openAudit()
			if err != nil {
				return err
			}

			var sinceTime time.Time
			if since != "" {
				duration, err := parseDuration(since)
				if err != nil {
					return fmt.Errorf("invalid since format: %w", err)
				}
				sinceTime = time.Now().Add(-duration)
			}

			var subject string
			if user != "" {
				if subject, err = logger.SubjectHMAC(user); err != nil {
					return err
				}
			}

			events, err := logger.ListEvents(0, sinceTime)
			if err != nil {
				return fmt.Errorf("failed to list audit events: %w", err)
			}
			if subject != "" {
				filtered := events[:0]
				for _, event := range events {
					if event.Subject == subject {
						filtered = append(filtered, event)
					}
				}
				events = filtered
			}
			if limit > 0 && len(events) > limit {
				events = events[len(events)-limit:]
			}

			out := cmd.OutOrStdout()
			if len(events) == 0 {
				fmt.Fprintln(out, "No audit events found")
				return nil
			}

			for _, event := range events {
				// Format: TIMESTAMP OPERATION RESULT [SUBJECT] [ERROR]
				line := fmt.Sprintf("%s %s %s", event.Timestamp, event.Operation, event.Result)
				if event.Subject != "" {
					subjectDisplay := event.Subject
					if len(subjectDisplay) > 16 {
						subjectDisplay = subjectDisplay[:16] + "..."
					}
					line += " subject:" + subjectDisplay
				}
				if event.Error != nil {
					line += " error:" + event.Error.Code
				}
				fmt.Fprintln(out, line)
			}

			fmt.Fprintf(out, "\nTotal: %d events\n", len(events))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of events to show")
	cmd.Flags().StringVar(&since, "since", "", "Show events since duration (e.g., 24h, 7d)")
	cmd.Flags().StringVar(&user, "user", "", "Show only events for this username")
	return cmd
}

// newAuditVerifyCmd verifies audit log integrity
func newAuditVerifyCmd(a *app) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify audit log HMAC chain integrity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := a.openAudit()
			if err != nil {
				return err
			}

			result, err := logger.Verify()
			if err != nil {
				return fmt.Errorf("failed to verify audit log: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				data, err := json.Marshal(result)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
			} else if result.Valid {
				fmt.Fprintf(out, "Audit log verified: %d records, chain intact\n", result.RecordsTotal)
			} else {
				fmt.Fprintln(out, "Audit log verification FAILED")
				fmt.Fprintf(out, "  Log directory: %s\n", logger.Path())
				fmt.Fprintf(out, "  Records total: %d\n", result.RecordsTotal)
				fmt.Fprintf(out, "  Records verified: %d\n", result.RecordsVerified)
				fmt.Fprintln(out, "  Errors:")
				for _, e := range result.Errors {
					fmt.Fprintf(out, "    - %s\n", e)
				}
			}

			if !result.Valid {
				return errors.New("audit log integrity check failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")
	return cmd
}

// parseDuration parses a duration string like "30d", "1y", "24h"
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %s", s)
	}

	unit := s[len(s)-1]
	valueStr := s[:len(s)-1]

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value: %s", valueStr)
	}
	if value < 0 {
		return 0, fmt.Errorf("negative duration: %s", s)
	}

	switch unit {
	case 'h':
		return time.Duration(value) * time.Hour, nil
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(value) * 30 * 24 * time.Hour, nil
	case 'y':
		return time.Duration(value) * 365 * 24 * time.Hour, nil
	default:
		return time.ParseDuration(s)
	}
}
