// Package observability provides formatted output utilities for the run
// inspection CLI.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/applier/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintRun outputs a human-readable summary of a run record.
func (p *Printer) PrintRun(run *types.Run) {
	if run == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Run:      %s\n", run.ID))
	sb.WriteString(fmt.Sprintf("Job:      %s\n", run.JobRef))
	sb.WriteString(fmt.Sprintf("State:    %s\n", run.State))
	if run.Terminal {
		sb.WriteString("Terminal: yes\n")
	}
	if run.CancelRequested {
		sb.WriteString("Cancel:   requested\n")
	}
	if run.WakeAt != nil {
		sb.WriteString(fmt.Sprintf("Wake at:  %s\n", run.WakeAt.Format("2006-01-02 15:04:05")))
	}
	sb.WriteString(fmt.Sprintf("Updated:  %s", run.UpdatedAt.Format("2006-01-02 15:04:05")))

	p.printBox("APPLICATION RUN", sb.String())
}

// PrintSnapshot outputs the run context accumulated so far: the candidate,
// generated documents, form progress, and submission record.
func (p *Printer) PrintSnapshot(snap *types.Snapshot) {
	if snap == nil {
		return
	}

	var sb strings.Builder

	if c := snap.Candidate; c != nil {
		sb.WriteString(fmt.Sprintf("Company:  %s\n", c.Company))
		sb.WriteString(fmt.Sprintf("Role:     %s\n", c.Title))
		if c.Location != "" {
			sb.WriteString(fmt.Sprintf("Location: %s\n", c.Location))
		}
		if c.Scored {
			sb.WriteString(fmt.Sprintf("Score:    %.1f\n", c.MatchScore))
		}
	}

	if d := snap.Documents; d != nil {
		sb.WriteString("\nDocuments:\n")
		if d.ResumePath != "" {
			sb.WriteString(fmt.Sprintf("  • resume: %s\n", d.ResumePath))
		}
		if d.CoverLetterPath != "" {
			sb.WriteString(fmt.Sprintf("  • cover letter: %s\n", d.CoverLetterPath))
		}
	}

	if f := snap.FormFill; f != nil {
		sb.WriteString("\nForm:\n")
		sb.WriteString(fmt.Sprintf("  • fields completed: %d\n", f.FieldsCompleted))
		if f.ScreenshotPath != "" {
			sb.WriteString(fmt.Sprintf("  • screenshot: %s\n", f.ScreenshotPath))
		}
		if f.ChallengeArtifact != "" {
			sb.WriteString(fmt.Sprintf("  • challenge pending (attempt %d)\n", f.ChallengeAttempts))
		}
	}

	if s := snap.Submission; s != nil && s.Submitted {
		sb.WriteString("\nSubmission:\n")
		sb.WriteString(fmt.Sprintf("  • confirmation: %s\n", s.Confirmation))
		if s.SubmittedAt != nil {
			sb.WriteString(fmt.Sprintf("  • at: %s\n", s.SubmittedAt.Format("2006-01-02 15:04:05")))
		}
	}

	if snap.TrackingStatus != "" {
		sb.WriteString(fmt.Sprintf("\nStatus:   %s\n", snap.TrackingStatus))
	}
	if snap.LastError != "" {
		err := snap.LastError
		if len(err) > 50 {
			err = err[:47] + "..."
		}
		sb.WriteString(fmt.Sprintf("\nLast error: %s\n", err))
	}

	p.printBox("RUN CONTEXT", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintHistory outputs the most recent transitions in the run's append-only
// history, newest last.
func (p *Printer) PrintHistory(history []types.Transition) {
	if len(history) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Total transitions: %d\n\n", len(history)))

	start := 0
	if len(history) > maxItemsToShow {
		start = len(history) - maxItemsToShow
		sb.WriteString(fmt.Sprintf("... %d earlier transitions\n", start))
	}
	for _, tr := range history[start:] {
		sb.WriteString(fmt.Sprintf("#%-3d %-20s %s\n",
			tr.Seq, tr.State, tr.CreatedAt.Format("15:04:05")))
	}

	p.printBox("TRANSITION HISTORY", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintCheckpoint outputs a pending or settled approval checkpoint.
func (p *Printer) PrintCheckpoint(cp *types.Checkpoint) {
	if cp == nil {
		return
	}

	var sb strings.Builder
	if cp.Open() {
		sb.WriteString("Decision: PENDING\n")
		if cp.Deadline != nil {
			sb.WriteString(fmt.Sprintf("Deadline: %s\n", cp.Deadline.Format("2006-01-02 15:04:05")))
		}
	} else {
		sb.WriteString(fmt.Sprintf("Decision: %s\n", strings.ToUpper(string(cp.Resolution))))
		if cp.ResolvedAt != nil {
			sb.WriteString(fmt.Sprintf("Resolved: %s\n", cp.ResolvedAt.Format("2006-01-02 15:04:05")))
		}
	}
	sb.WriteString(fmt.Sprintf("Opened:   %s", cp.OpenedAt.Format("2006-01-02 15:04:05")))

	p.printBox("APPROVAL CHECKPOINT", sb.String())
}
