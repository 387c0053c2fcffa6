// Package output renders command results as tables or JSON and prints the
// styled status messages and prompts of the CLI.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/onexay/catapult/internal/report"
	"github.com/onexay/catapult/internal/types"
)

// Format selects how results are written.
type Format string

const (
	FormatHuman Format = "human"
	FormatJSON  Format = "json"
)

// InvalidFormatError reports an unknown format name.
type InvalidFormatError struct {
	Name string
}

func (e *InvalidFormatError) Error() string {
	return fmt.Sprintf("invalid formatter: %q (valid: human, json)", e.Name)
}

const timeLayout = "2006-01-02 15:04:05 MST"

// Printer writes results to out and messages to msgs.
type Printer struct {
	out    io.Writer
	msgs   io.Writer
	in     *bufio.Reader
	format Format
	// UTC prints timestamps in UTC instead of the local zone.
	UTC bool
}

// New returns a Printer. An empty format picks human output on a terminal
// and JSON otherwise.
func New(out, msgs io.Writer, in io.Reader, format string) (*Printer, error) {
	f, err := resolveFormat(format, out)
	if err != nil {
		return nil, err
	}
	return &Printer{
		out:    out,
		msgs:   msgs,
		in:     bufio.NewReader(in),
		format: f,
	}, nil
}

func resolveFormat(name string, out io.Writer) (Format, error) {
	switch Format(name) {
	case FormatHuman, FormatJSON:
		return Format(name), nil
	case "":
		if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			return FormatHuman, nil
		}
		return FormatJSON, nil
	}
	return "", &InvalidFormatError{Name: name}
}

// Format returns the format in use.
func (p *Printer) Format() Format {
	return p.format
}

// Release prints one release.
func (p *Printer) Release(r types.Release) error {
	if p.format == FormatJSON {
		return p.json(r)
	}
	return p.releaseTable(r)
}

// Releases prints releases newest first.
func (p *Printer) Releases(releases []types.Release) error {
	if p.format == FormatJSON {
		if releases == nil {
			releases = []types.Release{}
		}
		return p.json(releases)
	}
	for i, r := range releases {
		if i > 0 {
			fmt.Fprintln(p.out)
		}
		if err := p.releaseTable(r); err != nil {
			return err
		}
	}
	return nil
}

// Text prints s followed by a newline.
func (p *Printer) Text(s string) {
	fmt.Fprintln(p.out, strings.TrimRight(s, "\n"))
}

func (p *Printer) releaseTable(r types.Release) error {
	image := "-"
	if r.Image != nil {
		image = *r.Image
	}
	author := r.AuthorName()
	if author == "" {
		author = "-"
	}

	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "version\t%d\n", r.Version)
	fmt.Fprintf(tw, "commit\t%s\n", r.Commit)
	fmt.Fprintf(tw, "version_id\t%s\n", r.VersionID)
	fmt.Fprintf(tw, "image\t%s\n", image)
	fmt.Fprintf(tw, "timestamp\t%s\n", p.timestamp(r.Timestamp))
	fmt.Fprintf(tw, "author\t%s\n", author)
	fmt.Fprintf(tw, "rollback\t%t\n", r.Rollback)
	fmt.Fprintf(tw, "action_type\t%s\n", r.ActionType)
	if len(r.Commits) > 0 {
		fmt.Fprintf(tw, "commits\t%d\n", len(r.Commits))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if r.Changelog != "" {
		fmt.Fprintln(p.out, "changelog")
		for _, line := range strings.Split(strings.TrimRight(r.Changelog, "\n"), "\n") {
			fmt.Fprintln(p.out, "  "+line)
		}
	}
	return nil
}

// Columns toggles the optional columns of a project listing.
type Columns struct {
	Contains    bool
	Permissions bool
	Author      bool
}

// Rows prints a project listing.
func (p *Printer) Rows(rows []report.Row, cols Columns) error {
	if p.format == FormatJSON {
		if rows == nil {
			rows = []report.Row{}
		}
		return p.json(rows)
	}

	header := []string{"NAME", "TYPE", "ENV", "VERSION", "BEHIND", "AGE", "TIMESTAMP", "COMMIT", "ACTION"}
	if cols.Contains {
		header = append(header, "CONTAINS")
	}
	if cols.Permissions {
		header = append(header, "PERMISSION")
	}
	if cols.Author {
		header = append(header, "AUTHOR")
	}

	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		cells := []string{row.Name, string(row.Type), dash(row.Env)}
		if row.Status == report.StatusOK {
			cells = append(cells,
				"v"+strconv.Itoa(row.Version),
				behind(row),
				formatAge(row.Age),
				p.timestamp(row.Timestamp),
				shortCommit(row.Commit),
				string(row.ActionType),
			)
		} else {
			cells = append(cells, string(row.Status), "", "", "", "", "")
		}
		if cols.Contains {
			cells = append(cells, string(row.Contains))
		}
		if cols.Permissions {
			cells = append(cells, string(row.Permission))
		}
		if cols.Author {
			cells = append(cells, dash(row.Author))
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func (p *Printer) json(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *Printer) timestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	if p.UTC {
		return t.UTC().Format(timeLayout)
	}
	return t.Local().Format(timeLayout)
}

func behind(row report.Row) string {
	if row.Type != report.TypeDeploy {
		return ""
	}
	return strconv.Itoa(row.Behind)
}

// formatAge renders d in its two most significant units, e.g. 3d4h or 12m.
func formatAge(d time.Duration) string {
	if d < time.Minute {
		return "now"
	}
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	minutes := int(d % time.Hour / time.Minute)
	switch {
	case days > 0:
		return fmt.Sprintf("%dd%dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh%dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

func shortCommit(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
