package changelog

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	dateLayout  = "2006-01-02 15:04:05"
	authorWidth = 20
)

// Text renders the changelog the way git log does by default.
func (c Changelog) Text() string {
	var lines []string
	for _, commit := range c.Commits {
		lines = append(lines,
			"commit "+commit.ID,
			fmt.Sprintf("Author: %s <%s>", commit.Author.Name, commit.Author.Email),
			"Date:   "+commit.Time.Local().Format(dateLayout),
			"",
		)
		for _, line := range strings.Split(strings.TrimRight(commit.Message, "\n"), "\n") {
			lines = append(lines, "    "+line)
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

// Short renders one line per commit: short id, date, author and subject.
func (c Changelog) Short() string {
	var b strings.Builder
	for _, commit := range c.Commits {
		fmt.Fprintf(&b, "%s %s %s %s\n",
			commit.ShortID,
			commit.Time.Local().Format("2006-01-02"),
			fitWidth(commit.Author.Name, authorWidth),
			commit.Subject(),
		)
	}
	return b.String()
}

// fitWidth truncates or pads s to exactly width runes.
func fitWidth(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n > width {
		return string([]rune(s)[:width])
	}
	return s + strings.Repeat(" ", width-n)
}
