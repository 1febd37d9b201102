package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Color variables for consistent styling across commands.
var (
	colorSuccess = color.New(color.FgGreen)
	colorError   = color.New(color.FgRed)
	colorMuted   = color.New(color.Faint)
)

// newStyledTable creates a pre-configured go-pretty table with StyleLight
// base, upper-cased left-aligned headers, and no row separators.
func newStyledTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)

	style := table.StyleLight
	style.Options.SeparateRows = false
	style.Options.DrawBorder = false
	style.Options.SeparateColumns = true
	style.Format.Header = text.FormatUpper
	style.Format.HeaderAlign = text.AlignLeft
	t.SetStyle(style)

	return t
}

func renderTable(t table.Writer) {
	t.Render()
}
