// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the ipcscope CLI.
//
// Styled output is for humans; every helper has a plain rendering for
// pipes and scripts. The package decides once at startup based on
// whether stdout is a terminal, and SetPlain overrides that decision.
package ux

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text, borders

	// Semantic colors
	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Box       lipgloss.Style
	ErrorBox  lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	if plain {
		return string(i)
	}
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// plain disables styling. Decided once at init from the terminal state
// of stdout; SetPlain overrides for --plain flags and tests.
var plain = !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd())

// SetPlain forces plain output on or off.
func SetPlain(v bool) {
	plain = v
}

// Plain reports whether styling is disabled.
func Plain() bool {
	return plain
}

// Title prints a styled title line.
func Title(text string) {
	if plain {
		fmt.Println(text)
		return
	}
	fmt.Println(Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func Success(text string) {
	if plain {
		fmt.Fprintf(os.Stdout, "OK: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
}

// Warning prints a warning message
func Warning(text string) {
	if plain {
		fmt.Fprintf(os.Stderr, "WARN: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Error prints an error message
func Error(text string) {
	if plain {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", IconError.Render(), Styles.Error.Render(text))
}

// Muted prints muted/secondary text
func Muted(text string) {
	if plain {
		fmt.Println(text)
		return
	}
	fmt.Println(Styles.Muted.Render(text))
}

// Box prints text in a rounded box
func Box(title, content string) {
	if plain {
		fmt.Printf("%s: %s\n", title, content)
		return
	}
	boxStyle := Styles.Box.Width(60)
	titleLine := Styles.Title.Render(title)
	fmt.Println(boxStyle.Render(titleLine + "\n" + content))
}

// Cycle renders one deadlock cycle as a closed wait chain. The first
// process is repeated at the end so the loop reads back on itself:
//
//	worker-1 → worker-2 → worker-1
func Cycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	arrow := " -> "
	if !plain {
		arrow = " " + string(IconArrow) + " "
	}
	parts := make([]string, 0, len(cycle)+1)
	for _, p := range cycle {
		if plain {
			parts = append(parts, p)
		} else {
			parts = append(parts, Styles.Highlight.Render(p))
		}
	}
	if plain {
		parts = append(parts, cycle[0])
	} else {
		parts = append(parts, Styles.Highlight.Render(cycle[0]))
	}
	return strings.Join(parts, arrow)
}

// CycleList prints detected cycles one per line, numbered from 1.
// Prints a success line when there are none.
func CycleList(cycles [][]string) {
	if len(cycles) == 0 {
		Success("no deadlock detected")
		return
	}
	for i, c := range cycles {
		if plain {
			fmt.Printf("DEADLOCK %d: %s\n", i+1, Cycle(c))
			continue
		}
		fmt.Printf("%s %s %s\n",
			IconError.Render(),
			Styles.Bold.Render(fmt.Sprintf("deadlock %d:", i+1)),
			Cycle(c))
	}
}

// StepLine prints one scenario step outcome.
func StepLine(index int, description string, ok bool, detail string) {
	icon := IconSuccess
	if !ok {
		icon = IconError
	}
	if plain {
		status := "ok"
		if !ok {
			status = "failed"
		}
		if detail != "" {
			fmt.Printf("step %d: %s (%s) %s\n", index, status, description, detail)
		} else {
			fmt.Printf("step %d: %s (%s)\n", index, status, description)
		}
		return
	}
	line := fmt.Sprintf("%s %s %s", icon.Render(),
		Styles.Muted.Render(fmt.Sprintf("step %d", index)), description)
	if detail != "" {
		line += " " + Styles.Muted.Render("("+detail+")")
	}
	fmt.Println(line)
}

// Summary prints an applied/failed/cycles tally for a scenario run.
func Summary(succeeded, failed, cycles int) {
	if plain {
		fmt.Printf("SUMMARY: succeeded=%d failed=%d cycles=%d\n", succeeded, failed, cycles)
		return
	}
	cycleStyle := Styles.Success
	if cycles > 0 {
		cycleStyle = Styles.Error
	}
	fmt.Printf("\n%s %s  %s %s  %s %s\n",
		Styles.Success.Render(fmt.Sprintf("%d", succeeded)), Styles.Muted.Render("succeeded"),
		Styles.Warning.Render(fmt.Sprintf("%d", failed)), Styles.Muted.Render("failed"),
		cycleStyle.Render(fmt.Sprintf("%d", cycles)), Styles.Muted.Render("cycles"),
	)
}
