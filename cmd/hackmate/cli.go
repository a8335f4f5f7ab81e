// Package main defines the CLI structure using kong.
package main

import (
	"time"

	"github.com/alecthomas/kong"
)

// CLI defines the command-line interface.
type CLI struct {
	Config  string `help:"Config file path (default: ./hackmate.toml)" type:"path"`
	Store   string `help:"Checkpoint backend override (memory, file, sqlite, redis)"`
	NoColor bool   `help:"Disable colored output"`
	Width   int    `help:"Output wrap width" default:"100"`

	Run     RunCmd     `cmd:"" help:"Start a run for an idea"`
	Resume  ResumeCmd  `cmd:"" help:"Continue a paused or interrupted run"`
	Show    ShowCmd    `cmd:"" help:"Print a run's transcript"`
	List    ListCmd    `cmd:"" help:"List stored runs"`
	Delete  DeleteCmd  `cmd:"" help:"Delete a stored run"`
	Prune   PruneCmd   `cmd:"" help:"Delete runs not updated recently"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// RunCmd starts a new run.
type RunCmd struct {
	Idea        []string `arg:"" help:"Project idea"`
	AutoApprove bool     `short:"y" help:"Answer every human checkpoint with \"approved\""`
}

// ResumeCmd continues a run.
type ResumeCmd struct {
	Session     string `arg:"" help:"Session id"`
	Input       string `short:"i" help:"Answer for the human checkpoint"`
	AutoApprove bool   `short:"y" help:"Answer every later human checkpoint with \"approved\""`
}

// ShowCmd prints a transcript.
type ShowCmd struct {
	Session string `arg:"" help:"Session id"`
	Limit   int    `help:"Truncate each turn to this many characters (0 = full)"`
}

// ListCmd lists stored runs.
type ListCmd struct{}

// DeleteCmd removes a stored run.
type DeleteCmd struct {
	Session string `arg:"" help:"Session id"`
}

// PruneCmd removes stale runs.
type PruneCmd struct {
	OlderThan time.Duration `help:"Delete runs not updated within this long (e.g. 72h)" default:"720h"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
