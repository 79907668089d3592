// Package cli is the dayplan command line: inspection, repair and the
// approval surface for proposed mutations.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/alexanderramin/dayplan/internal/app"
	"github.com/alexanderramin/dayplan/internal/cli/formatter"
	"github.com/alexanderramin/dayplan/internal/config"
	"github.com/alexanderramin/dayplan/internal/diagnostic"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// annotationSkipLoad marks commands that run the startup sequence
// themselves.
const annotationSkipLoad = "dayplan/skip-load"

// App carries what commands share. The persistence context is opened by
// the first command that needs it and released by Close.
type App struct {
	Config config.Config
	// LogOutput receives structured logs. Defaults to stderr.
	LogOutput io.Writer
	// IsInteractive reports whether a user can answer prompts.
	IsInteractive func() bool
	// Confirm asks a yes/no question. Defaults to a huh confirm form.
	Confirm func(title, description string) (bool, error)

	persistence *app.PersistenceContext
}

// NewRootCmd creates the top-level "dayplan" command. Persistent flags
// write into a.Config, so they override whatever Load produced.
func NewRootCmd(a *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "dayplan",
		Short:         "Local persistence for the dayplan workspace",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	a.Config.BindFlags(root.PersistentFlags())

	root.AddCommand(
		newDiagnoseCmd(a),
		newGetCmd(a),
		newSaveCmd(a),
		newDeleteCmd(a),
		newResetCmd(a),
		newFlushCmd(a),
		newStatusCmd(a),
		newSubmitCmd(a),
		newRunCmd(a),
	)
	return root
}

// open returns the persistence context, opening it on first use. Unless
// the command opts out, the startup sequence runs once on open.
func (a *App) open(cmd *cobra.Command) (*app.PersistenceContext, error) {
	if a.persistence != nil {
		return a.persistence, nil
	}
	out := a.LogOutput
	if out == nil {
		out = os.Stderr
	}
	opts := app.Options{Logger: a.Config.NewLogger(out)}
	if a.interactive() {
		opts.Confirm = a.confirmRestore
	}
	p, err := app.Open(a.Config, opts)
	if err != nil {
		return nil, err
	}
	a.persistence = p
	if cmd.Annotations[annotationSkipLoad] == "" {
		p.Load(cmd.Context())
	}
	return p, nil
}

// Close flushes and releases the persistence context, if one was opened.
func (a *App) Close(ctx context.Context) error {
	if a.persistence == nil {
		return nil
	}
	err := a.persistence.Close(ctx)
	a.persistence = nil
	return err
}

func (a *App) interactive() bool {
	return a.IsInteractive != nil && a.IsInteractive()
}

func (a *App) confirm(title, description string) (bool, error) {
	if a.Confirm != nil {
		return a.Confirm(title, description)
	}
	var ok bool
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Affirmative("Yes").
				Negative("No").
				Value(&ok),
		),
	).WithTheme(dayplanHuhTheme()).WithShowHelp(false).Run()
	return ok, err
}

func (a *App) confirmRestore(_ context.Context, c diagnostic.RestoreCandidate) bool {
	desc := fmt.Sprintf("The stored planner has %d block(s); the backup has %d.", c.PrimaryBlocks, c.BackupBlocks)
	if c.PrimaryMissing {
		desc = fmt.Sprintf("The stored planner is missing or unreadable; the backup has %d block(s).", c.BackupBlocks)
	}
	ok, err := a.confirm("Restore plannerData from backup?", desc)
	return err == nil && ok
}

func dayplanHuhTheme() *huh.Theme {
	t := huh.ThemeBase()
	t.Focused.Title = lipgloss.NewStyle().Foreground(formatter.ColorHeader).Bold(true)
	t.Focused.Description = lipgloss.NewStyle().Foreground(formatter.ColorDim)
	t.Focused.FocusedButton = lipgloss.NewStyle().Foreground(formatter.ColorFg).Background(formatter.ColorHeader).Padding(0, 1)
	t.Focused.BlurredButton = lipgloss.NewStyle().Foreground(formatter.ColorDim).Padding(0, 1)
	t.Blurred.Title = lipgloss.NewStyle().Foreground(formatter.ColorDim)
	return t
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
