package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/repoready/internal/fallback"
)

type LinksCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	repoURL string
	format  string
}

// NewLinksCommand returns the links command.
func NewLinksCommand(rootCmd *RootCommand, app *kingpin.Application) *LinksCommand {
	c := &LinksCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("links", "Show the cloud environments where a repository can be opened.")
	c.Cmd.Arg("url", "Repository URL.").Required().StringVar(&c.repoURL)
	registerFormatFlag(c.Cmd, &c.format)

	return c
}

func (c LinksCommand) Name() string { return c.Cmd.FullCommand() }
func (c LinksCommand) OutputOnly() bool { return true }

func (c LinksCommand) Run(ctx context.Context) error {
	p := newPrinter(c.format, c.rootCmd.Stdout)
	if err := p.PrintLinks(fallback.LinksFromURL(c.repoURL)); err != nil {
		return fmt.Errorf("could not print links: %w", err)
	}

	return nil
}
