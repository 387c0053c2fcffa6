// Package command is the catapult command line: a cobra tree over the
// service use cases.
package command

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/onexay/catapult/internal/logger"
	"github.com/onexay/catapult/internal/service"
)

// Version is reported by the version command.
const Version = "0.1"

// standalone marks commands that run without configuration or AWS access.
const standalone = "standalone"

// opener builds the service wiring for one invocation.
type opener func(ctx context.Context, c *cli) (*service.App, io.Closer, error)

// cli carries the streams, global flags and wiring of one invocation.
type cli struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	logLevel string
	format   string

	log    zerolog.Logger
	open   opener
	app    *service.App
	closer io.Closer
}

// Execute runs the command line with args and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	c := newCLI(os.Stdin, os.Stdout, os.Stderr, wire)
	return c.execute(ctx, args)
}

func newCLI(in io.Reader, out, errOut io.Writer, open opener) *cli {
	return &cli{in: in, out: out, errOut: errOut, open: open}
}

func (c *cli) execute(ctx context.Context, args []string) int {
	root := c.rootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if c.closer != nil {
		if cerr := c.closer.Close(); cerr != nil {
			c.log.Warn().Err(cerr).Msg("cannot release resources")
		}
	}
	return c.exitCode(err)
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "catapult",
		Short:         "Track releases and deploys of container images in versioned buckets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c.log = logger.New(logger.Config{Level: c.logLevel, Output: c.errOut})
			if !needsApp(cmd) {
				return nil
			}
			app, closer, err := c.open(cmd.Context(), c)
			if err != nil {
				return err
			}
			c.app, c.closer = app, closer
			return nil
		},
	}
	root.SetIn(c.in)
	root.SetOut(c.out)
	root.SetErr(c.errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&c.logLevel, "log-level", envDefault("LOGLEVEL", "info"), "log level: debug, info, warn, error")
	flags.StringVar(&c.format, "format", "", "output format: human or json (default: human on a terminal)")

	root.AddCommand(
		c.releaseCmd(),
		c.deployCmd(),
		c.projectsCmd(),
		c.ticketsCmd(),
		c.versionCmd(),
	)
	return root
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the catapult version",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{standalone: "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(Version)
		},
	}
}

// needsApp reports whether cmd runs a use case. Version, help and shell
// completion run without configuration.
func needsApp(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch {
		case c.Annotations[standalone] != "", c.Name() == "help", c.Name() == "completion":
			return false
		}
	}
	return true
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
