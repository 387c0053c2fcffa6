package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/onexay/catapult/internal/service"
)

func (c *cli) releaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Inspect and create releases",
	}
	cmd.AddCommand(
		c.releaseCurrentCmd(),
		c.releaseGetCmd(),
		c.releaseListCmd(),
		c.releaseNewCmd(),
		c.releaseFindCmd(),
		c.releaseLogCmd(),
		c.releaseDiffCmd(),
	)
	return cmd
}

func (c *cli) releaseCurrentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "current NAME",
		Short: "Show the latest release of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.ReleaseCurrent(cmd.Context(), args[0])
		},
	}
}

func (c *cli) releaseGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get NAME VERSION",
		Short: "Show one release of a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseVersion(args[1])
			if err != nil {
				return err
			}
			return c.app.ReleaseGet(cmd.Context(), args[0], version)
		},
	}
}

func (c *cli) releaseListCmd() *cobra.Command {
	var last, since int
	cmd := &cobra.Command{
		Use:     "ls NAME",
		Aliases: []string{"list"},
		Short:   "List the releases of a project, newest first",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.ReleaseList(cmd.Context(), args[0], last, since)
		},
	}
	cmd.Flags().IntVar(&last, "last", 0, "show only the last N releases")
	cmd.Flags().IntVar(&since, "since", 0, "show releases from this version on")
	return cmd
}

func (c *cli) releaseNewCmd() *cobra.Command {
	var opts service.NewReleaseOptions
	cmd := &cobra.Command{
		Use:   "new NAME",
		Short: "Create a new release of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Name = args[0]
			_, err := c.app.NewRelease(cmd.Context(), opts)
			return err
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.Commit, "commit", "", "commit to release (default HEAD)")
	flags.IntVar(&opts.Version, "version", 0, "version of the new release (default latest+1)")
	flags.StringVar(&opts.ImageName, "image-name", "", "image name, overriding the configured prefix and project name")
	flags.BoolVar(&opts.NoImage, "no-image", false, "release a project without a container image")
	addWriteFlags(cmd, &opts.Automated, &opts.Dry, &opts.Yes, &opts.Rollback)
	return cmd
}

func (c *cli) releaseFindCmd() *cobra.Command {
	var commit string
	cmd := &cobra.Command{
		Use:   "find NAME",
		Short: "Find the first release containing a commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.ReleaseFind(cmd.Context(), args[0], commit)
		},
	}
	cmd.Flags().StringVar(&commit, "commit", "", "commit to look for (default HEAD)")
	return cmd
}

func (c *cli) releaseLogCmd() *cobra.Command {
	var resolve bool
	cmd := &cobra.Command{
		Use:   "log NAME RANGE",
		Short: "Show the changelog of a git range; vN stands for the commit of release N",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.ReleaseLog(cmd.Context(), args[0], args[1], resolve)
		},
	}
	cmd.Flags().BoolVar(&resolve, "resolve", false, "print the resolved git range instead of the changelog")
	return cmd
}

func (c *cli) releaseDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff NAME VERSION1 VERSION2",
		Short: "Compare two releases of a project",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseVersion(args[1])
			if err != nil {
				return err
			}
			to, err := parseVersion(args[2])
			if err != nil {
				return err
			}
			return c.app.ReleaseDiff(cmd.Context(), args[0], from, to)
		},
	}
}

// addWriteFlags registers the flags shared by commands that append records.
func addWriteFlags(cmd *cobra.Command, automated, dry, yes, rollback *bool) {
	flags := cmd.Flags()
	flags.BoolVar(automated, "automated", false, "record the write as made by automation")
	flags.BoolVar(dry, "dry", false, "show the record without writing it")
	flags.BoolVarP(yes, "yes", "y", false, "do not ask for confirmation")
	flags.BoolVar(rollback, "rollback", false, "allow writing a rollback")
}

// parseVersion accepts a release version written N or vN.
func parseVersion(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimPrefix(s, "v"))
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid release version %q", s)
	}
	return v, nil
}
