package command

import (
	"github.com/spf13/cobra"

	"github.com/onexay/catapult/internal/service"
)

func (c *cli) deployCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Inspect and record deploys",
	}
	cmd.AddCommand(c.deployStartCmd(), c.deployCurrentCmd())
	return cmd
}

func (c *cli) deployStartCmd() *cobra.Command {
	var opts service.DeployOptions
	cmd := &cobra.Command{
		Use:   "start NAME ENV",
		Short: "Record the deploy of a release to an environment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Name, opts.Env = args[0], args[1]
			_, err := c.app.DeployStart(cmd.Context(), opts)
			return err
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&opts.Version, "version", 0, "release version to deploy (default latest)")
	flags.StringVar(&opts.Bucket, "bucket", "", "deploy bucket, overriding the environment's")
	addWriteFlags(cmd, &opts.Automated, &opts.Dry, &opts.Yes, &opts.Rollback)
	return cmd
}

func (c *cli) deployCurrentCmd() *cobra.Command {
	var bucket string
	cmd := &cobra.Command{
		Use:   "current NAME ENV",
		Short: "Show the deploy running in an environment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.DeployCurrent(cmd.Context(), args[0], args[1], bucket)
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "deploy bucket, overriding the environment's")
	return cmd
}
