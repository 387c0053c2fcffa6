package command

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/onexay/catapult/internal/report"
	"github.com/onexay/catapult/internal/service"
)

func (c *cli) projectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Report release and deploy status across projects",
	}

	var opts service.ProjectsOptions
	ls := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List every project with its latest release and deploys",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.app.ProjectsList(cmd.Context(), opts)
		},
	}
	addListFlags(ls, &opts)
	ls.Flags().StringVar(&opts.Contains, "contains", "", "mark whether each record contains this commit")

	cmd.AddCommand(ls)
	return cmd
}

// addListFlags registers the projects listing flags shared with tickets find.
func addListFlags(cmd *cobra.Command, opts *service.ProjectsOptions) {
	flags := cmd.Flags()
	flags.StringSliceVar(&opts.Only, "only", nil, "list only these projects")
	flags.StringSliceVar(&opts.Envs, "env", nil, "list deploys to these environments only")
	flags.BoolVar(&opts.ReleasesOnly, "releases-only", false, "skip deploys")
	flags.BoolVar(&opts.Permissions, "permissions", false, "check write permissions on each record")
	flags.StringSliceVar(&opts.Sort, "sort", nil, "sort keys: "+strings.Join(report.SortKeys, ", "))
	flags.BoolVar(&opts.Reverse, "reverse", false, "reverse the sort order")
	flags.BoolVar(&opts.Author, "author", false, "show the author of each record")
	flags.BoolVar(&opts.UTC, "utc", false, "show timestamps in UTC")
}
