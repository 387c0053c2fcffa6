package command

import (
	"github.com/spf13/cobra"

	"github.com/onexay/catapult/internal/service"
)

func (c *cli) ticketsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tickets",
		Short: "Follow issue tracker tickets to releases and deploys",
	}

	var opts service.ProjectsOptions
	find := &cobra.Command{
		Use:   "find TICKET",
		Short: "Show which releases and deploys contain the work linked to a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.TicketsFind(cmd.Context(), args[0], opts)
		},
	}
	addListFlags(find, &opts)

	cmd.AddCommand(find)
	return cmd
}
