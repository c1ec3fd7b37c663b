package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newCategoriesCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List Moodle courses with their category id",
		Long: `Lists every course with the id of its Moodle category. Use it to find the
values of MOODLE_JUPYTERHUB_CATEGORY_ID and MOODLE_NBGRADER_CATEGORY_ID.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := o.loader(nil, 0)
			if err != nil {
				return err
			}
			rows, err := l.CategoryRows(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TITLE\tCOURSE ID\tCATEGORY")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%d\n", r.Title, r.CourseID, r.Category)
			}
			return w.Flush()
		},
	}
}
