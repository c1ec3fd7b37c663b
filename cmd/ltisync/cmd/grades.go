package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/mind-engage/lti-hubsync/internal/gradebook"
	"github.com/mind-engage/lti-hubsync/internal/grades"
	"github.com/mind-engage/lti-hubsync/internal/lti"
)

func newGradesCmd(o *options) *cobra.Command {
	g := &cobra.Command{
		Use:   "grades",
		Short: "Work with course gradebooks",
	}
	g.AddCommand(&cobra.Command{
		Use:   "send <course_id> <assignment>",
		Short: "Post the grades of an assignment to its LMS line item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.cfg.ValidateGrades(); err != nil {
				return err
			}
			key, err := lti.LoadPrivateKey(o.cfg.LTI13.PrivateKey)
			if err != nil {
				return err
			}
			pool := gradebook.NewPool(o.cfg.HomeRoot, 1, time.Minute)
			defer pool.Close()

			s := grades.NewSender(o.cfg.LTI13.ClientID, o.cfg.LTI13.TokenURL, key,
				grades.PoolOpener(pool), &http.Client{Timeout: o.cfg.HTTPTimeout})
			rep, err := s.SendGrades(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "posted %d, failed %d\n", rep.Posted, rep.Failed)
			return nil
		},
	})
	return g
}
