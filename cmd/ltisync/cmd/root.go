package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/mind-engage/lti-hubsync/internal/config"
	"github.com/mind-engage/lti-hubsync/internal/db"
	"github.com/mind-engage/lti-hubsync/internal/logger"
	"github.com/mind-engage/lti-hubsync/internal/moodle"
)

// options is shared by every subcommand; cfg is filled before RunE.
type options struct {
	envFile  string
	logLevel string
	cfg      config.Config
}

// NewRootCmd builds the ltisync command tree.
func NewRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "ltisync",
		Short: "Synchronise Moodle enrolments into the notebook hub",
		Long: `ltisync reads courses and enrolments from Moodle, creates the matching
system users and grader services, and regenerates the hub configuration.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			loaded := config.LoadDotEnv(o.envFile)
			opt := logger.FromEnv()
			if o.logLevel != "" {
				opt.Level = o.logLevel
			}
			if opt.Service == "" {
				opt.Service = "ltisync"
			}
			log := logger.Init(opt)
			if len(loaded) > 0 {
				log.Debug().Strs("files", loaded).Msg("env loaded")
			}
			o.cfg = config.FromEnv()
		},
	}
	root.PersistentFlags().StringVar(&o.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "trace|debug|info|warn|error (overrides LOG_LEVEL)")

	root.AddCommand(newSyncCmd(o))
	root.AddCommand(newCategoriesCmd(o))
	root.AddCommand(newGradesCmd(o))
	root.AddCommand(newRunsCmd(o))
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (o *options) loader(filters []moodle.Filter, concurrency int) (*moodle.Loader, error) {
	if err := o.cfg.ValidateMoodle(); err != nil {
		return nil, err
	}
	m := o.cfg.Moodle
	l := &moodle.Loader{
		Client:      moodle.NewClient(m.APIURL, m.APIToken, m.Endpoint, &http.Client{Timeout: o.cfg.HTTPTimeout}),
		BaseURL:     m.BaseURL,
		Filters:     filters,
		Concurrency: concurrency,
	}
	if jh, nb, ok := m.Categories(); ok {
		l.Categories = &moodle.Categories{JupyterHub: jh, NbGrader: nb}
	}
	return l, nil
}

// ledger opens the sync ledger, or returns nil when none is configured.
func (o *options) ledger(ctx context.Context) (*db.Ledger, error) {
	if o.cfg.SyncDBDSN == "" {
		return nil, nil
	}
	driver, err := db.ParseDriver(o.cfg.SyncDBDriver)
	if err != nil {
		return nil, err
	}
	return db.OpenLedger(ctx, driver, o.cfg.SyncDBDSN)
}
