package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mind-engage/lti-hubsync/internal/db"
	"github.com/mind-engage/lti-hubsync/internal/gradebook"
	"github.com/mind-engage/lti-hubsync/internal/logger"
	"github.com/mind-engage/lti-hubsync/internal/moodle"
	"github.com/mind-engage/lti-hubsync/internal/reconcile"
	"github.com/mind-engage/lti-hubsync/internal/storage"
)

type syncFlags struct {
	jsonOut     string
	jsonIn      string
	input       string
	filters     []string
	inFile      string
	outFile     string
	format      string
	dryRun      bool
	concurrency int
}

func newSyncCmd(o *options) *cobra.Command {
	f := &syncFlags{}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile Moodle courses into hub users, groups and grader services",
		Long: `Fetches courses and enrolments (or reads them from --json-in), provisions
system users and grader services, and rewrites the hub configuration.

Interrupting a run keeps what was already provisioned and leaves the
configuration file untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSync(ctx, o, f, cmd.OutOrStdout())
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.jsonOut, "json-out", "", "also write the fetched courses to this file")
	fl.StringVar(&f.jsonIn, "json-in", "", "read courses from this file instead of Moodle")
	fl.StringVar(&f.input, "input", "", "course selection file with jupyterhub and nbgrader id lists")
	fl.StringArrayVar(&f.filters, "filter", nil, "course filter field=value[,value], repeatable")
	fl.StringVar(&f.inFile, "in-file", "", "base hub config (default $HUB_CONFIG_TEMPLATE)")
	fl.StringVar(&f.outFile, "out-file", "", "generated hub config (default $HUB_CONFIG_OUT)")
	fl.StringVar(&f.format, "format", "", "python or yaml (default $HUB_CONFIG_FORMAT)")
	fl.BoolVar(&f.dryRun, "dry-run", false, "log provisioning instead of applying it and print the config")
	fl.IntVar(&f.concurrency, "concurrency", 4, "parallel enrolment requests")
	return cmd
}

func runSync(ctx context.Context, o *options, f *syncFlags, stdout io.Writer) error {
	log := logger.C(ctx)

	filters := make([]moodle.Filter, 0, len(f.filters))
	for _, s := range f.filters {
		flt, err := moodle.ParseFilter(s)
		if err != nil {
			return err
		}
		filters = append(filters, flt)
	}

	courses, err := loadCourses(ctx, o, f, filters)
	if err != nil {
		return err
	}
	if f.jsonOut != "" {
		if err := writeCourses(f.jsonOut, courses); err != nil {
			return err
		}
		log.Info().Str("path", f.jsonOut).Int("courses", len(courses)).Msg("courses written")
	}
	if f.input != "" {
		in, err := reconcile.LoadInput(f.input)
		if err != nil {
			return err
		}
		courses = in.Apply(courses)
	}

	format, err := reconcile.ParseFormat(or(f.format, o.cfg.HubConfigFormat))
	if err != nil {
		return err
	}
	base, err := reconcile.ReadBase(or(f.inFile, o.cfg.HubConfigTemplate))
	if err != nil {
		return err
	}
	renderer := reconcile.Renderer{Format: format}

	m := &reconcile.Manager{
		Provisioner: reconcile.NewSystem(f.dryRun),
		HomeRoot:    o.cfg.HomeRoot,
	}
	if f.jsonIn != "" {
		// fetched courses were already filtered by the loader
		m.Filters = filters
	}

	if f.dryRun {
		st, err := m.Reconcile(ctx, courses)
		if err != nil {
			return interrupted(ctx, err)
		}
		return renderer.Render(stdout, base, st)
	}

	pool := gradebook.NewPool(o.cfg.HomeRoot, 16, 10*time.Minute)
	defer pool.Close()
	m.Gradebooks = reconcile.PoolOpener(pool)

	ledger, err := o.ledger(ctx)
	if err != nil {
		return err
	}
	var runID int64
	if ledger != nil {
		defer ledger.Close()
		if runID, err = ledger.StartRun(ctx); err != nil {
			return err
		}
		m.Tokens = runTokens{ledger: ledger, run: runID}
	}

	st, err := m.Sync(ctx, courses, reconcile.Target{
		Path:     or(f.outFile, o.cfg.HubConfigOut),
		Base:     base,
		Renderer: renderer,
	})
	if ledger != nil {
		status, n, failures := runStatus(st, err)
		if ferr := ledger.FinishRun(context.WithoutCancel(ctx), runID, status, n, failures); ferr != nil {
			log.Error().Err(ferr).Int64("run", runID).Msg("ledger not updated")
		}
	}
	if err != nil {
		return interrupted(ctx, err)
	}
	log.Info().Int("courses", st.Courses).Int("failures", st.Failures).Msg("sync done")
	return nil
}

// interrupted turns a SIGINT stop into a clean exit.
func interrupted(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		logger.C(ctx).Warn().Msg("sync interrupted, hub config left unchanged")
		return nil
	}
	return err
}

func runStatus(st *reconcile.State, err error) (status string, courses, failures int) {
	if st != nil {
		courses, failures = st.Courses, st.Failures
	}
	switch {
	case errors.Is(err, context.Canceled):
		return db.RunInterrupted, courses, failures
	case err != nil:
		return db.RunFailed, courses, failures
	case failures > 0:
		return db.RunPartial, courses, failures
	}
	return db.RunOK, courses, failures
}

type runTokens struct {
	ledger *db.Ledger
	run    int64
}

func (r runTokens) RecordToken(ctx context.Context, courseID, grader, token string) error {
	return r.ledger.RecordToken(ctx, r.run, courseID, grader, token)
}

func loadCourses(ctx context.Context, o *options, f *syncFlags, filters []moodle.Filter) ([]moodle.Course, error) {
	if f.jsonIn != "" {
		return readCourses(f.jsonIn)
	}
	l, err := o.loader(filters, f.concurrency)
	if err != nil {
		return nil, err
	}
	return l.Load(ctx)
}

// readCourses accepts the JSON written by --json-out, or the same list in
// YAML.
func readCourses(path string) ([]moodle.Course, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var courses []moodle.Course
	if err := yaml.Unmarshal(b, &courses); err != nil {
		return nil, fmt.Errorf("courses %s: %w", path, err)
	}
	return courses, nil
}

func writeCourses(path string, courses []moodle.Course) error {
	b, err := json.MarshalIndent(courses, "", "  ")
	if err != nil {
		return err
	}
	return storage.WriteFile(path, bytes.NewReader(append(b, '\n')), 0o644)
}

func or(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
