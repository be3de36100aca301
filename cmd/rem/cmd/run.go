package cmd

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/remembrance-run/remembrance-core/internal/core/coherency"
	"github.com/remembrance-run/remembrance-core/internal/federation"
	"github.com/remembrance-run/remembrance-core/internal/generate"
	"github.com/remembrance-run/remembrance-core/internal/lifecycle"
	"github.com/remembrance-run/remembrance-core/internal/reflect"
	"github.com/remembrance-run/remembrance-core/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the remembrance node until interrupted",
	Long: `Open the local store, start the lifecycle engine, and serve the
federation surface until SIGINT or SIGTERM.`,
	RunE: runNode,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runNode(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, root, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.Open(root, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	eval, err := coherency.NewEvaluator(
		cfg.Coherency.Weights,
		coherency.NewCovenant(cfg.Covenant.Strict),
		coherency.NewExecRunner(),
		logger,
	)
	if err != nil {
		return err
	}
	gen := generate.StaticGenerator{}
	healer := reflect.NewHealer(eval, gen, cfg.Reflect.MaxLoops, logger)

	engine, err := lifecycle.New(st, eval, healer, gen, lifecycle.Config{
		FeedbackTrigger:     cfg.Lifecycle.FeedbackTrigger,
		SubmissionTrigger:   cfg.Lifecycle.SubmissionTrigger,
		RegistrationTrigger: cfg.Lifecycle.RegistrationTrigger,
		AutoRetag:           cfg.Lifecycle.AutoRetag,
		AutoClean:           cfg.Lifecycle.AutoClean,
	}, logger)
	if err != nil {
		return err
	}

	remotes, err := federation.LoadRegistry(root)
	if err != nil {
		return err
	}

	personal, err := store.Open(filepath.Join(root, "personal"), logger)
	if err != nil {
		return err
	}
	defer personal.Close()

	deps := federation.Deps{
		Local:     st,
		Personal:  personal,
		Evaluator: eval,
		Generator: gen,
		Remotes:   remotes,
		Logger:    logger,
	}
	if cfg.Community.ShareEnabled {
		community, err := store.Open(filepath.Join(root, "community"), logger)
		if err != nil {
			return err
		}
		defer community.Close()
		deps.Community = community
	}

	node, err := federation.NewService(deps, federation.Config{
		SubmitPerMinute: cfg.RateLimit.MaxRequests,
		ReadsPerMinute:  cfg.RateLimit.MaxReads,
		RemoteTimeout:   cfg.Federation.RemoteTimeout(),
	})
	if err != nil {
		return err
	}

	engine.Start()
	defer engine.Stop()

	health := node.HandleHealth(cmd.Context())
	logger.Info("node running",
		zap.String("root", root),
		zap.Int("patterns", health.Patterns),
		zap.Int("remotes", len(remotes.List())))
	fmt.Printf("Remembrance node running at %s (%d patterns). Ctrl-C to stop.\n",
		root, health.Patterns)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("node stopping")
	return nil
}
