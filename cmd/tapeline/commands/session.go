package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Sumatoshi-tech/tapeline/pkg/alignment"
	"github.com/Sumatoshi-tech/tapeline/pkg/config"
	"github.com/Sumatoshi-tech/tapeline/pkg/editmodel"
	"github.com/Sumatoshi-tech/tapeline/pkg/observability"
	"github.com/Sumatoshi-tech/tapeline/pkg/tree"
	"github.com/Sumatoshi-tech/tapeline/pkg/version"
)

const (
	configFlag      = "config"
	configFlagShort = "c"
	configFlagUsage = "path to tapeline.yaml (default: ./tapeline.yaml, ./config, /etc/tapeline)"
)

// Verbosity holds the root command's persistent output flags.
type Verbosity struct {
	Verbose bool
	Quiet   bool
}

func (v *Verbosity) apply(cfg *observability.Config) {
	switch {
	case v == nil:
	case v.Quiet:
		cfg.LogLevel = slog.LevelError
	case v.Verbose:
		cfg.LogLevel = slog.LevelDebug
	}
}

// session bundles everything a scoring command loads from configuration.
type session struct {
	cfg       *config.Config
	tree      *tree.Tree
	aln       *alignment.Alignment
	model     *editmodel.Model
	providers observability.Providers
	logger    *slog.Logger
}

func openSession(configPath string, mode observability.AppMode, runID string, verbosity *Verbosity) (*session, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	obsCfg := cfg.Observability(mode, version.Version, runID)
	verbosity.apply(&obsCfg)

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	s := &session{cfg: cfg, providers: providers, logger: providers.Logger}

	s.tree, err = cfg.LoadTree()
	if err != nil {
		return nil, s.fail(fmt.Errorf("load tree: %w", err))
	}

	s.aln, err = cfg.LoadAlignment()
	if err != nil {
		return nil, s.fail(fmt.Errorf("load alignment: %w", err))
	}

	s.model, err = cfg.BuildModel(s.aln)
	if err != nil {
		return nil, s.fail(fmt.Errorf("build model: %w", err))
	}

	s.logger.Debug("session opened",
		"leaves", s.tree.LeafCount(),
		"taxa", len(s.aln.Taxa()),
		"tape_length", s.model.TapeLength(),
		"alphabet", s.model.Alphabet())

	return s, nil
}

func (s *session) fail(err error) error {
	s.close()

	return err
}

func (s *session) close() {
	shutdownErr := s.providers.Shutdown(context.Background())
	if shutdownErr != nil {
		s.logger.Warn("observability shutdown failed", "error", shutdownErr)
	}
}
