package commands

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"pghere/internal/clone"
	"pghere/internal/common"
	"pghere/internal/config"
	"pghere/internal/engine"
	"pghere/internal/layout"
	"pghere/internal/lifecycle"
	"pghere/internal/storage"
)

// project is everything a lifecycle command needs for one project directory.
type project struct {
	layout   layout.Layout
	settings config.Settings // global settings with pghere.yaml and flags applied
	pgctl    *engine.PgCtl
	history  *storage.History
	orch     *lifecycle.Orchestrator
}

// openOptions selects what openProject sets up besides the orchestrator.
type openOptions struct {
	history bool // open history.db when history is enabled
	create  bool // create the project skeleton first (init)
}

// openProject resolves the project directory and wires the orchestrator.
func openProject(cmd *cobra.Command, positional string, opts openOptions) (*project, error) {
	s := config.DefaultSettings()
	if settings != nil {
		s = *settings
	}

	dir, err := config.ResolveProjectDir(positional, flagProject, &s)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}
	l, err := layout.New(dir)
	if err != nil {
		return nil, err
	}

	pc, err := config.LoadProjectConfig(l.Root)
	if err != nil {
		return nil, err
	}
	pc.Apply(&s)
	if cmd.Flags().Changed("pg-ctl") {
		s.PgCtl = flagPgCtl
	}
	if cmd.Flags().Changed("allow-copy") {
		s.AllowCopy = flagAllowCopy
	}

	mode, err := engine.ParseStopMode(s.StopMode)
	if err != nil {
		return nil, &common.UsageError{Message: err.Error()}
	}

	p := &project{layout: l, settings: s}
	p.pgctl = &engine.PgCtl{
		Path:    engine.ResolvePgCtl(s.PgCtl, l.Root),
		LogFile: l.ServerLogPath(),
	}
	if pc != nil {
		p.pgctl.Port = pc.Port
	}

	p.orch = lifecycle.New(l, p.pgctl, clone.New(clone.Options{AllowCopy: s.AllowCopy}))
	p.orch.StopMode = mode

	if opts.create {
		if err := l.Ensure(); err != nil {
			return nil, fmt.Errorf("failed to create project %s: %w", l.Root, err)
		}
	}

	if opts.history && s.History {
		if err := layout.RequireDir(l.Root); err == nil {
			h, err := storage.OpenHistory(l.HistoryPath())
			if err != nil {
				log.Warnf("[CLI] history disabled: %v", err)
			} else {
				p.history = h
				p.orch.History = h
			}
		}
	}

	log.WithFields(log.Fields{
		"project":    l.Root,
		"pg_ctl":     p.pgctl.Path,
		"allow_copy": s.AllowCopy,
		"stop_mode":  mode,
	}).Debug("[CLI] project opened")
	return p, nil
}

func (p *project) Close() {
	if p.history != nil {
		if err := p.history.Close(); err != nil {
			log.Warnf("[CLI] failed to close history: %v", err)
		}
	}
}

// projectArg returns args[0] when present.
func projectArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}
