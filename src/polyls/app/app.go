// Package app assembles the polyls application.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	tally "github.com/uber-go/tally"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/polyls/polyls/src/polyls/binding/texlab"
	"github.com/polyls/polyls/src/polyls/controller/manager"
	"github.com/polyls/polyls/src/polyls/controller/session"
	"github.com/polyls/polyls/src/polyls/internal/core"
	"github.com/polyls/polyls/src/polyls/internal/deps"
	"github.com/polyls/polyls/src/polyls/internal/fs"
	"github.com/polyls/polyls/src/polyls/internal/proc"
	"github.com/polyls/polyls/src/polyls/internal/scanner"
)

const (
	_configKeyWorkspaceRoot = "workspace.root"
	_metricsPrefix          = "polyls"
	_metricsInterval        = time.Second
)

// Module defines the polyls application module.
var Module = fx.Options(
	core.ConfigModule,
	core.LoggerModule,
	fx.Provide(newMetricsScope),
	fs.Module,
	proc.Module,
	deps.Module,
	scanner.Module,
	session.Module,
	manager.Module,
	texlab.Module,
	fx.Invoke(run),
)

func newMetricsScope(lc fx.Lifecycle) tally.Scope {
	scope, closer := tally.NewRootScope(tally.ScopeOptions{Prefix: _metricsPrefix}, _metricsInterval)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error { return closer.Close() },
	})
	return scope
}

type runParams struct {
	fx.In

	Config    config.Provider
	Logger    *zap.SugaredLogger
	Manager   manager.Manager
	Binding   *texlab.Binding
	Lifecycle fx.Lifecycle
}

// run starts a texlab session for the configured workspace when the
// application comes up. The manager stops all sessions on shutdown.
func run(p runParams) {
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			root, err := workspaceRoot(p.Config)
			if err != nil {
				return err
			}

			_, s, err := p.Manager.CreateSession(ctx, root, p.Binding)
			if err != nil {
				return fmt.Errorf("starting %s session: %w", p.Binding.LanguageID(), err)
			}

			files, err := s.ScanWorkspace()
			if err != nil {
				return err
			}
			p.Logger.Infow("workspace scanned", "root", root, "files", len(files))

			for _, file := range files {
				if _, err := s.OpenDocument(ctx, file); err != nil {
					p.Logger.Warnw("opening document failed", "file", file, "error", err)
				}
			}
			return nil
		},
	})
}

func workspaceRoot(provider config.Provider) (string, error) {
	var root string
	provider.Get(_configKeyWorkspaceRoot).Populate(&root)
	if root != "" {
		return root, nil
	}
	if len(os.Args) > 1 {
		return os.Args[1], nil
	}
	return os.Getwd()
}
