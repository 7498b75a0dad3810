package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/manifests/pkg/config"
	"github.com/openfroyo/manifests/pkg/policy"
	"github.com/openfroyo/manifests/pkg/script"
)

const watchDebounce = 500 * time.Millisecond

func newWatchCommand() *cobra.Command {
	var (
		values []string
		schema string
		noop   bool
	)

	cmd := &cobra.Command{
		Use:   "watch <script.star>",
		Short: "Re-apply a script whenever it or its values change",
		Long: `Apply a script, then watch its directory and values files and apply a
fresh instance, forced, after every change. Policies are reloaded in place
when policy.watch is set. The metrics endpoint is served while watching.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx, runtimeOptions{noop: noop, history: true, handlers: true})
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			if _, err := rt.telemetry.Metrics.StartMetricsServer(ctx, rt.telemetry.Logger); err != nil {
				return err
			}

			if rt.policy != nil && rt.settings.Policy.Watch && len(rt.settings.Policy.Paths) > 0 {
				loader := policy.NewLoader(rt.logger)
				err := loader.Watch(ctx, rt.settings.Policy.Paths, func(policies []policy.Policy) error {
					return rt.policy.Replace(ctx, policies)
				})
				if err != nil {
					return err
				}
				defer loader.StopWatching()
			}

			w := &watcher{
				rt:      rt,
				logger:  rt.telemetry.Logger.NewComponentLogger("watch").Zerolog(),
				script:  args[0],
				options: manifestOptions{values: values, schema: schema},
				printer: &resourcePrinter{w: os.Stdout, inSync: verbose},
			}
			w.printer.watch(rt.telemetry.Events)
			return w.run(ctx)
		},
	}

	cmd.Flags().StringSliceVarP(&values, "values", "f", nil, "values files or directories merged into the configuration")
	cmd.Flags().StringVar(&schema, "schema", "", "CUE file whose #Schema validates the merged values")
	cmd.Flags().BoolVar(&noop, "noop", false, "report changes without making them")

	return cmd
}

// watcher re-applies a script on file changes.
type watcher struct {
	rt      *runtime
	logger  zerolog.Logger
	script  string
	options manifestOptions
	printer *resourcePrinter
}

func (w *watcher) run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	// Directories are watched so editors that replace files are seen.
	dirs := map[string]bool{filepath.Dir(w.script): true}
	for _, p := range w.options.values {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			dirs[p] = true
			continue
		}
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	w.apply(ctx)

	var (
		timer   *time.Timer
		trigger = make(chan struct{}, 1)
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Change detected")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})

		case <-trigger:
			w.apply(ctx)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}

func (w *watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	return filepath.Ext(event.Name) == script.Extension || config.Supported(event.Name)
}

func (w *watcher) apply(ctx context.Context) {
	w.printer.reset()
	defer func() {
		if err := w.rt.telemetry.Tracer.ForceFlush(context.WithoutCancel(ctx)); err != nil {
			w.logger.Warn().Err(err).Msg("Failed to flush spans")
		}
	}()

	m, err := w.rt.loadManifest(ctx, w.script, w.options)
	if err != nil {
		w.logger.Error().Err(err).Str("script", w.script).Msg("Failed to load script")
		return
	}

	if _, err := m.ExecuteStrict(ctx, true); err != nil {
		changed, failed := w.printer.counts(ctx)
		colorFailed.Printf("not applied: %d changed, %d failed\n", changed, failed)
		w.logger.Error().Err(err).Str("manifest", m.Name()).Msg("Apply failed")
		return
	}

	changed, _ := w.printer.counts(ctx)
	colorOK.Printf("applied %s: %d changed at %s\n", m.Name(), changed, time.Now().Format(time.TimeOnly))
}
