/*
 * Copyright (c) 2024. Anton Starikov -- All Rights Reserved
 *
 * This file is part of MHPBC project.
 *
 * MHPBC is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as the Free Software Foundation,
 * either version 3 of the License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/antst/mhpbc/internal"
	"github.com/antst/mhpbc/internal/actuator"
	"github.com/antst/mhpbc/internal/config"
	"github.com/antst/mhpbc/internal/db"
	"github.com/antst/mhpbc/internal/fault"
	"github.com/antst/mhpbc/internal/feed"
	"github.com/antst/mhpbc/internal/gpio"
	"github.com/antst/mhpbc/internal/live"
	"github.com/antst/mhpbc/internal/logger"
	"github.com/antst/mhpbc/internal/metrics"
	"github.com/antst/mhpbc/internal/recorder"
	"github.com/antst/mhpbc/internal/state"
)

// Build version, overridden with flag during build.
var version = "devel"

func main() {
	logger.L().Warnf("Heat pump buffer controller, version: %+v", version)
	cfg, opts := config.Get()
	defer logger.Close()

	if err := cfg.Validate(); err != nil {
		logger.L().Fatalf("Invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch opts.Command {
	case config.CommandRun:
		err = run(ctx, cfg, opts)
	case config.CommandReplay:
		if len(opts.Args) != 1 {
			err = errors.New("replay needs exactly one file")
			break
		}
		err = replay(ctx, cfg, opts.Args[0])
	case config.CommandOff:
		err = off(ctx, cfg)
	case config.CommandPWM:
		err = pwm(ctx, cfg)
	case config.CommandHistory:
		err = history(cfg, opts.HistoryLen)
	default:
		err = errors.Errorf("unknown command `%s`", opts.Command)
	}
	if err != nil {
		logger.L().Fatalf("%s: %v", opts.Command, err)
	}
}

// watchAll feeds every configured quantity and the fault subtree into store and faults.
func watchAll(ctx context.Context, g *errgroup.Group, cfg *config.Config, f feed.Feed, store *live.Store, faults *fault.Monitor) {
	for q, path := range internal.QuantityPaths(cfg) {
		q, path := q, path
		g.Go(func() error { return live.Watch(ctx, f, store, q, path) })
	}
	g.Go(func() error { return faults.Watch(ctx, f, cfg.Sensor.Error) })
}

func openFlowOutput(ctx context.Context, g *errgroup.Group, cfg *config.Config, f feed.Feed) (actuator.FlowOutput, error) {
	flow, p, err := actuator.NewFlowOutput(cfg.Output["flow"], f)
	if err != nil {
		return nil, err
	}
	if p != nil {
		g.Go(func() error { return p.Run(ctx) })
	}
	return flow, nil
}

func run(ctx context.Context, cfg *config.Config, opts *config.Options) error {
	// the feed outlives the controller so that the shutdown writes still go out
	feedCtx, cancelFeed := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelFeed()

	m, err := feed.NewMQTT(feedCtx, cfg.MQTTConfig)
	if err != nil {
		return err
	}
	defer m.Close()

	store := live.NewStore()
	faults := fault.NewMonitor(cfg.Misc.CommErrorCode, store)

	var journal *db.Journal
	if cfg.DBFile != "" {
		if journal, err = db.Open(cfg.DBFile); err != nil {
			return err
		}
		defer journal.Close()
		faults.SetJournal(journal)
	}

	feeds, feedsCtx := errgroup.WithContext(feedCtx)
	flow, err := openFlowOutput(feedsCtx, feeds, cfg, m)
	if err != nil {
		return err
	}
	heat, err := actuator.NewHeatPath(cfg.Setting.Heat, m)
	if err != nil {
		return err
	}

	copts := []internal.Option{internal.WithForceOn(opts.ForceOn)}
	if journal != nil {
		copts = append(copts, internal.WithJournal(journal))
	}
	c, err := internal.NewHeatController(cfg, store, faults, m, flow, heat, state.NewPersister(cfg.State), copts...)
	if err != nil {
		return err
	}

	// the record starts with the loaded state, ahead of the first value
	if opts.RecordFile != "" {
		w, err := os.Create(opts.RecordFile)
		if err != nil {
			return errors.WithMessage(err, "record")
		}
		defer w.Close()
		rec := recorder.NewRecorder(w, store, faults, time.Now)
		if err := rec.WriteState(c.State()); err != nil {
			return errors.WithMessage(err, "record")
		}
		rec.Attach()
		defer func() {
			if err := rec.Close(); err != nil {
				logger.L().Errorf("closing record: %v", err)
			}
		}()
		logger.L().Infof("Recording to `%s`", opts.RecordFile)
	}
	watchAll(feedsCtx, feeds, cfg, m, store, faults)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsListen != "" {
		g.Go(func() error { return metrics.Serve(gctx, cfg.MetricsListen) })
	}
	g.Go(func() error {
		select {
		case <-feedsCtx.Done():
			return errors.WithMessage(context.Cause(feedsCtx), "feed")
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error { return c.Run(gctx) })

	err = g.Wait()
	cancelFeed()
	if ferr := feeds.Wait(); ferr != nil && err == nil && !errors.Is(ferr, context.Canceled) {
		err = ferr
	}
	return err
}

func replay(ctx context.Context, cfg *config.Config, file string) error {
	r, err := os.Open(file)
	if err != nil {
		return errors.WithMessage(err, "replay")
	}
	defer r.Close()

	cfg.Misc.Stop.MaxTime = 0
	cfg.Setting.Heat.Pin = nil
	if cfg.Output["flow"].Path == "" {
		cfg.Output["flow"].Path = "replay/flow"
	}

	f := feed.NewFake()
	f.Log = true
	store := live.NewStore()
	faults := fault.NewMonitor(cfg.Misc.CommErrorCode, store)
	clock := recorder.NewClock(time.Time{})

	flow, _, err := actuator.NewFlowOutput(cfg.Output["flow"], f)
	if err != nil {
		return err
	}
	heat, err := actuator.NewHeatPath(cfg.Setting.Heat, f)
	if err != nil {
		return err
	}
	replayer := recorder.NewReplayer(r, store, faults, clock, cfg.Misc.ReplayPace)
	persister := state.NewPersister(cfg.State + ".replay")
	st, err := replayer.InitialState()
	if err != nil {
		return err
	}
	if st != nil {
		if err := persister.Save(st); err != nil {
			return err
		}
	} else {
		logger.L().Warnf("Replay log has no initial state, starting from `%s`", persister.Path())
	}
	c, err := internal.NewHeatController(cfg, store, faults, f, flow, heat, persister, internal.WithClock(clock.Now))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return replayer.Run(gctx) })
	g.Go(func() error { return c.Run(gctx) })

	err = g.Wait()
	if errors.Is(err, recorder.ErrReplayDone) {
		logger.L().Info("Replay done")
		return nil
	}
	return err
}

func off(ctx context.Context, cfg *config.Config) error {
	feedCtx, cancelFeed := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelFeed()

	m, err := feed.NewMQTT(feedCtx, cfg.MQTTConfig)
	if err != nil {
		return err
	}
	defer m.Close()

	store := live.NewStore()
	faults := fault.NewMonitor(cfg.Misc.CommErrorCode, store)

	feeds, feedsCtx := errgroup.WithContext(feedCtx)
	watchAll(feedsCtx, feeds, cfg, m, store, faults)
	flow, err := openFlowOutput(feedsCtx, feeds, cfg, m)
	if err != nil {
		return err
	}
	heat, err := actuator.NewHeatPath(cfg.Setting.Heat, m)
	if err != nil {
		return err
	}
	c, err := internal.NewHeatController(cfg, store, faults, m, flow, heat, state.NewPersister(cfg.State))
	if err != nil {
		return err
	}

	err = c.ShutdownOnly(ctx)
	cancelFeed()
	if ferr := feeds.Wait(); ferr != nil && !errors.Is(ferr, context.Canceled) {
		logger.L().Errorf("feed: %v", ferr)
		if err == nil {
			err = ferr
		}
	}
	return err
}

// pwm drives every GPIO output that has a feed path from the values on that path.
func pwm(ctx context.Context, cfg *config.Config) error {
	m, err := feed.NewMQTT(ctx, cfg.MQTTConfig)
	if err != nil {
		return err
	}
	defer m.Close()

	g, gctx := errgroup.WithContext(ctx)
	n := 0
	for name, out := range cfg.Output {
		if out.Path == "" || out.Pin < 0 {
			continue
		}
		line, err := gpio.OpenOutput(out.Chip, out.Pin)
		if err != nil {
			return errors.WithMessagef(err, "output %s", name)
		}
		defer line.Close()

		p := gpio.NewPWM(line, out.Freq)
		ch, err := m.Watch(gctx, out.Path, false)
		if err != nil {
			return err
		}
		logger.L().Infof("PWM %s: %s pin %d from `%s`", name, out.Chip, out.Pin, out.Path)
		n++

		g.Go(func() error { return p.Run(gctx) })
		g.Go(func() error {
			for {
				select {
				case msg := <-ch:
					if !msg.UpToDate {
						p.SetDuty(msg.Value)
					}
				case <-gctx.Done():
					return nil
				}
			}
		})
	}
	if n == 0 {
		return errors.New("no output with both path and pin")
	}
	return g.Wait()
}

func history(cfg *config.Config, n int) error {
	if cfg.DBFile == "" {
		return errors.New("no journal configured, use --db")
	}
	j, err := db.Open(cfg.DBFile)
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.List(n)
	if err != nil {
		return err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		fmt.Printf("%s  %-10s  %-24s  %s\n", e.Time().Format(time.DateTime), e.Kind, e.Subject, e.Detail)
	}
	return nil
}
