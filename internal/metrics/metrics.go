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

// Package metrics exports controller state to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/antst/mhpbc/internal/logger"
)

var (
	// runState is 1 for the current operational state and 0 for all others
	runState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mhpbc_run_state",
		Help: "Current operational state (1 = active)",
	}, []string{"state"})

	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mhpbc_transitions_total",
		Help: "State transitions by target state",
	}, []string{"to"})

	loadCommand = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mhpbc_load_command",
		Help: "Commanded heat pump load fraction",
	})

	flowCommand = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mhpbc_flow_command",
		Help: "Commanded circulation pump fraction",
	})

	loopOutput = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mhpbc_loop_output",
		Help: "Last output of each feedback loop",
	}, []string{"loop"})

	activeFaults = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mhpbc_active_faults",
		Help: "Number of active fault codes",
	})

	heatingEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mhpbc_heating_enabled",
		Help: "Heating circuit enabled (1) or not (0)",
	})

	cop = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mhpbc_cop",
		Help: "Smoothed coefficient of performance",
	})

	saveErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mhpbc_state_save_errors_total",
		Help: "Failed state file writes",
	})
)

// SetRun marks current as the active state among all.
func SetRun(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		runState.WithLabelValues(s).Set(v)
	}
}

func Transition(to string) {
	transitions.WithLabelValues(to).Inc()
}

func SetLoad(v float64) { loadCommand.Set(v) }

func SetFlow(v float64) { flowCommand.Set(v) }

func SetLoop(name string, v float64) { loopOutput.WithLabelValues(name).Set(v) }

func SetFaults(n int) { activeFaults.Set(float64(n)) }

func SetHeating(on bool) {
	if on {
		heatingEnabled.Set(1)
	} else {
		heatingEnabled.Set(0)
	}
}

func SetCOP(v float64) { cop.Set(v) }

func SaveFailed() { saveErrors.Inc() }

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		logger.L().Infof("Serving metrics on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
