// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"

	"github.com/blinklabs-io/nodeclient"
	"github.com/blinklabs-io/nodeclient/checkpoint"
	"github.com/blinklabs-io/nodeclient/gateway"
	"github.com/blinklabs-io/nodeclient/metrics"
	"github.com/blinklabs-io/nodeclient/protocol/chainsync"
)

const metricsNamespace = "nodeclient"

func (a *app) serveCommand() *cobra.Command {
	var listenAddress string
	var follow bool
	var noSubmit bool
	var flags followFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve chain data over HTTP and optionally follow the chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := prometheus.NewRegistry()
			registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			collector, err := metrics.New(metricsNamespace, registry)
			if err != nil {
				return err
			}
			followerSlot := prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: metricsNamespace,
					Name:      "follower_slot",
					Help:      "Slot of the last chain update seen by the follower",
				},
			)
			registry.MustRegister(followerSlot)
			withMetrics := nodeclient.WithMetrics(collector)
			session, err := a.openSession(cmd.Context(), withMetrics)
			if err != nil {
				return err
			}
			defer session.Close()
			cfg := gateway.Config{
				ListenAddress: listenAddress,
				Backend:       session,
				Gatherer:      registry,
				Logger:        a.logger,
			}
			if !noSubmit {
				submit, err := a.submitFunc()
				if err != nil {
					a.logger.Warn("transaction submission disabled", zap.Error(err))
				} else {
					cfg.Submit = submit
				}
			}
			server, err := gateway.New(cfg)
			if err != nil {
				return err
			}
			var follower *nodeclient.Follower
			if follow {
				var store checkpoint.Store
				follower, store, err = a.newFollower(&flags, withMetrics)
				if err != nil {
					return err
				}
				defer store.Close()
			}
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return server.ListenAndServe(ctx)
			})
			if follower != nil {
				g.Go(func() error {
					return follower.Run(ctx)
				})
				g.Go(func() error {
					for event := range follower.Events() {
						if event.Type == chainsync.NextOutcomeRollForward ||
							event.Type == chainsync.NextOutcomeRollBackward {
							followerSlot.Set(float64(event.Point.Slot))
						}
						a.logEvent(event)
					}
					return nil
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&listenAddress, "listen", gateway.DefaultListenAddress, "address for the HTTP gateway")
	cmd.Flags().BoolVar(&follow, "follow", false, "follow the chain alongside the gateway")
	cmd.Flags().BoolVar(&noSubmit, "no-submit", false, "disable POST /tx")
	flags.register(cmd)
	return cmd
}
