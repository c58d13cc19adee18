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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/blinklabs-io/nodeclient"
)

const envPrefix = "NODECLIENT"

const (
	keySocket       = "socket"
	keyAddress      = "address"
	keyTopology     = "topology"
	keyNetwork      = "network"
	keyNetworkMagic = "network-magic"
	keyLogLevel     = "log-level"
	keyTimeout      = "timeout"
)

// app holds the state shared by every command
type app struct {
	v          *viper.Viper
	configFile string
	logger     *zap.Logger
	slogger    *slog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{
		v: viper.New(),
	}
	cmd := &cobra.Command{
		Use:           "nodeclient",
		Short:         "Client for the Cardano node mini-protocols",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "path to a YAML config file")
	flags.String(keySocket, "", "UNIX socket path of a local node (node-to-client)")
	flags.String(keyAddress, "", "TCP address of a remote peer in host:port format (node-to-node)")
	flags.String(keyTopology, "", "node topology file to pick a peer from when no address is given")
	flags.String(keyNetwork, nodeclient.NetworkPreview.Name, "named network the node participates in")
	flags.Uint32(keyNetworkMagic, 0, "network magic, overrides --network")
	flags.String(keyLogLevel, "info", "log level (debug, info, warn, error)")
	flags.Duration(keyTimeout, time.Minute, "timeout for one-shot commands")
	a.bindFlags(flags)
	cmd.AddCommand(
		a.tipCommand(),
		a.fetchBlockCommand(),
		a.queryCommand(),
		a.submitCommand(),
		a.followCommand(),
		a.serveCommand(),
	)
	return cmd
}

func (a *app) bindFlags(flags *pflag.FlagSet) {
	flags.VisitAll(func(flag *pflag.Flag) {
		if flag.Name == "config" {
			return
		}
		_ = a.v.BindPFlag(flag.Name, flag)
	})
}

func (a *app) init() error {
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if a.configFile != "" {
		a.v.SetConfigFile(a.configFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("config file: %w", err)
		}
	}
	level, err := zap.ParseAtomicLevel(a.v.GetString(keyLogLevel))
	if err != nil {
		return err
	}
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = level
	zapConfig.EncoderConfig.TimeKey = "time"
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	a.logger, err = zapConfig.Build()
	if err != nil {
		return err
	}
	// The library logs through slog at the same level
	a.slogger = slog.New(
		slog.NewTextHandler(
			os.Stderr,
			&slog.HandlerOptions{Level: slogLevel(level.Level())},
		),
	)
	return nil
}

func slogLevel(level zapcore.Level) slog.Level {
	switch {
	case level <= zapcore.DebugLevel:
		return slog.LevelDebug
	case level == zapcore.InfoLevel:
		return slog.LevelInfo
	case level == zapcore.WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func (a *app) networkMagic() (uint32, error) {
	if magic := a.v.GetUint32(keyNetworkMagic); magic != 0 {
		return magic, nil
	}
	network := nodeclient.NetworkByName(a.v.GetString(keyNetwork))
	if network == nodeclient.NetworkInvalid {
		return 0, fmt.Errorf("unknown network: %s", a.v.GetString(keyNetwork))
	}
	return network.NetworkMagic, nil
}

// peerAddress returns the peer to use for node-to-node commands: the address flag, then the
// first peer of the topology file, then the public relay of the network
func (a *app) peerAddress() (string, error) {
	if address := a.v.GetString(keyAddress); address != "" {
		return address, nil
	}
	if path := a.v.GetString(keyTopology); path != "" {
		topology, err := nodeclient.NewTopologyConfigFromFile(path)
		if err != nil {
			return "", fmt.Errorf("topology file: %w", err)
		}
		if peers := topology.PeerAddresses(); len(peers) > 0 {
			return peers[0], nil
		}
		return "", fmt.Errorf("topology file %s lists no peers", path)
	}
	magic, err := a.networkMagic()
	if err != nil {
		return "", err
	}
	if root := nodeclient.NetworkForMagic(magic).PublicRoot(); root != "" {
		return root, nil
	}
	return "", errors.New("no peer address: use --address or --topology")
}

func (a *app) connectionOptions(extra ...nodeclient.ConnectionOptionFunc) []nodeclient.ConnectionOptionFunc {
	return append(
		[]nodeclient.ConnectionOptionFunc{nodeclient.WithLogger(a.slogger)},
		extra...,
	)
}

// openSession connects to the local node when a socket is configured and to a peer otherwise
func (a *app) openSession(
	ctx context.Context,
	connOpts ...nodeclient.ConnectionOptionFunc,
) (*nodeclient.Session, error) {
	magic, err := a.networkMagic()
	if err != nil {
		return nil, err
	}
	opts := nodeclient.WithConnectionOptions(a.connectionOptions(connOpts...)...)
	if socket := a.v.GetString(keySocket); socket != "" {
		a.logger.Debug("connecting to local node", zap.String("socket", socket))
		return nodeclient.NewNodeSession(ctx, socket, magic, opts)
	}
	address, err := a.peerAddress()
	if err != nil {
		return nil, err
	}
	a.logger.Debug("connecting to peer", zap.String("address", address))
	return nodeclient.NewPeerSession(ctx, address, magic, opts)
}

// openNodeSession is like openSession but requires a local node
func (a *app) openNodeSession(ctx context.Context) (*nodeclient.Session, error) {
	if a.v.GetString(keySocket) == "" {
		return nil, errors.New("this command needs a local node: use --socket")
	}
	return a.openSession(ctx)
}

// openPeerSession is like openSession but always connects to a peer
func (a *app) openPeerSession(ctx context.Context) (*nodeclient.Session, error) {
	magic, err := a.networkMagic()
	if err != nil {
		return nil, err
	}
	address, err := a.peerAddress()
	if err != nil {
		return nil, err
	}
	return nodeclient.NewPeerSession(
		ctx,
		address,
		magic,
		nodeclient.WithConnectionOptions(a.connectionOptions()...),
	)
}

// commandContext bounds a one-shot command by the configured timeout
func (a *app) commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.v.GetDuration(keyTimeout))
}
