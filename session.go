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

package nodeclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/blinklabs-io/nodeclient/ledger"
	"github.com/blinklabs-io/nodeclient/protocol"
	"github.com/blinklabs-io/nodeclient/protocol/blockfetch"
	"github.com/blinklabs-io/nodeclient/protocol/chainsync"
	"github.com/blinklabs-io/nodeclient/protocol/common"
	"github.com/blinklabs-io/nodeclient/protocol/localstatequery"
)

// DefaultBlockCacheSize is the number of fetched blocks a Session keeps by default
const DefaultBlockCacheSize = 64

const causeWaitTimeout = time.Second

type sessionConfig struct {
	connOptions    []ConnectionOptionFunc
	blockCacheSize int
}

// SessionOptionFunc is a type that represents functions that modify the Session config
type SessionOptionFunc func(*sessionConfig)

// WithConnectionOptions passes options through to the underlying Connection
func WithConnectionOptions(opts ...ConnectionOptionFunc) SessionOptionFunc {
	return func(c *sessionConfig) {
		c.connOptions = append(c.connOptions, opts...)
	}
}

// WithBlockCacheSize specifies how many fetched blocks to keep. A size of 0 disables the cache
func WithBlockCacheSize(size int) SessionOptionFunc {
	return func(c *sessionConfig) {
		c.blockCacheSize = size
	}
}

func newSessionConfig(opts []SessionOptionFunc) sessionConfig {
	cfg := sessionConfig{
		blockCacheSize: DefaultBlockCacheSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Session owns one Connection and the mini-protocol clients needed for a use case. Calls are
// serialized, and every call after Close returns ErrClosedHandle. Close does not wait for a call
// blocked on the peer, it unblocks it
type Session struct {
	mutex           sync.Mutex
	closed          atomic.Bool
	conn            *Connection
	chainSync       *chainsync.Client
	blockFetch      *blockfetch.Client
	localStateQuery *localstatequery.Client
	queryHandle     *localstatequery.QueryHandle
	blockCache      *lru.Cache[string, blockfetch.Block]
}

// NewNodeSession connects to a local node over its unix socket and prepares the chain-sync and
// local-state-query clients
func NewNodeSession(
	ctx context.Context,
	socketPath string,
	networkMagic uint32,
	opts ...SessionOptionFunc,
) (*Session, error) {
	cfg := newSessionConfig(opts)
	connOpts := append(
		[]ConnectionOptionFunc{
			WithNetworkMagic(networkMagic),
			WithNodeToNode(false),
		},
		cfg.connOptions...,
	)
	conn, err := dialConnection(ctx, "unix", socketPath, connOpts)
	if err != nil {
		return nil, err
	}
	return newSession(conn, cfg)
}

// NewPeerSession connects to a remote peer over TCP and prepares the chain-sync, block-fetch and
// keep-alive clients
func NewPeerSession(
	ctx context.Context,
	address string,
	networkMagic uint32,
	opts ...SessionOptionFunc,
) (*Session, error) {
	cfg := newSessionConfig(opts)
	connOpts := append(
		[]ConnectionOptionFunc{
			WithNetworkMagic(networkMagic),
			WithNodeToNode(true),
			WithKeepAlive(true),
		},
		cfg.connOptions...,
	)
	conn, err := dialConnection(ctx, "tcp", address, connOpts)
	if err != nil {
		return nil, err
	}
	return newSession(conn, cfg)
}

// NewSession builds a Session over an established Connection. The Session takes ownership of the
// Connection and closes it when the Session is closed or cannot be built
func NewSession(conn *Connection, opts ...SessionOptionFunc) (*Session, error) {
	return newSession(conn, newSessionConfig(opts))
}

func dialConnection(
	ctx context.Context,
	proto string,
	address string,
	connOpts []ConnectionOptionFunc,
) (*Connection, error) {
	conn, err := NewConnection(connOpts...)
	if err != nil {
		return nil, err
	}
	if err := conn.DialContext(ctx, proto, address); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func newSession(conn *Connection, cfg sessionConfig) (*Session, error) {
	s := &Session{
		conn: conn,
	}
	var err error
	if cfg.blockCacheSize > 0 {
		s.blockCache, err = lru.New[string, blockfetch.Block](cfg.blockCacheSize)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	if s.chainSync, err = conn.ChainSync(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if conn.NodeToNode() {
		s.blockFetch, err = conn.BlockFetch()
	} else {
		s.localStateQuery, err = conn.LocalStateQuery()
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// Connection returns the underlying connection
func (s *Session) Connection() *Connection {
	return s.conn
}

// Close ends the active mini-protocols and closes the connection. It is safe to call more than
// once. A call blocked on the peer returns ErrClosedHandle
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if !s.mutex.TryLock() {
		// A call holds the session while it waits on the peer. Tearing down the connection wakes it
		err := s.conn.Close()
		s.mutex.Lock()
		s.queryHandle = nil
		s.mutex.Unlock()
		return err
	}
	defer s.mutex.Unlock()
	s.queryHandle = nil
	// Ending the protocols is best effort, the connection goes away regardless
	if s.chainSync != nil {
		_ = s.chainSync.Stop()
	}
	if s.blockFetch != nil {
		_ = s.blockFetch.Stop()
	}
	if s.localStateQuery != nil {
		_ = s.localStateQuery.Stop()
	}
	return s.conn.Close()
}

// lock takes the session mutex unless the session is closed
func (s *Session) lock() error {
	if s.closed.Load() {
		return ErrClosedHandle
	}
	s.mutex.Lock()
	if s.closed.Load() {
		s.mutex.Unlock()
		return ErrClosedHandle
	}
	return nil
}

// wrapErr replaces the generic shutdown error with the reason the connection went away
func (s *Session) wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if s.closed.Load() {
		return ErrClosedHandle
	}
	if errors.Is(err, protocol.ErrProtocolShuttingDown) {
		// A protocol can notice the muxer going away just before the connection records why
		select {
		case <-s.conn.DoneChan():
			return s.conn.Err()
		case <-time.After(causeWaitTimeout):
		}
	}
	return err
}

// FindIntersect asks the peer for the first of the points on its chain. A nil point with a nil
// error means none was found
func (s *Session) FindIntersect(
	ctx context.Context,
	points []common.Point,
) (*common.Point, common.Tip, error) {
	if err := s.lock(); err != nil {
		return nil, common.Tip{}, err
	}
	defer s.mutex.Unlock()
	point, tip, err := s.chainSync.FindIntersect(ctx, points)
	return point, tip, s.wrapErr(err)
}

// Next returns the next chain update
func (s *Session) Next(ctx context.Context) (chainsync.NextOutcome, error) {
	if err := s.lock(); err != nil {
		return chainsync.NextOutcome{}, err
	}
	defer s.mutex.Unlock()
	outcome, err := s.chainSync.Next(ctx)
	return outcome, s.wrapErr(err)
}

// HasAgency returns whether the next call to Next sends a request. It does not wait for a call in
// progress
func (s *Session) HasAgency() (bool, error) {
	if s.closed.Load() {
		return false, ErrClosedHandle
	}
	return s.chainSync.HasAgency(), nil
}

// GetTip returns the peer's current tip. While an AwaitReply is outstanding the peer cannot be
// asked, so the last reported tip is returned instead
func (s *Session) GetTip(ctx context.Context) (common.Tip, error) {
	if err := s.lock(); err != nil {
		return common.Tip{}, err
	}
	defer s.mutex.Unlock()
	if s.chainSync.AgencyState().AwaitingReply {
		if tip := s.chainSync.Tip(); tip != nil {
			return *tip, nil
		}
		return common.Tip{}, chainsync.ErrAwaiting
	}
	tip, err := s.chainSync.GetCurrentTip(ctx)
	return tip, s.wrapErr(err)
}

// FetchBlock retrieves the block at the point. Recently fetched blocks are served from a cache
func (s *Session) FetchBlock(
	ctx context.Context,
	point common.Point,
) (blockfetch.Block, error) {
	if err := s.lock(); err != nil {
		return blockfetch.Block{}, err
	}
	defer s.mutex.Unlock()
	if s.blockFetch == nil {
		return blockfetch.Block{}, s.conn.notAvailable(blockfetch.ProtocolName)
	}
	key := point.String()
	if s.blockCache != nil {
		if block, ok := s.blockCache.Get(key); ok {
			return block, nil
		}
	}
	block, err := s.blockFetch.FetchSingle(ctx, point)
	if err != nil {
		return blockfetch.Block{}, s.wrapErr(err)
	}
	if s.blockCache != nil {
		s.blockCache.Add(key, block)
	}
	return block, nil
}

// Acquire acquires the ledger state at the point, or at the volatile tip when point is nil.
// Queries run against the acquired state until the next Acquire, Reacquire or Release
func (s *Session) Acquire(ctx context.Context, point *common.Point) error {
	return s.acquire(ctx, point, false)
}

// Reacquire replaces the acquired state without a release round trip
func (s *Session) Reacquire(ctx context.Context, point *common.Point) error {
	return s.acquire(ctx, point, true)
}

func (s *Session) acquire(ctx context.Context, point *common.Point, re bool) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mutex.Unlock()
	if s.localStateQuery == nil {
		return s.conn.notAvailable(localstatequery.ProtocolName)
	}
	s.queryHandle = nil
	var handle *localstatequery.QueryHandle
	var err error
	if re {
		handle, err = s.localStateQuery.Reacquire(ctx, point)
	} else {
		handle, err = s.localStateQuery.Acquire(ctx, point)
	}
	if err != nil {
		return s.wrapErr(err)
	}
	s.queryHandle = handle
	return nil
}

// Release releases the acquired state
func (s *Session) Release() error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mutex.Unlock()
	if s.localStateQuery == nil {
		return s.conn.notAvailable(localstatequery.ProtocolName)
	}
	s.queryHandle = nil
	return s.wrapErr(s.localStateQuery.Release())
}

// handle returns the current query handle. The session mutex must be held
func (s *Session) handle() (*localstatequery.QueryHandle, error) {
	if s.localStateQuery == nil {
		return nil, s.conn.notAvailable(localstatequery.ProtocolName)
	}
	if s.queryHandle == nil {
		return nil, localstatequery.ErrNotAcquired
	}
	return s.queryHandle, nil
}

// CurrentEra returns the era of the acquired ledger state
func (s *Session) CurrentEra(ctx context.Context) (uint, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mutex.Unlock()
	handle, err := s.handle()
	if err != nil {
		return 0, err
	}
	era, err := handle.CurrentEra(ctx)
	return era, s.wrapErr(err)
}

// GetUtxoByAddress returns the unspent outputs at the addresses in the acquired ledger state. The
// entries are left encoded
func (s *Session) GetUtxoByAddress(
	ctx context.Context,
	addrs []ledger.Address,
) (*localstatequery.UtxoResult, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mutex.Unlock()
	handle, err := s.handle()
	if err != nil {
		return nil, err
	}
	result, err := handle.GetUtxoByAddress(ctx, addrs)
	return result, s.wrapErr(err)
}

// ChainPoint returns the point the ledger state was acquired at
func (s *Session) ChainPoint(ctx context.Context) (common.Point, error) {
	if err := s.lock(); err != nil {
		return common.Point{}, err
	}
	defer s.mutex.Unlock()
	handle, err := s.handle()
	if err != nil {
		return common.Point{}, err
	}
	point, err := handle.ChainPoint(ctx)
	return point, s.wrapErr(err)
}

// ChainBlockNo returns the block number of the acquired ledger state
func (s *Session) ChainBlockNo(ctx context.Context) (uint64, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mutex.Unlock()
	handle, err := s.handle()
	if err != nil {
		return 0, err
	}
	blockNo, err := handle.ChainBlockNo(ctx)
	return blockNo, s.wrapErr(err)
}

// SystemStart returns the start time of the chain
func (s *Session) SystemStart(
	ctx context.Context,
) (*localstatequery.SystemStartResult, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mutex.Unlock()
	handle, err := s.handle()
	if err != nil {
		return nil, err
	}
	result, err := handle.SystemStart(ctx)
	return result, s.wrapErr(err)
}
