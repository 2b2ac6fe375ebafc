// Package gossip runs an optional memberlist cluster so the registry learns
// about departing workers faster than the probe interval allows.
package gossip

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"
)

// LeaveFunc is invoked with the member name when a peer leaves or is declared dead
type LeaveFunc func(name string)

// Config holds gossip protocol configuration
type Config struct {
	Name     string
	BindAddr string
	BindPort int
	// Meta is advertised to peers, typically the node's endpoint
	Meta []byte
}

// Service manages cluster membership
type Service struct {
	memberlist *memberlist.Memberlist
	name       string
	meta       []byte
	onLeave    LeaveFunc
	logger     *zap.Logger
}

// NewService creates a memberlist member. onLeave may be nil.
func NewService(cfg Config, onLeave LeaveFunc, logger *zap.Logger) (*Service, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("gossip member name is required")
	}

	s := &Service{
		name:    cfg.Name,
		meta:    cfg.Meta,
		onLeave: onLeave,
		logger:  logger.With(zap.String("member", cfg.Name)),
	}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = cfg.Name
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	mlConfig.Delegate = s
	mlConfig.Events = &eventDelegate{service: s}
	mlConfig.LogOutput = nil
	mlConfig.Logger = zap.NewStdLog(logger.Named("memberlist"))

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	s.memberlist = ml

	s.logger.Info("Gossip member started", zap.String("addr", s.Addr()))
	return s, nil
}

// Join contacts the seed members. Partial failure is logged, total failure returned.
func (s *Service) Join(seeds []string) (int, error) {
	if len(seeds) == 0 {
		return 0, nil
	}
	n, err := s.memberlist.Join(seeds)
	if err != nil && n == 0 {
		return 0, fmt.Errorf("failed to join gossip seeds: %w", err)
	}
	if err != nil {
		s.logger.Warn("Failed to join some seed nodes", zap.Error(err))
	}
	return n, nil
}

// Addr returns the host:port peers should use to join this member
func (s *Service) Addr() string {
	node := s.memberlist.LocalNode()
	return net.JoinHostPort(node.Addr.String(), strconv.Itoa(int(node.Port)))
}

// Members returns the names of all live members, including this one
func (s *Service) Members() []string {
	members := s.memberlist.Members()
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.Name)
	}
	return names
}

// Leave broadcasts a graceful departure and shuts the member down
func (s *Service) Leave(timeout time.Duration) error {
	if err := s.memberlist.Leave(timeout); err != nil {
		s.logger.Warn("Gossip leave did not complete", zap.Error(err))
	}
	return s.memberlist.Shutdown()
}

// Shutdown stops the member without announcing a departure
func (s *Service) Shutdown() error {
	return s.memberlist.Shutdown()
}

// NodeMeta implements memberlist.Delegate
func (s *Service) NodeMeta(limit int) []byte {
	if len(s.meta) > limit {
		return s.meta[:limit]
	}
	return s.meta
}

// NotifyMsg implements memberlist.Delegate
func (s *Service) NotifyMsg(data []byte) {}

// GetBroadcasts implements memberlist.Delegate
func (s *Service) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState implements memberlist.Delegate
func (s *Service) LocalState(join bool) []byte {
	return nil
}

// MergeRemoteState implements memberlist.Delegate
func (s *Service) MergeRemoteState(buf []byte, join bool) {}

// eventDelegate handles memberlist events
type eventDelegate struct {
	service *Service
}

// NotifyJoin is called when a node joins
func (d *eventDelegate) NotifyJoin(node *memberlist.Node) {
	d.service.logger.Info("Node joined",
		zap.String("node_id", node.Name),
		zap.String("addr", node.Addr.String()),
		zap.ByteString("meta", node.Meta))
}

// NotifyLeave is called when a node leaves or is declared dead
func (d *eventDelegate) NotifyLeave(node *memberlist.Node) {
	d.service.logger.Info("Node left", zap.String("node_id", node.Name))

	if node.Name == d.service.name || d.service.onLeave == nil {
		return
	}
	d.service.onLeave(node.Name)
}

// NotifyUpdate is called when a node is updated
func (d *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	d.service.logger.Debug("Node updated", zap.String("node_id", node.Name))
}
