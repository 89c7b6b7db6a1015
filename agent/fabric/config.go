package fabric

import (
	"errors"
	"time"
)

// Config 通信层配置
type Config struct {
	AckTimeout        time.Duration `json:"ack_timeout" yaml:"ack_timeout"`
	ConsensusTimeout  time.Duration `json:"consensus_timeout" yaml:"consensus_timeout"`
	Quorum            float64       `json:"quorum" yaml:"quorum"`
	GossipFanout      int           `json:"gossip_fanout" yaml:"gossip_fanout"`
	GossipMaxHops     int           `json:"gossip_max_hops" yaml:"gossip_max_hops"`
	GossipSeenTTL     time.Duration `json:"gossip_seen_ttl" yaml:"gossip_seen_ttl"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	OfflineAfter      time.Duration `json:"offline_after" yaml:"offline_after"`
	MailboxSize       int           `json:"mailbox_size" yaml:"mailbox_size"`
	// Seed 固定随机源，0 表示按时间播种
	Seed uint64 `json:"seed" yaml:"seed"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		AckTimeout:        5 * time.Second,
		ConsensusTimeout:  30 * time.Second,
		Quorum:            0.67,
		GossipFanout:      3,
		GossipMaxHops:     3,
		GossipSeenTTL:     5 * time.Minute,
		HeartbeatInterval: 10 * time.Second,
		OfflineAfter:      30 * time.Second,
		MailboxSize:       100,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	var errs []error
	if c.AckTimeout <= 0 {
		errs = append(errs, errors.New("ack_timeout must be positive"))
	}
	if c.ConsensusTimeout <= 0 {
		errs = append(errs, errors.New("consensus_timeout must be positive"))
	}
	if c.Quorum <= 0 || c.Quorum > 1 {
		errs = append(errs, errors.New("quorum must be in (0,1]"))
	}
	if c.GossipFanout <= 0 {
		errs = append(errs, errors.New("gossip_fanout must be positive"))
	}
	if c.GossipMaxHops <= 0 {
		errs = append(errs, errors.New("gossip_max_hops must be positive"))
	}
	if c.GossipSeenTTL <= 0 {
		errs = append(errs, errors.New("gossip_seen_ttl must be positive"))
	}
	if c.HeartbeatInterval <= 0 || c.OfflineAfter <= 0 {
		errs = append(errs, errors.New("heartbeat_interval and offline_after must be positive"))
	}
	if c.MailboxSize <= 0 {
		errs = append(errs, errors.New("mailbox_size must be positive"))
	}
	return errors.Join(errs...)
}
