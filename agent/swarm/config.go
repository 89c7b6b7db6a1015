package swarm

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/swarmflow/agent/fabric"
	"github.com/BaSui01/swarmflow/agent/queen"
	"github.com/BaSui01/swarmflow/agent/scheduler"
)

// Config 蜂群实例配置
type Config struct {
	Objective          string           `json:"objective" yaml:"objective"`
	MaxWorkers         int              `json:"max_workers" yaml:"max_workers"`
	ConsensusAlgorithm fabric.Algorithm `json:"consensus_algorithm" yaml:"consensus_algorithm"`
	QueenType          queen.Type       `json:"queen_type" yaml:"queen_type"`
	AutoScale          bool             `json:"auto_scale" yaml:"auto_scale"`
	AutoScaleInterval  time.Duration    `json:"auto_scale_interval" yaml:"auto_scale_interval"`
	// CheckpointInterval 0 表示只在结束时保存检查点
	CheckpointInterval time.Duration `json:"checkpoint_interval" yaml:"checkpoint_interval"`
	// Seed 固定 queen 与 gossip 的随机源，0 表示按时间播种
	Seed uint64 `json:"seed" yaml:"seed"`

	Fabric    fabric.Config    `json:"fabric" yaml:"fabric"`
	Scheduler scheduler.Config `json:"scheduler" yaml:"scheduler"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxWorkers:         8,
		ConsensusAlgorithm: fabric.AlgorithmMajority,
		QueenType:          queen.TypeStrategic,
		AutoScaleInterval:  15 * time.Second,
		CheckpointInterval: time.Minute,
		Fabric:             fabric.DefaultConfig(),
		Scheduler:          scheduler.DefaultConfig(),
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Objective) == "" {
		errs = append(errs, errors.New("objective is required"))
	}
	if c.MaxWorkers <= 0 {
		errs = append(errs, errors.New("max_workers must be positive"))
	}
	if c.ConsensusAlgorithm != "" && !c.ConsensusAlgorithm.Valid() {
		errs = append(errs, fmt.Errorf("unknown consensus algorithm %q", c.ConsensusAlgorithm))
	}
	if c.QueenType != "" && !c.QueenType.Valid() {
		errs = append(errs, fmt.Errorf("unknown queen type %q", c.QueenType))
	}
	if c.AutoScale && c.AutoScaleInterval <= 0 {
		errs = append(errs, errors.New("auto_scale_interval must be positive when auto_scale is on"))
	}
	if c.CheckpointInterval < 0 {
		errs = append(errs, errors.New("checkpoint_interval must not be negative"))
	}
	if err := c.Fabric.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("fabric: %w", err))
	}
	sc := c.Scheduler
	sc.MaxWorkers = c.MaxWorkers
	if err := sc.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}
	return errors.Join(errs...)
}

// withDefaults 填充可省略的字段
func (c Config) withDefaults() Config {
	if c.ConsensusAlgorithm == "" {
		c.ConsensusAlgorithm = fabric.AlgorithmMajority
	}
	if c.QueenType == "" {
		c.QueenType = queen.TypeStrategic
	}
	c.Scheduler.MaxWorkers = c.MaxWorkers
	if c.Seed != 0 && c.Fabric.Seed == 0 {
		c.Fabric.Seed = c.Seed
	}
	return c
}
