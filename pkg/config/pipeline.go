package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// pipelineFile mirrors the optional YAML overlay. Pointer fields keep
// unset keys from clobbering environment values.
type pipelineFile struct {
	Pipeline struct {
		StaleAfter        *time.Duration `yaml:"stale_after"`
		ReconcileInterval *time.Duration `yaml:"reconcile_interval"`
		StageTimeout      *time.Duration `yaml:"stage_timeout"`
		LockTTL           *time.Duration `yaml:"lock_ttl"`
		AutoAdvance       *bool          `yaml:"auto_advance"`
		BackfillWorkers   *int           `yaml:"backfill_workers"`
	} `yaml:"pipeline"`
}

// MergeFile overlays pipeline settings from a YAML file such as:
//
//	pipeline:
//	  stale_after: 10m
//	  auto_advance: true
func (p *PipelineConfig) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read pipeline config %s: %w", path, err)
	}
	return p.merge(data)
}

func (p *PipelineConfig) merge(data []byte) error {
	var file pipelineFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse pipeline config: %w", err)
	}

	overlay := file.Pipeline
	if overlay.StaleAfter != nil {
		p.StaleAfter = *overlay.StaleAfter
	}
	if overlay.ReconcileInterval != nil {
		p.ReconcileInterval = *overlay.ReconcileInterval
	}
	if overlay.StageTimeout != nil {
		p.StageTimeout = *overlay.StageTimeout
	}
	if overlay.LockTTL != nil {
		p.LockTTL = *overlay.LockTTL
	}
	if overlay.AutoAdvance != nil {
		p.AutoAdvance = *overlay.AutoAdvance
	}
	if overlay.BackfillWorkers != nil {
		p.BackfillWorkers = *overlay.BackfillWorkers
	}
	return nil
}
