// Package main provides the replay command.
package main

import (
	"fmt"
	"os"

	"github.com/vinayprograms/taskloop/internal/replay"
)

// Run prints the timeline of a recorded thread.
func (c *ReplayCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	sess, err := replay.Load(cfg.WorkspacePath(cfg.Engine.ThreadDir), c.Thread)
	if err != nil {
		return err
	}
	return replay.New(os.Stdout, c.Verbose, replay.WithMaxContentSize(c.MaxContent)).Replay(sess)
}
