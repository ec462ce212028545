// =================================
// File: internal/trader/tasks.go
// =================================
package trader

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/rovshanmuradov/solana-trader/internal/position"
)

// EntryTask is one requested position from the tasks file.
type EntryTask struct {
	Name        string
	Mint        string
	SizeUsdc    float64
	SlippageBps int
	Plan        *position.ExitPlan
}

type tasksFile struct {
	Tasks []struct {
		Name          string  `yaml:"name"`
		Mint          string  `yaml:"mint"`
		SizeUsdc      float64 `yaml:"size_usdc"`
		SlippageBps   int     `yaml:"slippage_bps"`
		StopLossPct   float64 `yaml:"stop_loss_pct"`
		TakeProfitPct float64 `yaml:"take_profit_pct"`
	} `yaml:"tasks"`
}

func clampInt(val, min, max, def int) int {
	if val < min || val > max {
		return def
	}
	return val
}

// LoadTasks reads entry tasks from a YAML file, skipping entries that
// fail validation rather than aborting the whole run.
func LoadTasks(path string, defaultSlippageBps int, logger *zap.Logger) ([]*EntryTask, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read tasks file: %w", err)
	}

	var file tasksFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tasks file: %w", err)
	}
	if len(file.Tasks) == 0 {
		return nil, fmt.Errorf("no tasks found in %s", path)
	}

	tasks := make([]*EntryTask, 0, len(file.Tasks))
	for _, raw := range file.Tasks {
		if raw.Mint == "" || raw.SizeUsdc <= 0 {
			logger.Warn("Skipping task with missing mint or size",
				zap.String("name", raw.Name),
				zap.String("mint", raw.Mint))
			continue
		}

		task := &EntryTask{
			Name:        raw.Name,
			Mint:        raw.Mint,
			SizeUsdc:    raw.SizeUsdc,
			SlippageBps: clampInt(raw.SlippageBps, 1, 5000, defaultSlippageBps),
		}
		if raw.StopLossPct < 0 && raw.TakeProfitPct > 0 {
			task.Plan = &position.ExitPlan{
				StopLossPct:   raw.StopLossPct,
				TakeProfitPct: raw.TakeProfitPct,
			}
		}
		tasks = append(tasks, task)
	}

	if len(tasks) == 0 {
		return nil, fmt.Errorf("all tasks in %s were invalid", path)
	}
	return tasks, nil
}
