package runtime

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/charmbracelet/log"
)

// PushUsageHistory commits and pushes the usage CSV when it changed. The
// repository directory is the checkout holding the data directory; csvPath
// is relative to it. A clean diff is not an error.
func PushUsageHistory(ctx context.Context, repoDir, csvPath string) error {
	diff := exec.CommandContext(ctx, "git", "diff", "--quiet", csvPath)
	diff.Dir = repoDir
	if err := diff.Run(); err == nil {
		log.Info("Usage history unchanged, skipping git sync")
		return nil
	}

	steps := [][]string{
		{"git", "add", csvPath},
		{"git", "commit", "-m", fmt.Sprintf("Update usage history %s", time.Now().Format("2006-01-02"))},
		{"git", "push"},
	}

	for _, args := range steps {
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		cmd.Dir = repoDir
		if out, err := cmd.CombinedOutput(); err != nil {
			log.Error("Git sync step failed", "args", args, "output", string(out), "error", err)
			return err
		}
	}

	log.Info("Usage history pushed", "path", csvPath)
	return nil
}
