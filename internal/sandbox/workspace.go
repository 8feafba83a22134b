package sandbox

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

func newExecID(req ExecutionRequest) string {
	if req.ExecID != "" {
		return req.ExecID
	}
	return uuid.New().String()
}

// stageCode writes the source into a fresh host directory that is later
// mounted read-only at /workspace. The sandbox user must be able to read it.
func stageCode(p *prepared) (string, error) {
	dir, err := os.MkdirTemp("", "sandbox-"+p.ExecID+"-*")
	if err != nil {
		return "", fmt.Errorf("creating workspace: %w", err)
	}
	if err := os.Chmod(dir, 0o755); err != nil { // #nosec G302 -- sandbox runs as nobody (UID 65534)
		_ = os.RemoveAll(dir)
		return "", err
	}

	codeFile := filepath.Join(dir, p.lang.SourceFile)
	if err := os.WriteFile(codeFile, []byte(p.Code), 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("writing code: %w", err)
	}
	if err := os.Chmod(codeFile, 0o444); err != nil { // #nosec G302 -- sandbox runs as nobody (UID 65534)
		_ = os.RemoveAll(dir)
		return "", err
	}
	return dir, nil
}

func containerCodePath(p *prepared) string {
	return workspaceDir + "/" + p.lang.SourceFile
}
