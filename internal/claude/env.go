// Package claude runs worker conversations through the Claude CLI.
package claude

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Worker processes get a private TMPDIR. The shared temp directory can hold
// editor socket files that crash the CLI when --settings is passed.
var workerTmpDir = sync.OnceValue(func() string {
	dir := filepath.Join(os.TempDir(), "orchestra-claude")
	os.MkdirAll(dir, 0755)
	return dir
})

// SetCleanEnv points the command's TMPDIR at the private worker directory,
// leaving the rest of the environment as-is.
func SetCleanEnv(cmd *exec.Cmd) {
	env := make([]string, 0, len(os.Environ())+1)
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "TMPDIR=") {
			env = append(env, kv)
		}
	}
	cmd.Env = append(env, "TMPDIR="+workerTmpDir())
}
