package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fclpkg/fclrecipe/pkg/types"
)

// PatchOutcome reports what ApplyPatch did
type PatchOutcome int

const (
	PatchApplied PatchOutcome = iota
	// PatchAlreadyApplied means the replacement was present and the target absent
	PatchAlreadyApplied
)

func (o PatchOutcome) String() string {
	if o == PatchAlreadyApplied {
		return "already applied"
	}
	return "applied"
}

// ApplyPatch replaces every occurrence of p.Search in the file below root.
// Re-applying a patch is a no-op; a file that has neither the target nor the
// replacement fails with ErrPatchTargetMissing.
func ApplyPatch(root string, p types.Patch) (PatchOutcome, error) {
	path := filepath.Join(root, filepath.FromSlash(p.File))
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrPatchTargetMissing, p.File, err)
	}
	content := string(data)

	// An appending patch keeps its target, so the replacement decides
	if p.Replace != "" && strings.Contains(p.Replace, p.Search) && strings.Contains(content, p.Replace) {
		return PatchAlreadyApplied, nil
	}

	if strings.Contains(content, p.Search) {
		info, err := os.Stat(path)
		if err != nil {
			return 0, err
		}
		patched := strings.ReplaceAll(content, p.Search, p.Replace)
		if err := os.WriteFile(path, []byte(patched), info.Mode().Perm()); err != nil {
			return 0, fmt.Errorf("failed to write %s: %w", p.File, err)
		}
		return PatchApplied, nil
	}

	if p.Replace != "" && strings.Contains(content, p.Replace) {
		return PatchAlreadyApplied, nil
	}

	return 0, fmt.Errorf("%w: %q not found in %s", ErrPatchTargetMissing, firstLine(p.Search), p.File)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + "..."
	}
	return s
}
