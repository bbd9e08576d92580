package policy

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// readBundle collects the policy modules of a bundle directory, recursing
// into department subdirectories. Modules are keyed by their path relative
// to dir so two departments may both ship an access.rego. Rego unit tests
// (*_test.rego) are skipped.
func readBundle(dir string) (map[string]string, error) {
	modules := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != dir && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(name) != ".rego" || strings.HasSuffix(name, "_test.rego") {
			return nil
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		modules[filepath.ToSlash(rel)] = string(src)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return modules, nil
}
