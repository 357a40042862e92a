// Package script loads user scripts, bundling module graphs into a single
// classic script the engines can evaluate.
package script

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// Bundle reads the script at entry. Scripts that import other modules, and
// TypeScript entry points, are bundled with esbuild into one IIFE. Plain
// scripts are returned unchanged.
func Bundle(entry string) (string, error) {
	source, err := os.ReadFile(entry)
	if err != nil {
		return "", fmt.Errorf("reading script: %w", err)
	}
	src := string(source)
	if !isTypeScript(entry) && !needsBundling(src) {
		return src, nil
	}

	abs, err := filepath.Abs(entry)
	if err != nil {
		return "", err
	}
	result := esbuild.Build(esbuild.BuildOptions{
		EntryPoints:   []string{abs},
		AbsWorkingDir: filepath.Dir(abs),
		Bundle:        true,
		Format:        esbuild.FormatIIFE,
		Write:         false,
		Platform:      esbuild.PlatformNeutral,
		Target:        esbuild.ES2020,
		LogLevel:      esbuild.LogLevelSilent,
	})

	if len(result.Errors) > 0 {
		var msgs []string
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return "", fmt.Errorf("bundling %s: %s", filepath.Base(entry), strings.Join(msgs, "; "))
	}
	if len(result.OutputFiles) == 0 {
		return "", fmt.Errorf("bundling produced no output")
	}
	return string(result.OutputFiles[0].Contents), nil
}

func isTypeScript(path string) bool {
	switch filepath.Ext(path) {
	case ".ts", ".mts", ".cts":
		return true
	}
	return false
}

// needsBundling reports whether source has import statements or require
// calls that must be resolved before evaluation.
func needsBundling(source string) bool {
	return strings.Contains(source, "import ") ||
		strings.Contains(source, "import{") ||
		strings.Contains(source, "import(") ||
		strings.Contains(source, "export ") ||
		strings.Contains(source, "require(")
}
