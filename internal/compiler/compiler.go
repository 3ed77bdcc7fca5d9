// Package compiler implements the pre-invocation build step the
// Artifact Cache calls through session.Builder for WebAssembly-family
// languages (§4.5), grounded on the teacher's internal/compiler.Compiler:
// a disposable Docker container does the actual toolchain work, with the
// host only staging the script in and the artifact out via `docker cp`.
package compiler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
)

// Compiler builds a script into a deployable artifact using a
// per-language Docker image and build command.
type Compiler struct {
	images map[string]ImageSpec
}

// ImageSpec names the Docker image and in-container build command for
// one language family.
type ImageSpec struct {
	Image        string
	SourceFile   string // relative path the script is written to inside the container
	BuildCommand string // shell command run inside the container, producing OutputFile
	OutputFile   string // relative path of the compiled artifact to read back
}

// New creates a Compiler with the given per-language-family build specs
// (e.g. "wasm" -> an Emscripten/wasm-pack image).
func New(images map[string]ImageSpec) *Compiler {
	return &Compiler{images: images}
}

// Build implements session.Builder. It is also wired directly into the
// Dispatch Engine so a late Execute joins the same in-flight build
// (§4.7 step 3).
func (c *Compiler) Build(ctx context.Context, languageTitle, scriptContent string, compileOptions map[string]any) ([]byte, error) {
	family := languageTitle
	for i, r := range languageTitle {
		if r == '-' {
			family = languageTitle[:i]
			break
		}
	}

	spec, ok := c.images[family]
	if !ok {
		return nil, fmt.Errorf("compiler: no build image configured for %q", family)
	}

	workDir, err := os.MkdirTemp("", "controller-build-*")
	if err != nil {
		return nil, fmt.Errorf("compiler: create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	sourcePath := filepath.Join(workDir, spec.SourceFile)
	if err := os.MkdirAll(filepath.Dir(sourcePath), 0o755); err != nil {
		return nil, fmt.Errorf("compiler: stage source dir: %w", err)
	}
	if err := os.WriteFile(sourcePath, []byte(scriptContent), 0o644); err != nil {
		return nil, fmt.Errorf("compiler: stage source: %w", err)
	}

	containerName := "controller-build-" + uuid.New().String()

	createCmd := exec.CommandContext(ctx, "docker", "create", "--network", "none",
		"--name", containerName, spec.Image, "sh", "-c", spec.BuildCommand)
	if out, err := createCmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("compiler: docker create: %w: %s", err, out)
	}
	defer exec.Command("docker", "rm", "-f", containerName).Run()

	cpInCmd := exec.CommandContext(ctx, "docker", "cp", workDir+"/.", containerName+":/work/")
	if out, err := cpInCmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("compiler: docker cp in: %w: %s", err, out)
	}

	startCmd := exec.CommandContext(ctx, "docker", "start", "-a", containerName)
	if out, err := startCmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("compiler: build failed: %w: %s", err, out)
	}

	outPath := filepath.Join(workDir, "out", spec.OutputFile)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, fmt.Errorf("compiler: stage output dir: %w", err)
	}
	cpOutCmd := exec.CommandContext(ctx, "docker", "cp", containerName+":/work/"+spec.OutputFile, outPath)
	if out, err := cpOutCmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("compiler: docker cp out: %w: %s", err, out)
	}

	artifact, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("compiler: read artifact: %w", err)
	}
	return artifact, nil
}

// DefaultImages returns the build specs for the language families this
// controller knows how to compile ahead of invocation.
func DefaultImages() map[string]ImageSpec {
	return map[string]ImageSpec{
		"wasm": {
			Image:        "emscripten/emsdk:latest",
			SourceFile:   "main.c",
			BuildCommand: "emcc /work/main.c -o /work/out.wasm",
			OutputFile:   "out.wasm",
		},
		"webassembly": {
			Image:        "emscripten/emsdk:latest",
			SourceFile:   "main.c",
			BuildCommand: "emcc /work/main.c -o /work/out.wasm",
			OutputFile:   "out.wasm",
		},
	}
}
