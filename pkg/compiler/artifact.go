// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

package compiler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sensorlogic/reflex/pkg/program"
)

// Write emits the artifact into dir: program.json and manifest.json. The
// JSON is deterministic, so recompiling an unchanged document produces
// byte-identical files.
func (a *Artifact) Write(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("artifact dir error `%s`: %w", dir, err)
	}
	if err := writeJSON(filepath.Join(dir, program.ProgramFileName), &a.Document); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, program.ManifestFileName), &a.Manifest)
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact encode error `%s`: %w", path, err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("artifact write error `%s`: %w", path, err)
	}
	return nil
}
