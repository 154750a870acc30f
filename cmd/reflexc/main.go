// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

// reflexc is the ahead-of-time rule compiler: it validates a YAML rule
// document against the system config and emits the executable artifact
// consumed by reflexd.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sensorlogic/reflex/pkg/compiler"
	"github.com/sensorlogic/reflex/pkg/config"
	"github.com/sensorlogic/reflex/pkg/rules"
	"github.com/sensorlogic/reflex/pkg/version"
)

var (
	reflexcCmd = &cobra.Command{
		Use:           "reflexc [command]",
		Short:         "Reflex rule compiler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	compileCmd = &cobra.Command{
		Use:   "compile",
		Short: "Compile a rule document into an executable artifact",
		RunE:  runCompile,
	}

	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Validate a rule document without emitting an artifact",
		RunE:  runValidate,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("reflexc %s\n", version.Full())
		},
	}

	rulesPath  string
	configPath string
	outputDir  string
)

func init() {
	reflexcCmd.AddCommand(compileCmd)
	reflexcCmd.AddCommand(validateCmd)
	reflexcCmd.AddCommand(versionCmd)

	for _, cmd := range []*cobra.Command{compileCmd, validateCmd} {
		cmd.Flags().StringVarP(&rulesPath, "rules", "r", "", "path to the rule document")
		cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the system config")
		_ = cmd.MarkFlagRequired("rules")
		_ = cmd.MarkFlagRequired("config")
	}
	compileCmd.Flags().StringVarP(&outputDir, "output", "o", "", "artifact output directory")
	_ = compileCmd.MarkFlagRequired("output")
}

func compileOptions(cfg *config.Config) compiler.Options {
	return compiler.Options{
		ValidSensors:      cfg.ValidSensors,
		SamplingPeriod:    cfg.SamplingPeriod(),
		MaxTemporalPoints: cfg.MaxTemporalPoints,
		Budgets: rules.GroupBudgets{
			MaxRules:       cfg.Compiler.MaxRulesPerGroup,
			MaxSourceLines: cfg.Compiler.MaxSourceLinesPerGroup,
		},
	}
}

func runCompile(*cobra.Command, []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	file, err := rules.ParseFile(rulesPath)
	if err != nil {
		return err
	}
	artifact, err := compiler.Compile(file, compileOptions(cfg))
	if err != nil {
		return err
	}
	for _, w := range artifact.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	if err := artifact.Write(outputDir); err != nil {
		return err
	}
	fmt.Printf("compiled %d rules into %d groups -> %s\n",
		len(artifact.Manifest.Rules), len(artifact.Document.Groups), outputDir)
	return nil
}

func runValidate(*cobra.Command, []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	file, err := rules.ParseFile(rulesPath)
	if err != nil {
		return err
	}
	opts := compileOptions(cfg)
	res := rules.Validate(file, rules.ValidationConfig{
		ValidSensors:      opts.ValidSensors,
		SamplingPeriod:    opts.SamplingPeriod,
		MaxTemporalPoints: opts.MaxTemporalPoints,
	})
	for _, w := range res.Warnings() {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	if err := res.Err(); err != nil {
		return err
	}
	fmt.Printf("%s: %d rules ok\n", rulesPath, len(file.Rules))
	return nil
}

func main() {
	if err := reflexcCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
