package internal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Create a build.go skeleton",
	Long:  `Init writes a minimal build.go into the given directory (default: current).`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

const buildTemplate = `package main

import "github.com/bpp-build/bpp"

func main() {
	bpp.Run(configure)
}

func configure(b *bpp.Build) {
	exe := b.AddExe(bpp.ExeOptions{
		Name: "app",
		Desc: "Main application",
	}, "main.cpp")
	b.InstallExe(exe)
}
`

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, "build.go")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.WriteFile(path, []byte(buildTemplate), 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	fmt.Println("next: go build -o b . && ./b app")
	return nil
}
