package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"kwait/internal/ktimer"
	"kwait/internal/object"
	"kwait/internal/scenario"
	"kwait/internal/snapshot"
)

// treeNameWidth caps the rendered name column; longer names are truncated
// with an ellipsis so states stay aligned.
const treeNameWidth = 40

var treeCmd = &cobra.Command{
	Use:   "tree [flags] <scenario.toml>",
	Short: "Show the object tree a scenario declares",
	Long:  `Build the objects a scenario declares, print the resulting tree, and optionally save it as a msgpack snapshot`,
	Args:  cobra.ExactArgs(1),
	RunE:  showTree,
}

func init() {
	treeCmd.Flags().String("out", "", "write a msgpack snapshot to this path")
	treeCmd.Flags().String("in", "", "render a previously saved snapshot instead of a scenario")
}

func showTree(cmd *cobra.Command, args []string) error {
	outPath, err := cmd.Flags().GetString("out")
	if err != nil {
		return fmt.Errorf("failed to get out flag: %w", err)
	}
	inPath, err := cmd.Flags().GetString("in")
	if err != nil {
		return fmt.Errorf("failed to get in flag: %w", err)
	}

	var root *snapshot.Node
	if inPath != "" {
		root, err = snapshot.Load(inPath)
		if err != nil {
			return err
		}
	} else {
		root, err = captureScenario(args[0])
		if err != nil {
			return err
		}
	}

	renderNode(cmd.OutOrStdout(), root, 0)
	if outPath != "" {
		if err := snapshot.Save(outPath, root); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "snapshot written to %s\n", outPath)
	}
	return nil
}

func captureScenario(path string) (*snapshot.Node, error) {
	cfg, err := scenario.Load(path)
	if err != nil {
		return nil, err
	}
	wheel := ktimer.NewWheel()
	defer wheel.Close()
	tree, err := object.New(object.Config{Wheel: wheel})
	if err != nil {
		return nil, err
	}
	release, err := scenario.Declare(tree, cfg)
	if err != nil {
		return nil, err
	}
	defer release()
	return snapshot.Capture(tree), nil
}

func renderNode(out io.Writer, n *snapshot.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	name := runewidth.Truncate(n.Name, treeNameWidth, "…")
	pad := treeNameWidth - runewidth.StringWidth(name) - len(indent)
	if pad < 1 {
		pad = 1
	}
	stateColor := color.New(color.FgYellow)
	if n.State == "signaled" || n.State == "signaled-for-one" {
		stateColor = color.New(color.FgGreen)
	}
	fmt.Fprintf(out, "%s%s%s%s %s refs=%d\n",
		indent, name, strings.Repeat(" ", pad), n.Kind, stateColor.Sprint(n.State), n.Refs)
	for _, c := range n.Children {
		renderNode(out, c, depth+1)
	}
}
