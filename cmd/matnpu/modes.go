package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/matnpu/pkg/matmul"
)

func modesCmd() *cli.Command {
	return &cli.Command{
		Name:  "modes",
		Usage: "List the supported element type combinations",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			t := newTable(lipgloss.Right, lipgloss.Left, lipgloss.Center)
			t.Table.Headers("Tag", "Mode", "A", "B", "C")
			for _, m := range matmul.SupportedModes() {
				tr := m.Triple()
				t.Row(false, strconv.Itoa(int(m)), m.String(), tr.A.String(), tr.B.String(), tr.C.String())
			}
			fmt.Println(t.Table.Render())
			return nil
		},
	}
}
