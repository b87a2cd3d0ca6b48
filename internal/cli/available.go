package cli

import (
	"fmt"
	"strings"

	"github.com/cobbzilla/mediagoblin/internal/cli/output"
	"github.com/cobbzilla/mediagoblin/internal/processing"
	"github.com/spf13/cobra"
)

var availableCmd = &cobra.Command{
	Use:   "available <entry-id>",
	Short: "List the actions an entry can be processed with",
	Args:  cobra.ExactArgs(1),
	RunE:  runAvailable,
}

var availableActionOnly bool

func init() {
	availableCmd.Flags().BoolVar(&availableActionOnly, "action-only", false, "Only print action names")
}

type actionInfo struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Params      []paramInfo `json:"params,omitempty"`
}

type paramInfo struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Help    string   `json:"help,omitempty"`
	Choices []string `json:"choices,omitempty"`
}

func runAvailable(cmd *cobra.Command, args []string) error {
	entry, m, err := loadEntry(cmd, args[0])
	if err != nil {
		return err
	}

	steps := m.Eligible(entry)
	actions := make([]actionInfo, 0, len(steps))
	for _, s := range steps {
		a := actionInfo{Name: s.Name(), Description: s.Description()}
		for _, p := range s.Params() {
			a.Params = append(a.Params, paramInfo{Name: p.Name, Type: string(p.Type), Help: p.Help, Choices: p.Choices})
		}
		actions = append(actions, a)
	}

	if printer.IsJSON() {
		return printer.JSON(actions)
	}
	if len(actions) == 0 {
		printer.Warn("No actions available for %s entry in state %s", entry.MediaType, entry.State)
		return nil
	}
	if availableActionOnly {
		for _, a := range actions {
			fmt.Fprintln(printer.Out(), a.Name)
		}
		return nil
	}

	table := output.NewTable(printer.Out(), []string{"ACTION", "DESCRIPTION", "PARAMS"}, quietMode)
	for _, a := range actions {
		table.Append(a.Name, a.Description, formatParams(a.Params))
	}
	table.Render()
	return nil
}

func formatParams(ps []paramInfo) string {
	parts := make([]string, 0, len(ps))
	for _, p := range ps {
		switch {
		case len(p.Choices) > 0:
			parts = append(parts, fmt.Sprintf("%s{%s}", p.Name, strings.Join(p.Choices, ",")))
		case p.Type == string(processing.ParamSize):
			parts = append(parts, "--"+p.Name+" W H")
		default:
			parts = append(parts, "--"+p.Name+" "+p.Type)
		}
	}
	return strings.Join(parts, " ")
}
