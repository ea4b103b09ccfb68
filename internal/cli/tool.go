package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/binarymachines/mercury/internal/pipeline"
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/connector/registry"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/json"

	// Register every connector, the map stage and the schema sinks.
	_ "github.com/binarymachines/mercury/pkg/connector/destinations"
	_ "github.com/binarymachines/mercury/pkg/connector/sources"
	_ "github.com/binarymachines/mercury/pkg/schema"
)

// Tool describes one command line tool.
type Tool struct {
	Name    string
	Short   string
	Long    string
	Example string
	Args    cobra.PositionalArgs

	// Flags registers the tool's own flags.
	Flags func(cmd *cobra.Command)
	// Pipeline builds the pipeline from the tool's flags and arguments. It
	// is not called when --config names a descriptor file; a tool without
	// it requires one.
	Pipeline func(cmd *cobra.Command, args []string) (*config.Pipeline, error)
	// Adjust edits a pipeline read from a descriptor file.
	Adjust func(cmd *cobra.Command, args []string, p *config.Pipeline) error
	// After runs once the run has ended without failing.
	After func(ctx context.Context, d *pipeline.Descriptor, res *pipeline.RunResult) error
	// Commands are extra subcommands next to version and connectors.
	Commands []*cobra.Command
}

// Command builds the cobra command of t.
func Command(t Tool) *cobra.Command {
	flags := &Flags{}
	args := t.Args
	if args == nil {
		args = cobra.NoArgs
	}
	cmd := &cobra.Command{
		Use:     t.Name,
		Short:   heredoc.Doc(t.Short),
		Long:    heredoc.Doc(t.Long),
		Example: heredoc.Doc(t.Example),
		Args:    args,

		SilenceErrors: true,
		SilenceUsage:  true,

		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, t, flags, args)
		},
	}
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		c.PrintErrln(err)
		_ = c.Usage()
		return exit(ExitConfig, nil)
	})

	flags.addFlags(cmd)
	if t.Flags != nil {
		t.Flags(cmd)
	}
	cmd.AddCommand(versionCmd(t.Name), connectorsCmd())
	cmd.AddCommand(t.Commands...)
	return cmd
}

// Main runs the tool and returns its exit code.
func Main(t Tool) int {
	cmd := Command(t)
	err := cmd.ExecuteContext(context.Background())
	if err != nil {
		var ee *ExitError
		if !errors.As(err, &ee) || ee.Err != nil {
			cmd.PrintErrln("Error:", err)
		}
	}
	return codeOf(err)
}

func connectorsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "connectors",
		Short: "List the available source and sink connectors",
		Args:  cobra.NoArgs,

		ValidArgsFunction: cobra.NoFileCompletions,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog := registry.Catalog()
			if asJSON {
				data, err := json.MarshalIndent(catalog, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tKIND\tBOUNDED\tCAPABILITIES\tDESCRIPTION")
			for _, c := range catalog {
				bounded := "-"
				if c.Type == core.ConnectorTypeSource {
					bounded = fmt.Sprint(c.Bounded)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.Name, c.Type, bounded, strings.Join(c.Capabilities, ","), c.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the catalog as JSON, with each connector's settings")
	return cmd
}

// Stdout reports whether path names standard output.
func Stdout(path string) bool { return path == "" || path == "-" }

func writeFileOrStdout(cmd *cobra.Command, path string, data []byte) error {
	if Stdout(path) {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644) //nolint:gosec
}
