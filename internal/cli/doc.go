package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"tomorrow/api/internal/store"
)

// DocOptions holds flags for the doc commands.
type DocOptions struct {
	*RootOptions
	Raw   bool
	Limit int
}

func NewDocCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DocOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Inspect the persisted document",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the current document",
		Long: `Print the current document as the server would load it.

Password digests are blanked unless --raw is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := currentDocument(cmd, opts)
			if err != nil {
				return err
			}
			_, err = opts.Out.Write(payload)
			return err
		},
	}
	show.Flags().BoolVar(&opts.Raw, "raw", false, "keep password digests")

	get := &cobra.Command{
		Use:   "get <path>",
		Short: "Query the document with a gjson path",
		Long: `Query the document with a gjson path.

Examples:
  tomorrow doc get members.#.name
  tomorrow doc get 'prayers.#(status=="open")#.body'
  tomorrow doc get donations.#`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := currentDocument(cmd, opts)
			if err != nil {
				return err
			}
			result := gjson.GetBytes(payload, args[0])
			if !result.Exists() {
				return fmt.Errorf("path %q matched nothing", args[0])
			}
			_, err = fmt.Fprintln(opts.Out, result.String())
			return err
		},
	}

	health := &cobra.Command{
		Use:   "health",
		Short: "Load the document once and report persistence health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBackend(cmd.Context(), opts.RootOptions, nil)
			if err != nil {
				return err
			}
			defer b.Close()
			b.coord.Load(cmd.Context())
			return printJSON(opts.Out, b.coord.Health())
		},
	}

	history := &cobra.Command{
		Use:   "history",
		Short: "List recent revisions kept by the remote store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBackend(cmd.Context(), opts.RootOptions, nil)
			if err != nil {
				return err
			}
			defer b.Close()
			if b.history == nil {
				return fmt.Errorf("remote %q keeps no history", opts.Config.RemoteDriver)
			}
			revisions, err := b.history.History(cmd.Context(), opts.Limit)
			if err != nil {
				return err
			}
			return printJSON(opts.Out, revisions)
		},
	}
	history.Flags().IntVar(&opts.Limit, "limit", 20, "number of revisions")

	cmd.AddCommand(show, get, health, history)
	return cmd
}

func currentDocument(cmd *cobra.Command, opts *DocOptions) ([]byte, error) {
	b, err := openBackend(cmd.Context(), opts.RootOptions, nil)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	doc, _ := b.coord.Load(cmd.Context())
	if !opts.Raw {
		redact(&doc)
	}
	return store.Encode(doc)
}

// redact blanks password digests on copies of the account slices.
func redact(doc *store.Document) {
	doc.Admins = append([]store.Admin(nil), doc.Admins...)
	doc.Staff = append([]store.Staff(nil), doc.Staff...)
	for i := range doc.Admins {
		doc.Admins[i].PassHash = ""
	}
	for i := range doc.Staff {
		doc.Staff[i].PassHash = ""
	}
}

func printJSON(out io.Writer, v any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
