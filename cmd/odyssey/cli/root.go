package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the top-level command with the offline billing tools
// and the job helpers. Callers add commands that need live infrastructure.
func NewRootCmd(redisAddr string) *cobra.Command {
	root := &cobra.Command{
		Use:           "odyssey",
		Short:         "Professional services billing engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newQuoteCmd(),
		newNetCmd(),
		newNumberCmd(),
		newJobsCmd(redisAddr),
	)
	return root
}

func readJSON(path string, stdin io.Reader, dest any) error {
	var r io.Reader = stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("decode %s: %w", displayPath(path), err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func displayPath(path string) string {
	if path == "" || path == "-" {
		return "stdin"
	}
	return path
}
