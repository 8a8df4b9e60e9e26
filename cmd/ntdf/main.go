package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arkavo-org/ntdf-go/internal/version"
)

// resolveServerURL returns the authority URL from the flag or the
// NTDF_SERVER_URL env var. Prints a warning to stderr when falling
// back to the env var. Returns an error if neither is set.
func resolveServerURL(cmd *cobra.Command, flagValue string) (string, error) {
	normalize := func(v string) string {
		for len(v) > 0 && v[len(v)-1] == '/' {
			v = v[:len(v)-1]
		}
		return v
	}
	if cmd.Flags().Changed("server") {
		return normalize(flagValue), nil
	}
	if v := os.Getenv("NTDF_SERVER_URL"); v != "" {
		fmt.Fprintf(os.Stderr, "ntdf: WARNING: using server URL from NTDF_SERVER_URL environment variable\n")
		return normalize(v), nil
	}
	return "", fmt.Errorf("server URL required: use --server flag or set NTDF_SERVER_URL")
}

// resolveAccessToken returns the subject access token from the flag or
// the NTDF_ACCESS_TOKEN env var.
func resolveAccessToken(cmd *cobra.Command, flagValue string) (string, error) {
	if cmd.Flags().Changed("token") {
		return flagValue, nil
	}
	if v := os.Getenv("NTDF_ACCESS_TOKEN"); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("access token required: use --token flag or set NTDF_ACCESS_TOKEN")
}

func main() {
	rootCmd := &cobra.Command{
		Use:     "ntdf",
		Short:   "ntdf - nested authorization chains and proof-bound requests",
		Version: version.Version,
	}
	rootCmd.SetVersionTemplate(version.String("ntdf") + "\n")

	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newChainCmd())
	rootCmd.AddCommand(newAuthorizeCmd())
	rootCmd.AddCommand(newProofCmd())
	rootCmd.AddCommand(newCallCmd())
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newValidateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
