package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/wheelguard/internal/config"
)

var initForce bool

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default wheelguard configuration",
	Long:  "Creates ~/.wheelguard/ and writes wheelguard.yaml with the built-in\nlimits. Use --config to choose another location.",
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}

	content, err := defaultConfigYAML()
	if err != nil {
		return fmt.Errorf("generate default config: %w", err)
	}
	wrote, err := writeIfMissing(path, content)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !wrote {
		fmt.Fprintf(out, "%s already exists (use --force to overwrite).\n", path)
		return nil
	}
	fmt.Fprintln(out, "wheelguard init complete.")
	fmt.Fprintf(out, "\nCreated:\n  %s\n\n", path)
	fmt.Fprintln(out, "Verify:")
	fmt.Fprintf(out, "  wheelguard check %s\n", path)
	return nil
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

// defaultConfigYAML renders the built-in config with a short header.
func defaultConfigYAML() (string, error) {
	data, err := config.Marshal(config.DefaultConfig())
	if err != nil {
		return "", err
	}
	header := "# wheelguard configuration.\n" +
		"# limits.* hot-reload while serve is running; other sections need a restart.\n" +
		"# Validate edits with: wheelguard check\n\n"
	return header + string(data), nil
}
