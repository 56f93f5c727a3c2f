package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fclpkg/fclrecipe/pkg/workspace"
)

func (c *CLI) newLogsCmd() *cobra.Command {
	var lines int

	cmd := &cobra.Command{
		Use:   "logs [name]",
		Short: "Show the output of the external tools",
		Long: `Display the captured git and cmake output. Logs are named after the step
that produced them: source, configure, build and install.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			return c.runLogs(name, lines)
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to show")
	return cmd
}

func (c *CLI) runLogs(name string, lines int) error {
	layout, err := workspace.New(c.config.ProjectRoot)
	if err != nil {
		return err
	}
	logDir := layout.LogDir()

	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		c.printWarning("No logs found. Run a stage first.")
		return nil
	}

	var logFiles []string
	if name != "" {
		logFile := filepath.Join(logDir, name+".log")
		if _, err := os.Stat(logFile); os.IsNotExist(err) {
			return fmt.Errorf("no log found for %s", name)
		}
		logFiles = []string{logFile}
	} else {
		logFiles, err = listLogFiles(logDir)
		if err != nil {
			return err
		}
		if len(logFiles) == 0 {
			c.printWarning("No log files found")
			return nil
		}
	}

	for _, logFile := range logFiles {
		content, err := readLastNLines(logFile, lines)
		if err != nil {
			c.printError(fmt.Sprintf("Failed to display %s: %v", filepath.Base(logFile), err))
			continue
		}
		fmt.Fprintf(c.output, "\n=== %s ===\n", strings.TrimSuffix(filepath.Base(logFile), ".log"))
		fmt.Fprint(c.output, content)
	}
	return nil
}

// listLogFiles returns the .log files in logDir in lifecycle order
func listLogFiles(logDir string) ([]string, error) {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read log directory: %w", err)
	}

	order := map[string]int{"source": 0, "configure": 1, "build": 2, "install": 3}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".log" {
			files = append(files, filepath.Join(logDir, entry.Name()))
		}
	}
	sort.SliceStable(files, func(i, j int) bool {
		oi, iKnown := order[strings.TrimSuffix(filepath.Base(files[i]), ".log")]
		oj, jKnown := order[strings.TrimSuffix(filepath.Base(files[j]), ".log")]
		switch {
		case iKnown && jKnown:
			return oi < oj
		case iKnown != jKnown:
			return iKnown
		default:
			return files[i] < files[j]
		}
	})
	return files, nil
}

func readLastNLines(filename string, n int) (string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var allLines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		allLines = append(allLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if len(allLines) == 0 {
		return "", nil
	}

	start := 0
	if n > 0 && len(allLines) > n {
		start = len(allLines) - n
	}
	return strings.Join(allLines[start:], "\n") + "\n", nil
}
