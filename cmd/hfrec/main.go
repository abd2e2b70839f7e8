// Package main implements the hfrec CLI: guideline recommendations for
// heart failure clinical notes, without running the HTTP server.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hf-guideline-server/internal/domain"
	"github.com/hf-guideline-server/internal/extract"
	"github.com/hf-guideline-server/internal/guideline"
	"github.com/hf-guideline-server/internal/service"
)

var (
	guidelinePath string
	separator     string
	asJSON        bool
	version       = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hfrec",
	Short: "Heart failure guideline recommendations from clinical text",
	Long: `hfrec extracts a structured patient record from free-text heart
failure notes, matches it against the encoded 2022 AHA/ACC/HFSA Chapter 7
rules, and prints evidence-graded treatment recommendations.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&guidelinePath, "guidelines", "", "path to a guideline rules file (default: embedded edition)")
	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(rulesCmd)
}

var recommendCmd = &cobra.Command{
	Use:   "recommend [file]",
	Short: "Process a single clinical note",
	Long: `Process one clinical note and print the recommendation report.
The note is read from the file argument, or from stdin when the argument
is omitted or is "-".

Examples:
  hfrec recommend note.txt
  cat note.txt | hfrec recommend
  hfrec recommend --json note.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRecommend,
}

var batchCmd = &cobra.Command{
	Use:   "batch [file]",
	Short: "Process several notes separated by marker lines",
	Long: `Process a file containing several independent notes, split on lines
consisting solely of the separator. Each note succeeds or fails on its own.

Examples:
  hfrec batch notes.txt
  hfrec batch --separator === notes.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBatch,
}

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Extract the structured field map without matching",
	Long: `Run extraction only and print the recognized fields as JSON, with
confidence and source spans. Useful for debugging what the pipeline sees
in a note.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExtract,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive session: paste notes, get reports",
	Long: `Read notes interactively. Finish a note with an empty line; type
"exit" or "quit" to leave. When mandatory fields are missing the session
names them and asks for more detail instead of aborting.`,
	RunE: runChat,
}

var rulesCmd = &cobra.Command{
	Use:   "rules [file]",
	Short: "Write the bundled guideline rules to disk",
	Long: `Write the embedded guideline edition as JSON, either to the given
file or to stdout. Edit the copy and load it back with --guidelines or the
server's reload endpoint.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRules,
}

func init() {
	recommendCmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON instead of the report text")
	batchCmd.Flags().StringVar(&separator, "separator", "---", "note separator line")
}

// newPipeline builds a store-less pipeline for one-off CLI runs.
func newPipeline() (*service.Pipeline, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	var doc *guideline.Document
	var err error
	if guidelinePath == "" {
		doc, err = guideline.ParseEmbedded()
	} else {
		doc, err = guideline.ParseFile(guidelinePath)
	}
	if err != nil {
		return nil, err
	}
	return service.NewPipeline(logger, guideline.NewLibrary(logger, doc), service.Options{}), nil
}

// readInput reads the note from the file argument, or stdin for "-" or no
// argument.
func readInput(args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func runRecommend(cmd *cobra.Command, args []string) error {
	text, err := readInput(args)
	if err != nil {
		return err
	}

	pipeline, err := newPipeline()
	if err != nil {
		return err
	}

	result, err := pipeline.Process(context.Background(), text)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Println(result.Report.Text)
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	text, err := readInput(args)
	if err != nil {
		return err
	}

	pipeline, err := newPipeline()
	if err != nil {
		return err
	}

	items := pipeline.ProcessBatch(context.Background(), text, separator)
	if len(items) == 0 {
		return fmt.Errorf("no notes found in input")
	}

	failed := 0
	for _, item := range items {
		fmt.Printf("===== NOTE %d =====\n", item.Index+1)
		if item.Err != nil {
			failed++
			fmt.Printf("SKIPPED: %v\n\n", item.Err)
			continue
		}
		fmt.Println(item.Result.Report.Text)
		fmt.Println()
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d notes skipped\n", failed, len(items))
	}
	return nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	text, err := readInput(args)
	if err != nil {
		return err
	}

	fields, warnings := extract.New().Extract(text)
	out := struct {
		Fields   domain.FieldMap  `json:"fields"`
		Warnings []domain.Warning `json:"warnings,omitempty"`
	}{Fields: fields, Warnings: warnings}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runChat(cmd *cobra.Command, args []string) error {
	pipeline, err := newPipeline()
	if err != nil {
		return err
	}

	fmt.Printf("hfrec interactive session (guideline edition %s)\n", pipeline.Edition())
	fmt.Println("Paste a clinical note, finish with an empty line. Type \"exit\" to quit.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("\nnote> ")
		note, done := readNote(scanner)
		if done {
			fmt.Println("Bye.")
			return nil
		}
		if note == "" {
			continue
		}

		result, err := pipeline.Process(context.Background(), note)
		if err != nil {
			var failure *domain.ValidationFailure
			if errors.As(err, &failure) {
				fmt.Printf("Not enough data yet. Still missing: %s.\n", strings.Join(failure.MissingFields, ", "))
				fmt.Println("Add the missing details and paste the note again.")
				continue
			}
			return err
		}
		fmt.Println()
		fmt.Println(result.Report.Text)
	}
}

// readNote collects lines until an empty line or EOF. Returns done=true on
// EOF or an exit command.
func readNote(scanner *bufio.Scanner) (string, bool) {
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if len(lines) == 0 {
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "exit", "quit":
				return "", true
			}
		}
		if strings.TrimSpace(line) == "" {
			return strings.TrimSpace(strings.Join(lines, "\n")), false
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), len(lines) == 0
}

func runRules(cmd *cobra.Command, args []string) error {
	data := guideline.EmbeddedRules()
	if len(args) == 0 {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(args[0], data, 0o644); err != nil {
		return err
	}
	fmt.Printf("Wrote %d bytes to %s\n", len(data), args[0])
	return nil
}
