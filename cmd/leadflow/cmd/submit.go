package cmd

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/config"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/envelope"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Post a batch of envelopes to a stage route",
	Long: `Reads a JSON array of envelopes from --file (or stdin with "-") and posts it
to the route of --stage on a running service. The acknowledgement text is
printed on success.`,
	Example: `  leadflow submit --stage ingestion --file leads.json
  cat leads.json | leadflow submit --stage ingestion --file -
  leadflow submit --stage scoring --file research.json --url http://leadflow:8000`,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().String("stage", string(envelope.StageIngestion), "target stage: ingestion, scoring, active_outreach, nurture or send")
	submitCmd.Flags().String("file", "-", "JSON file holding the envelope array, - for stdin")
	submitCmd.Flags().String("url", "http://localhost:8000", "base URL of the service")
	submitCmd.Flags().Duration("timeout", 30*time.Second, "request timeout")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	stageName, _ := cmd.Flags().GetString("stage")
	file, _ := cmd.Flags().GetString("file")
	baseURL, _ := cmd.Flags().GetString("url")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	stage, err := envelope.ParseStage(stageName)
	if err != nil {
		return err
	}
	route, ok := submitPipeline(cmd).Stage(stage)
	if !ok {
		return fmt.Errorf("no route for stage %q", stage)
	}

	var body []byte
	if file == "-" {
		body, err = io.ReadAll(cmd.InOrStdin())
	} else {
		body, err = os.ReadFile(file)
	}
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	// Validate locally so a typo fails before it reaches the service.
	if _, err := envelope.DecodeBatch(body, stage); err != nil {
		return err
	}

	client := &http.Client{Timeout: timeout}
	url := strings.TrimRight(baseURL, "/") + route.Route
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to submit: %w", err)
	}
	defer resp.Body.Close()

	reply, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("submit failed: %s: %s", resp.Status, strings.TrimSpace(string(reply)))
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(reply)))
	return nil
}

// submitPipeline returns the configured routes, or the defaults when no
// usable config is found.
func submitPipeline(cmd *cobra.Command) config.PipelineConfig {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: could not load config, using default routes: %v\n", err)
		return config.DefaultPipeline()
	}
	return cfg.Pipeline
}
