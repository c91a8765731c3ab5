package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lexiqai/clinic-gateway/internal/config"
	"github.com/lexiqai/clinic-gateway/internal/extraction"
	"github.com/lexiqai/clinic-gateway/internal/forms"
	"github.com/lexiqai/clinic-gateway/internal/observability"
)

func newExtractCommand() *cobra.Command {
	var (
		formType    string
		local       bool
		showFields  bool
		promptsPath string
	)

	cmd := &cobra.Command{
		Use:   "extract [transcript]",
		Short: "Extract structured form data from a transcript",
		Long: `Extract structured form data from a transcript given as arguments or on stdin.

By default the transcript is sent to the configured extraction endpoint. With
--local the language model (or demo responses) is called in-process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
			logger := observability.GetLogger()

			transcript := strings.Join(args, " ")
			if transcript == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read transcript: %w", err)
				}
				transcript = string(data)
			}

			kind := forms.Kind(formType)
			var result extraction.Result
			if local {
				svc, err := newAssistant(cfg, promptsPath, logger)
				if err != nil {
					return err
				}
				result, err = svc.Extract(cmd.Context(), transcript, kind)
				if err != nil {
					return err
				}
				if err := extraction.Validate(kind, map[string]any(result)); err != nil {
					return err
				}
			} else {
				result, err = newExtractionClient(cfg, logger).Extract(cmd.Context(), transcript, kind)
				if err != nil {
					return err
				}
			}

			out := map[string]any(result)
			if showFields {
				out, err = extraction.ScopeForm.Fields(kind, result)
				if err != nil {
					return err
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVarP(&formType, "form", "f", string(forms.KindMedicalHistory), "Form type, e.g. medical-history or discharge-form")
	cmd.Flags().BoolVar(&local, "local", false, "Call the language model in-process instead of the extraction endpoint")
	cmd.Flags().BoolVar(&showFields, "fields", false, "Print the form fields the result maps to instead of the raw result")
	cmd.Flags().StringVar(&promptsPath, "prompts", config.GetEnv("PROMPTS_FILE", ""), "YAML file overriding the built-in extraction prompts (with --local)")
	return cmd
}
