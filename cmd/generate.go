package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/studyforge/studyforge/config"
	"github.com/studyforge/studyforge/internal/extract"
	"github.com/studyforge/studyforge/internal/llm"
	"github.com/studyforge/studyforge/internal/pipeline"
	"github.com/studyforge/studyforge/internal/telemetry"
)

// generateCMD runs the pipeline once over a local file and prints the bundle
// as JSON, without the server, database, or cache.
func generateCMD() *cobra.Command {
	var cfgPath string
	var quizQuestions int
	var perTopic int

	var generate = &cobra.Command{
		Use:   "generate <file>",
		Short: "Generate a study bundle from a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)

			provider, err := llm.NewProvider(cfg.LLM)
			if err != nil {
				return err
			}
			tele := telemetry.NewTelemetry(cfg.Telemetry)
			logger := log.New(os.Stderr, "[GEN] ", log.LstdFlags)
			orch := pipeline.NewOrchestrator(cfg, logger, tele, provider, extract.NewRouter())

			path := args[0]
			doc := pipeline.Document{Name: filepath.Base(path), Path: path}
			opts := pipeline.Options{QuizQuestions: quizQuestions, FlashcardsPerTopic: perTopic}

			bundle, runErr := orch.Run(context.Background(), doc, opts)
			if bundle != nil {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(bundle); err != nil {
					return err
				}
			}
			if runErr != nil {
				return fmt.Errorf("run failed: %w", runErr)
			}
			return nil
		},
	}
	generate.Flags().IntVar(&quizQuestions, "quiz-questions", 0, "number of quiz questions (default from config)")
	generate.Flags().IntVar(&perTopic, "flashcards-per-topic", 0, "flashcards per topic (default from config)")
	generate.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return generate
}
