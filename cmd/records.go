package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/spigell/pitch-analyst/internal/logger"
	"github.com/spigell/pitch-analyst/internal/store"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect stored pitch records",
	Run: func(cmd *cobra.Command, _ []string) {
		records(cmd)
	},
}

func init() {
	rootCmd.AddCommand(recordsCmd)

	recordsCmd.Flags().StringP("participant", "p", "", "print the record of this participant")
	recordsCmd.Flags().StringP("output", "o", "yaml", "output format: yaml or json")
	recordsCmd.Flags().BoolP("all", "a", false, "print every record instead of picking one")
}

func records(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	format, _ := cmd.Flags().GetString("output")
	if format != "yaml" && format != "json" {
		logger.Fatal("unsupported output format", zap.String("output", format))
	}

	repo, err := store.NewSQLite(config.Store.Path)
	if err != nil {
		logger.Fatal("opening record store", zap.Error(err), zap.String("path", config.Store.Path))
	}
	defer repo.Close()

	if participant, _ := cmd.Flags().GetString("participant"); participant != "" {
		record, err := repo.GetRecord(ctx, participant)
		if err != nil {
			logger.Fatal("reading record", zap.Error(err))
		}
		if record == nil {
			logger.Fatal("record not found", zap.String("participant_id", participant))
		}
		if err := renderRecords(os.Stdout, format, record); err != nil {
			logger.Fatal("printing record", zap.Error(err))
		}
		return
	}

	list, err := repo.ListRecords(ctx)
	if err != nil {
		logger.Fatal("listing records", zap.Error(err))
	}

	if len(list) == 0 {
		logger.Info("exiting", zap.String("reason", "no records found"))
		return
	}

	if all, _ := cmd.Flags().GetBool("all"); all {
		if err := renderRecords(os.Stdout, format, list); err != nil {
			logger.Fatal("printing records", zap.Error(err))
		}
		return
	}

	labels := make([]string, 0, len(list))
	for _, r := range list {
		labels = append(labels, recordLabel(r))
	}

	picker := promptui.Select{
		Label: "Select a record",
		Items: labels,
		Size:  10,
		Searcher: func(input string, index int) bool {
			return strings.Contains(strings.ToLower(labels[index]), strings.ToLower(input))
		},
	}

	idx, _, err := picker.Run()
	if err != nil {
		logger.Fatal("exiting", zap.Error(err))
	}

	if err := renderRecords(os.Stdout, format, list[idx]); err != nil {
		logger.Fatal("printing record", zap.Error(err))
	}
}

func recordLabel(r *store.Record) string {
	status := "pending"
	if r.Evaluated {
		status = "rejected"
		if r.Approved {
			status = "approved"
		}
	}

	name := r.DisplayName
	if name == "" {
		name = "-"
	}

	return fmt.Sprintf("%s (%s) %s, paid: %t, updated %s",
		name, r.ParticipantID, status, r.PaymentConfirmed, r.UpdatedAt.Format("2006-01-02 15:04"))
}

func renderRecords(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
}
