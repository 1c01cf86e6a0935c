package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/cep-candidate-scraper/internal/config"
)

type pushOptions struct {
	webhookURL  string
	batchSize   int
	startOffset int
	table       string
}

// newPushLeadsCmd creates the 'push-leads' subcommand.
func newPushLeadsCmd() *cobra.Command {
	opts := &pushOptions{}
	cmd := &cobra.Command{
		Use:   "push-leads",
		Short: "Posts stored candidates to the leads webhook in batches",
		Long: `Reads candidate rows from the Postgres sink in pages of --batch-size,
starting at --start-offset, and posts each page as a JSON array to the leads
webhook. Stops at the first short page.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			err = appInstance.Reconfigure(func(c *config.Config) {
				if flags.Changed("webhook-url") {
					c.Leads.WebhookURL = opts.webhookURL
				}
				if flags.Changed("batch-size") {
					c.Leads.BatchSize = opts.batchSize
				}
				if flags.Changed("start-offset") {
					c.Leads.StartOffset = opts.startOffset
				}
				if flags.Changed("table") {
					c.Leads.Table = opts.table
				}
			})
			if err != nil {
				return err
			}
			pusher, err := appInstance.LeadPusher(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := pusher.Run(cmd.Context())
			appInstance.Logger().Info("push finished",
				zap.Int("batches", stats.Batches),
				zap.Int("rows", stats.Rows),
				zap.Int("next_offset", stats.NextOffset),
			)
			if err != nil {
				return fmt.Errorf("push leads (resume with --start-offset %d): %w", stats.NextOffset, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pushed %d rows in %d batches\n", stats.Rows, stats.Batches)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.webhookURL, "webhook-url", "", "leads webhook URL (leads.webhook_url)")
	f.IntVar(&opts.batchSize, "batch-size", 0, "rows per request (leads.batch_size)")
	f.IntVar(&opts.startOffset, "start-offset", 0, "row offset to resume from (leads.start_offset)")
	f.StringVar(&opts.table, "table", "", "source table (leads.table)")
	return cmd
}
