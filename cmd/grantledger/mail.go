package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"grantledger/internal/connectors"
	gmailconnector "grantledger/internal/connectors/gmail"
	imapconnector "grantledger/internal/connectors/imap"
	"grantledger/internal/listener"
	"grantledger/internal/pipeline"
)

var mailCmd = &cobra.Command{
	Use:   "mail",
	Short: "Fetch vendor mail and import the line items it carries",
}

func makeConnector(cmd *cobra.Command, provider string) (connectors.MailConnector, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "gmail":
		return gmailconnector.NewConnector(cmd.Context(), cfg)
	case "imap":
		return imapconnector.NewConnector(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

var mailFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download new messages into the inbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		label, _ := cmd.Flags().GetString("label")
		max, _ := cmd.Flags().GetInt("max")

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		conn, err := makeConnector(cmd, provider)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		result, err := connectors.NewFetchService(db, cfg.InboxDir, conn).FetchAndStore(ctx, label, max)
		if err != nil {
			return err
		}
		fmt.Printf("mail fetch done provider=%s fetched=%d stored=%d\n", provider, result.Fetched, result.Stored)
		return nil
	},
}

var mailProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Extract, classify and record the tables of fetched messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		messageID, _ := cmd.Flags().GetString("message-id")
		batch, _ := cmd.Flags().GetInt("batch")

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		c, err := newClassifier()
		if err != nil {
			return err
		}
		processor := pipeline.NewProcessingService(db, cfg, c)
		if notifier := newNotifier(); notifier != nil {
			defer notifier.Close()
			processor.WithNotifier(notifier)
		}

		ctx := cmd.Context()
		if strings.TrimSpace(messageID) != "" {
			res, err := processor.ProcessByProviderMessageID(ctx, provider, messageID)
			if err != nil {
				return err
			}
			fmt.Printf("processed message id=%d inventory=%t rows=%d total=%.2f\n", res.MessageID, res.Inventory, res.Rows, res.TotalCost)
			if res.ReportPath != "" {
				fmt.Printf("exported to %s\n", res.ReportPath)
			}
			return nil
		}
		messages, rows, err := processor.ProcessPending(ctx, batch, provider)
		fmt.Printf("processed pending messages=%d rows=%d\n", messages, rows)
		return err
	},
}

var mailListenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Poll the mailbox until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		c, err := newClassifier()
		if err != nil {
			return err
		}
		svc := listener.NewService(db, cfg, c)
		if notifier := newNotifier(); notifier != nil {
			defer notifier.Close()
			svc.WithNotifier(notifier)
		}
		return svc.Run(cmd.Context())
	},
}

func init() {
	mailFetchCmd.Flags().String("provider", "imap", "gmail|imap")
	mailFetchCmd.Flags().String("label", "INBOX", "mailbox or label")
	mailFetchCmd.Flags().Int("max", 50, "max messages")
	mailProcessCmd.Flags().String("provider", "", "only process messages from this provider")
	mailProcessCmd.Flags().String("message-id", "", "process one message by its Message-ID (needs --provider)")
	mailProcessCmd.Flags().Int("batch", 20, "batch size")

	mailCmd.AddCommand(mailFetchCmd, mailProcessCmd, mailListenCmd)
	rootCmd.AddCommand(mailCmd)
}
