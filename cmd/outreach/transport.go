package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/shineum/outreach-mailer/internal/config"
	"github.com/shineum/outreach-mailer/internal/mailbox/imap"
	"github.com/shineum/outreach-mailer/internal/provider"
	"github.com/shineum/outreach-mailer/internal/provider/graph"
	"github.com/shineum/outreach-mailer/internal/provider/ses"
	"github.com/shineum/outreach-mailer/internal/provider/smtp"
	"github.com/shineum/outreach-mailer/internal/provider/stdout"
	clienttls "github.com/shineum/outreach-mailer/internal/tls"
)

// clientTLS builds the TLS settings shared by the SMTP relay and the IMAP
// mailbox.
func clientTLS(cfg *config.Config) (*tls.Config, error) {
	return clienttls.ClientConfig(cfg.TLS.CAFile, cfg.TLS.InsecureSkipVerify)
}

// selectProvider chooses the email delivery backend named by cfg.Provider.
func selectProvider(ctx context.Context, cfg *config.Config, tlsConfig *tls.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case "ses":
		if !cfg.SESConfigured() {
			return nil, fmt.Errorf("SES provider selected but SES_REGION and SES_SENDER are required")
		}
		slog.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"sender", cfg.Sender(),
		)
		p, err := ses.New(ctx, ses.SESProviderConfig{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.Sender(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return p, nil

	case "smtp":
		if !cfg.SMTPConfigured() {
			return nil, fmt.Errorf("SMTP provider selected but SMTP_HOST and SMTP_SENDER are required")
		}
		slog.Info("using SMTP provider",
			"host", cfg.SMTP.Host,
			"port", cfg.SMTP.Port,
			"ssl", cfg.SMTP.SSL,
			"sender", cfg.Sender(),
		)
		return smtp.New(smtp.SMTPProviderConfig{
			Host:      cfg.SMTP.Host,
			Port:      cfg.SMTP.Port,
			Username:  cfg.SMTP.Username,
			Password:  cfg.SMTP.Password,
			Sender:    cfg.Sender(),
			SSL:       cfg.SMTP.SSL,
			TLSConfig: tlsConfig,
		}), nil

	case "graph":
		if !cfg.GraphConfigured() {
			return nil, fmt.Errorf("Graph provider selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET, and GRAPH_SENDER are required")
		}
		// Graph always sends as the mailbox in its URL.
		slog.Info("using Microsoft Graph provider",
			"sender", cfg.Graph.Sender,
		)
		return graph.New(graph.GraphProviderConfig{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Graph.Sender,
		}), nil

	case "stdout":
		slog.Info("using stdout provider")
		return stdout.New(), nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}

func newMailbox(cfg *config.Config, tlsConfig *tls.Config) *imap.Mailbox {
	slog.Info("using IMAP bounce mailbox",
		"host", cfg.IMAP.Host,
		"port", cfg.IMAP.Port,
		"folder", cfg.IMAP.Folder,
	)
	tc := tlsConfig.Clone()
	tc.ServerName = cfg.IMAP.Host
	return imap.New(imap.Config{
		Host:        cfg.IMAP.Host,
		Port:        cfg.IMAP.Port,
		Username:    cfg.IMAP.Username,
		Password:    cfg.IMAP.Password,
		ImplicitTLS: cfg.IMAP.TLS,
		Folder:      cfg.IMAP.Folder,
		TLSConfig:   tc,
	})
}
