// Package main provides mailctl, a one-shot operator tool for inspecting and
// redriving stored mails.
//
// Usage:
//
//	mailctl unsent  [--type T] [--recipient R] [--limit N]
//	mailctl resend  [--type T] [--recipient R] [--id ID]...
//	mailctl requeue [--type T] [--recipient R] [--id ID]...
//	mailctl token   --subject billing [--scope mails:send]...
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/sungwon/mailer/internal/auth"
	"github.com/sungwon/mailer/internal/config"
	"github.com/sungwon/mailer/internal/logger"
	"github.com/sungwon/mailer/internal/mail"
	"github.com/sungwon/mailer/internal/mailer"
	"github.com/sungwon/mailer/internal/queue"
	"github.com/sungwon/mailer/internal/store"
	"github.com/sungwon/mailer/internal/transport"
)

const usage = `usage: mailctl <command> [flags]

commands:
  unsent    list mails that have not been sent
  resend    deliver unsent mails now
  requeue   enqueue unsent mails for the worker
  token     issue an API bearer token
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "mailctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("missing command")
	}

	cmd, args := args[0], args[1:]
	fs := pflag.NewFlagSet(cmd, pflag.ContinueOnError)
	configDir := fs.String("config", "config", "directory containing config.yaml")
	verbose := fs.BoolP("verbose", "v", false, "log at debug level to stderr")

	switch cmd {
	case "token":
		return runToken(fs, configDir, args, out)
	case "unsent", "resend", "requeue":
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}

	c := criteriaFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		return err
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	log := logger.New(level).Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	svc, cleanup, err := newService(ctx, cfg, log, cmd == "requeue")
	if err != nil {
		return err
	}
	defer cleanup()

	criteria := c.criteria()
	switch cmd {
	case "unsent":
		recs, err := svc.Unsent(ctx, criteria)
		if err != nil {
			return err
		}
		return writeJSON(out, map[string]any{"mails": recs, "count": len(recs)})

	case "resend":
		outcomes, err := svc.Resend(ctx, criteria)
		if err != nil {
			return err
		}
		failed := 0
		for _, o := range outcomes {
			if o.Err != nil {
				failed++
				ev := log.Error().Err(o.Err)
				if o.Record != nil {
					ev = ev.Str("id", o.Record.ID)
				}
				ev.Msg("resend failed")
			}
		}
		if err := writeJSON(out, map[string]int{"total": len(outcomes), "failed": failed}); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d mails failed", failed, len(outcomes))
		}
		return nil

	default:
		recs, err := svc.Requeue(ctx, criteria)
		if werr := writeJSON(out, map[string]int{"requeued": len(recs)}); werr != nil {
			return werr
		}
		return err
	}
}

// newService wires a mailer.Service from cfg. The queue backend is only
// opened when withQueue is set.
func newService(ctx context.Context, cfg *config.Config, log zerolog.Logger, withQueue bool) (*mailer.Service, func(), error) {
	records, closeStore, err := store.New(ctx, cfg.StoreConfig(), log)
	if err != nil {
		return nil, nil, err
	}

	tr, err := transport.New(cfg.TransportConfig(), log)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	mcfg := mailer.Config{
		Defaults:          cfg.Defaults(),
		Environment:       cfg.Mailer.Environment,
		Fields:            cfg.Model.Fields,
		QueueName:         cfg.Queue.Name,
		ResendConcurrency: cfg.Mailer.ResendConcurrency,
	}

	if !withQueue {
		return mailer.New(records, nil, tr, mcfg, log), closeStore, nil
	}

	backend, err := queue.New(ctx, cfg.Queue, log)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	cleanup := func() {
		_ = backend.Close()
		closeStore()
	}
	return mailer.New(records, nil, tr, mcfg, log, mailer.WithEnqueuer(backend.Enqueuer)), cleanup, nil
}

type criteriaOpts struct {
	mailType  *string
	recipient *string
	sender    *string
	ids       *[]string
	limit     *int
	since     *time.Duration
}

func criteriaFlags(fs *pflag.FlagSet) *criteriaOpts {
	return &criteriaOpts{
		mailType:  fs.StringP("type", "t", "", "only mails of this type"),
		recipient: fs.StringP("recipient", "r", "", "only mails addressed to this recipient"),
		sender:    fs.String("sender", "", "only mails from this sender address"),
		ids:       fs.StringSlice("id", nil, "only these record ids (repeatable)"),
		limit:     fs.IntP("limit", "n", 0, "maximum number of mails"),
		since:     fs.Duration("since", 0, "only mails created within this window (e.g. 24h)"),
	}
}

func (o *criteriaOpts) criteria() mail.Criteria {
	c := mail.Criteria{
		Type:      *o.mailType,
		Recipient: *o.recipient,
		Sender:    *o.sender,
		IDs:       *o.ids,
		Limit:     *o.limit,
	}
	if *o.since > 0 {
		c.CreatedAfter = time.Now().Add(-*o.since)
	}
	return c
}

func runToken(fs *pflag.FlagSet, configDir *string, args []string, out io.Writer) error {
	subject := fs.StringP("subject", "s", "", "token subject (client name)")
	scopes := fs.StringSlice("scope", nil, "granted scope (repeatable); none grants all")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return fmt.Errorf("--subject is required")
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		return err
	}
	if cfg.API.JWT.SigningKey == "" {
		return fmt.Errorf("api.jwt.signing_key is not set")
	}

	svc := auth.NewJWTService(auth.JWTConfig{
		SigningKey:        cfg.API.JWT.SigningKey,
		AccessTokenExpiry: cfg.API.JWT.AccessTokenExpiry,
		Issuer:            cfg.API.JWT.Issuer,
		Audience:          cfg.API.JWT.Audience,
	})
	token, err := svc.GenerateToken(*subject, *scopes...)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
