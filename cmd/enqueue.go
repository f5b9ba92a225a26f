package cmd

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmehdipour/mail-outbox/internal/app"
	"github.com/jmehdipour/mail-outbox/internal/kafka"
	"github.com/jmehdipour/mail-outbox/internal/model"
	"github.com/spf13/cobra"
)

var (
	enqueueTo      []string
	enqueueVars    []string
	enqueueAttach  []string
	enqueuePublish bool
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <template>",
	Short: "Queue one templated email",
	Example: `  mail-outbox enqueue welcome --to a@x.com --var name=Ada --var club="Chess Club" --var login_url=https://example.com
  mail-outbox enqueue invoice --to "a@x.com, b@x.com" --attach ./invoice.pdf --publish`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildRequest(args[0], enqueueTo, enqueueVars, enqueueAttach)
		if err != nil {
			return err
		}

		a, err := app.Bootstrap(cfgPath, app.Options{RequireDurableStore: !enqueuePublish})
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		if enqueuePublish {
			p := kafka.NewPublisher(a.Cfg.Kafka)
			defer p.Close()
			if err := p.Publish(ctx, req); err != nil {
				return fmt.Errorf("publish to %s: %w", a.Cfg.Kafka.Topic, err)
			}
			fmt.Printf(">> published to %s\n", a.Cfg.Kafka.Topic)
			return nil
		}

		res, err := a.Queue.Enqueue(ctx, req)
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(res)
	},
}

func init() {
	enqueueCmd.Flags().StringSliceVar(&enqueueTo, "to", nil, "recipient address (repeatable, comma-separated allowed)")
	enqueueCmd.Flags().StringArrayVar(&enqueueVars, "var", nil, "template variable as key=value (repeatable)")
	enqueueCmd.Flags().StringArrayVar(&enqueueAttach, "attach", nil, "file to attach (repeatable)")
	enqueueCmd.Flags().BoolVar(&enqueuePublish, "publish", false, "publish to the Kafka intake topic instead of writing the outbox directly")
}

func buildRequest(template string, to, vars, attach []string) (model.EmailRequest, error) {
	req := model.EmailRequest{
		Template:  template,
		To:        model.Recipients(to),
		Variables: make(map[string]any, len(vars)),
	}
	for _, kv := range vars {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return req, fmt.Errorf("--var %q: want key=value", kv)
		}
		req.Variables[strings.TrimSpace(k)] = v
	}
	for _, path := range attach {
		b, err := os.ReadFile(path)
		if err != nil {
			return req, fmt.Errorf("--attach: %w", err)
		}
		req.Attachments = append(req.Attachments, model.Attachment{
			Filename:    filepath.Base(path),
			Content:     b,
			ContentType: mime.TypeByExtension(filepath.Ext(path)),
		})
	}
	return req, nil
}
