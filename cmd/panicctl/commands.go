package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/illmade-knight/panic-signal/internal/inbound"
	"github.com/illmade-knight/panic-signal/pkg/protocol"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func printList(cmd *cobra.Command, key string, ids []string) error {
	out := cmd.OutOrStdout()
	if jsonMode, _ := cmd.Flags().GetBool("json"); jsonMode {
		return writeJSON(out, map[string]any{key: ids})
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "(none)")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func newRespondersCommand(logger zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "responders",
		Short: "List installed responders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			connected, _ := cmd.Flags().GetBool("connected")
			enabled, _ := cmd.Flags().GetBool("enabled")
			capable, _ := cmd.Flags().GetBool("connect-capable")
			triggerApps, _ := cmd.Flags().GetBool("trigger-apps")

			var (
				key string
				ids []string
			)
			switch {
			case connected:
				key = "connected"
				ids, err = rt.app.ListConnectedResponders(ctx)
			case enabled:
				key = "enabled"
				ids, err = rt.app.ListEnabledResponders(ctx)
			case capable:
				key = "connect_capable"
				ids, err = rt.app.ListConnectCapableResponders(ctx)
			case triggerApps:
				key = "trigger_apps"
				ids, err = rt.app.TriggerApps(ctx)
			default:
				key = "responders"
				ids, err = rt.app.ListAllResponders(ctx)
			}
			if err != nil {
				return err
			}
			return printList(cmd, key, ids)
		},
	}
	cmd.Flags().Bool("connected", false, "Only responders with a completed handshake")
	cmd.Flags().Bool("enabled", false, "Only responders that receive triggers")
	cmd.Flags().Bool("connect-capable", false, "Components that accept CONNECT")
	cmd.Flags().Bool("trigger-apps", false, "Trigger apps available as a partner")
	cmd.MarkFlagsMutuallyExclusive("connected", "enabled", "connect-capable", "trigger-apps")
	return cmd
}

func newEnableCommand(logger zerolog.Logger, enable bool) *cobra.Command {
	use, short := "enable ID", "Include a responder in trigger fan-out"
	if !enable {
		use, short = "disable ID", "Exclude a responder from trigger fan-out"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			id := strings.TrimSpace(args[0])
			if err := rt.app.SetResponderEnabled(cmd.Context(), id, enable); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s enabled=%t\n", id, enable)
			return nil
		},
	}
}

func newPartnerCommand(logger zerolog.Logger) *cobra.Command {
	partner := &cobra.Command{
		Use:   "partner",
		Short: "Show or change this app's connection partner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			id, err := rt.app.ConnectionPartner(cmd.Context())
			if err != nil {
				return err
			}
			if id == "" {
				id = protocol.PartnerNone
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set ID|none",
		Short: "Connect to a new partner, disconnecting the previous one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			id := strings.TrimSpace(args[0])
			if strings.EqualFold(id, protocol.PartnerNone) {
				id = protocol.PartnerNone
			}
			if err := rt.app.SetConnectionPartner(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "partner=%s\n", id)
			return nil
		},
	}
	partner.AddCommand(set)
	return partner
}

func newTriggerCommand(logger zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Send a panic trigger to every enabled responder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			pairs, _ := cmd.Flags().GetStringToString("payload")
			target, _ := cmd.Flags().GetString("target")
			msg := protocol.NewTriggerMessage(pairs)
			msg.TargetPackage = strings.TrimSpace(target)

			if err := rt.app.SendTrigger(cmd.Context(), msg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "trigger %s sent\n", msg.ID)
			return nil
		},
	}
	cmd.Flags().StringToString("payload", nil, "Payload entries, e.g. --payload message=help")
	cmd.Flags().String("target", "", "Only send to this responder")
	return cmd
}

func newServeCommand(logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Receive panic messages over HTTPS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd, logger)
			if err != nil {
				return err
			}
			defer rt.Close()
			cfg := rt.cfg.Server
			if cfg.Cert == "" || cfg.Key == "" {
				return errors.New("serve needs server.cert and server.key")
			}

			handler := inbound.NewHandler(rt.app.Handshake, inbound.Options{
				Self:         rt.cfg.SelfID,
				AdoptPartner: cfg.AdoptPartner,
				Triggers:     logTriggers(logger),
			}, logger)
			srv, err := inbound.NewServer(cfg.Addr, handler, cfg.ClientCA)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info().Str("addr", cfg.Addr).Str("self", rt.cfg.SelfID).Msg("Receiver listening")
				errCh <- srv.ListenAndServeTLS(cfg.Cert, cfg.Key)
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-cmd.Context().Done():
				logger.Info().Msg("Shutdown signal received")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}
}

// logTriggers records received triggers. Destructive responses belong to the
// embedding app; the CLI only reports which response would apply.
func logTriggers(logger zerolog.Logger) inbound.TriggerHandler {
	return inbound.TriggerHandlerFunc(func(ctx context.Context, ic *protocol.InboundContext, trusted bool) error {
		event := logger.Warn().
			Str("message_id", ic.Message.ID.String()).
			Str("delivery", ic.Delivery.String()).
			Bool("from_connected_app", trusted)
		if trusted {
			event.Str("caller", ic.Caller).Msg("Panic trigger received from connected app")
			return nil
		}
		event.Msg("Panic trigger received, default response applies")
		return nil
	})
}
