// Package main provides a platform simulator that drives calls against the
// ingress WebSocket server, plus helpers for the REST and webhook surfaces.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/bwoudt/jambonz-go/pkg/rest"
	"github.com/bwoudt/jambonz-go/pkg/webhook"
)

var rootCmd = &cobra.Command{
	Use:   "jambonz-cli",
	Short: "Call-control simulator and API helper",
	Long:  `jambonz-cli simulates the telephony platform against a WebSocket application and calls the REST API.`,
}

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Dial the application and drive one call interactively",
	RunE:  runCall,
}

var signCmd = &cobra.Command{
	Use:   "sign <file>",
	Short: "Print the webhook signature of a request body",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		body, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		fmt.Println(webhook.Sign(secret, body))
		return nil
	},
}

var restCmd = &cobra.Command{
	Use:   "rest",
	Short: "Manage calls through the REST API",
}

func init() {
	callCmd.Flags().String("addr", "ws://localhost:3000/hello-world", "WebSocket application address")
	callCmd.Flags().String("from", "+15550000001", "Caller number")
	callCmd.Flags().String("to", "+15550000002", "Called number")

	signCmd.Flags().String("secret", os.Getenv("WEBHOOK_SECRET"), "Webhook secret")

	restCmd.PersistentFlags().String("base-url", envOr("JAMBONZ_REST_API_BASE_URL", rest.DefaultBaseURL), "API base URL")
	restCmd.PersistentFlags().String("api-key", os.Getenv("JAMBONZ_API_KEY"), "API key")
	restCmd.PersistentFlags().String("account-sid", os.Getenv("JAMBONZ_ACCOUNT_SID"), "Account SID")

	createCmd := &cobra.Command{
		Use:   "create <from> <to> <application_sid>",
		Short: "Create an outbound call",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			call, err := restClient(cmd).CreateCall(cmd.Context(), &rest.CreateCallRequest{
				From:           args[0],
				To:             args[1],
				ApplicationSid: args[2],
			})
			if err != nil {
				return err
			}
			return printJSON(call.Raw)
		},
	}
	getCmd := &cobra.Command{
		Use:   "get <call_sid>",
		Short: "Show a call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			call, err := restClient(cmd).GetCall(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(call.Raw)
		},
	}
	endCmd := &cobra.Command{
		Use:   "end <call_sid>",
		Short: "Hang up a call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := restClient(cmd).EndCall(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("Call ended.")
			return nil
		},
	}
	restCmd.AddCommand(createCmd, getCmd, endCmd)

	rootCmd.AddCommand(callCmd, signCmd, restCmd)
}

func restClient(cmd *cobra.Command) *rest.Client {
	baseURL, _ := cmd.Flags().GetString("base-url")
	apiKey, _ := cmd.Flags().GetString("api-key")
	account, _ := cmd.Flags().GetString("account-sid")
	return rest.NewClient(baseURL, apiKey, rest.WithAccountSid(account))
}

func runCall(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")

	fmt.Printf("Connecting to %s...\n", addr)
	p, err := Dial(addr, from, to)
	if err != nil {
		return err
	}
	defer p.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			frame, err := p.Read()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("Read error: %v", err)
				}
				return
			}
			formatted, _ := json.MarshalIndent(frame, "", "  ")
			fmt.Printf("\n[%v] Received:\n%s\n> ", frame["type"], formatted)
		}
	}()

	if err := p.Send(p.SessionNew()); err != nil {
		return fmt.Errorf("send session:new: %w", err)
	}
	fmt.Printf("Call %s started. Commands: /status <state>, /hook <name> [speech], /final [reason], /error <text>, /close, /quit\n", p.CallSid())

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Print("> ")
	for {
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted.")
			return nil
		case <-done:
			fmt.Println("\nConnection closed by server.")
			return nil
		case line, ok := <-lines:
			if !ok {
				// Give in-flight replies a moment before closing.
				time.Sleep(200 * time.Millisecond)
				return nil
			}
			frame, quit, err := p.ParseCommand(line)
			if quit {
				return nil
			}
			if err != nil {
				fmt.Printf("%v\n> ", err)
				continue
			}
			if frame == nil {
				fmt.Print("> ")
				continue
			}
			if err := p.Send(frame); err != nil {
				return fmt.Errorf("send %s: %w", frame.Type, err)
			}
		}
	}
}

func printJSON(raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	formatted, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(formatted))
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	log.SetFlags(log.Ltime)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
