// Package apps holds the built-in call applications a route can name.
package apps

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/bwoudt/jambonz-go/ingress/internal/config"
	"github.com/bwoudt/jambonz-go/ingress/internal/dispatch"
	"github.com/bwoudt/jambonz-go/ingress/internal/router"
	"github.com/bwoudt/jambonz-go/ingress/internal/session"
	"github.com/bwoudt/jambonz-go/pkg/verbs"
)

// Built-in application names.
const (
	HelloWorldApp = "hello-world"
	EchoApp       = "echo"
)

// Greeting is spoken by the hello-world application.
const Greeting = "<speak><prosody volume='loud'>Hi there,</prosody> and welcome to Jambonz!</speak>"

// EchoHook is the action hook the echo application gathers on.
const EchoHook = "/echo"

var catalog = map[string]func(*zap.Logger) *dispatch.HandlerSet{
	HelloWorldApp: HelloWorld,
	EchoApp:       Echo,
}

// Names returns the registered application names, sorted.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup builds the handler set for a named application.
func Lookup(name string, logger *zap.Logger) (*dispatch.HandlerSet, error) {
	build, ok := catalog[name]
	if !ok {
		return nil, fmt.Errorf("unknown app %q", name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return build(logger.With(zap.String("app", name))), nil
}

// BuildRouter registers routes in order against the application catalog.
func BuildRouter(routes []config.Route, logger *zap.Logger) (*router.Router, error) {
	r := router.New()
	for _, rt := range routes {
		handlers, err := Lookup(rt.App, logger)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", rt.Path, err)
		}
		r.Use(rt.Path, handlers)
	}
	return r, nil
}

// HelloWorldResponse is the verb list the hello-world application plays.
func HelloWorldResponse() *verbs.Response {
	return verbs.NewResponse().
		Say(Greeting).
		Pause(1.5).
		Hangup()
}

// HelloWorld greets the caller and hangs up.
func HelloWorld(logger *zap.Logger) *dispatch.HandlerSet {
	return &dispatch.HandlerSet{
		Name: HelloWorldApp,
		SessionNew: func(_ context.Context, s *session.Session, path string) error {
			attrs := s.Attributes()
			logger.Info("Answering call",
				zap.String("call_sid", s.CallSid()),
				zap.String("path", path),
				zap.String("from", attrs.String("from")),
				zap.String("to", attrs.String("to")))
			s.EnqueueResponse(HelloWorldResponse())
			return nil
		},
		CallStatus: logStatus(logger),
	}
}

// Echo repeats back whatever the caller says until they hang up.
func Echo(logger *zap.Logger) *dispatch.HandlerSet {
	return &dispatch.HandlerSet{
		Name: EchoApp,
		SessionNew: func(_ context.Context, s *session.Session, _ string) error {
			s.EnqueueResponse(echoPrompt("Say something and I will repeat it."))
			return nil
		},
		CallStatus: logStatus(logger),
		VerbHook: func(_ context.Context, s *session.Session, hook string, data map[string]any) error {
			if hook != EchoHook {
				logger.Debug("Ignoring hook", zap.String("call_sid", s.CallSid()), zap.String("hook", hook))
				return nil
			}
			text := Transcript(data)
			if text == "" {
				s.EnqueueResponse(echoPrompt("I did not hear anything. Please try again."))
				return nil
			}
			s.EnqueueResponse(echoPrompt("You said: " + text))
			return nil
		},
	}
}

func echoPrompt(text string) *verbs.Response {
	return verbs.NewResponse().Gather(EchoHook, []string{"speech"},
		verbs.With("say", map[string]any{"text": text}),
		verbs.With("timeout", 10))
}

func logStatus(logger *zap.Logger) func(context.Context, *session.Session, string) error {
	return func(_ context.Context, s *session.Session, status string) error {
		logger.Info("Call status", zap.String("call_sid", s.CallSid()), zap.String("call_status", status))
		return nil
	}
}

// Transcript extracts the first speech alternative from a gather result.
func Transcript(data map[string]any) string {
	speech, ok := data["speech"].(map[string]any)
	if !ok {
		return ""
	}
	alts, ok := speech["alternatives"].([]any)
	if !ok || len(alts) == 0 {
		return ""
	}
	first, ok := alts[0].(map[string]any)
	if !ok {
		return ""
	}
	text, _ := first["transcript"].(string)
	return text
}
