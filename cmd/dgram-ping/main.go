// dgram-ping sends a datagram request to a peer and waits for the paired
// response, printing the round-trip time. With -listen it instead echoes
// every inbound datagram back to its sender.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/wavemesh/dgram"
	"github.com/wavemesh/dgram/log"
	"github.com/wavemesh/dgram/payload"
	"github.com/wavemesh/dgram/trace"
	"github.com/wavemesh/dgram/uri"
)

func main() {
	var (
		port    = pflag.IntP("port", "p", 0, "local port to bind")
		listen  = pflag.BoolP("listen", "l", false, "echo inbound datagrams instead of pinging")
		reuse   = pflag.Bool("reuse", false, "set the reuse-address socket option")
		timeout = pflag.DurationP("timeout", "t", 5*time.Second, "how long to wait for the response")
		message = pflag.StringP("message", "m", "ping", "payload to send")
		verbose = pflag.BoolP("verbose", "v", false, "log at debug level")
		spans   = pflag.Bool("trace", false, "log a span for every send, receive, match and expire")
	)
	pflag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := log.Level(level)

	tracer := trace.Nop()
	if *spans {
		tracer = trace.Logging(log.Level(zerolog.DebugLevel))
	}

	server := dgram.NewServer(
		dgram.WithPort(*port),
		dgram.WithReuseAddress(*reuse),
		dgram.WithDefaultTimeout(*timeout),
		dgram.WithLogger(logger),
		dgram.WithTracer(tracer),
	)
	defer server.Close()

	if *listen {
		echo(server)
		return
	}

	if pflag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: dgram-ping [flags] udp://host:port")
		os.Exit(2)
	}

	target, err := uri.Parse(pflag.Arg(0))
	if err != nil {
		log.Fatal().Err(err).Msg("Bad peer address.")
	}

	session, err := server.CreateSessionTo(target)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open a session.")
	}

	start := time.Now()

	resp, err := session.Request(context.Background(), payload.From([]byte(*message)), *timeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Request failed.")
	}

	fmt.Printf("%d bytes from %s in %s: %s\n",
		resp.Len(), session.Remote(), time.Since(start).Round(time.Microsecond), resp.Dump())
}

func echo(server *dgram.Server) {
	if err := server.Open(); err != nil {
		log.Fatal().Err(err).Msg("Failed to bind.")
	}

	fmt.Printf("echoing on %s\n", server.Addr())

	sessions := make(chan *dgram.Session, 16)
	server.Subscribe(sessions)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	for {
		select {
		case session := <-sessions:
			go func(session *dgram.Session) {
				for data := range session.Inbound() {
					if _, err := session.Send(data.Payload); err != nil {
						log.Warn().Err(err).Msg("Echo failed.")
						return
					}
				}
			}(session)
		case <-stop:
			return
		}
	}
}
