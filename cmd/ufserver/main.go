// Command ufserver accepts single-file uploads over the TCP-control /
// UDP-data protocol implemented by this module, writing each finalized
// upload under an output directory.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/luiz787/udp-file-transfer/internal/fsio"
	"github.com/luiz787/udp-file-transfer/internal/metrics"
	"github.com/luiz787/udp-file-transfer/internal/session"
)

func main() {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	app := cli.NewApp()
	app.Name = "ufserver"
	app.Usage = "accept single-file uploads over the control/data protocol"
	app.ArgsUsage = "<port>"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "metrics-addr",
			Value: "",
			Usage: "address to expose Prometheus metrics on, e.g. :9090 (empty disables metrics)",
		},
		cli.StringFlag{
			Name:  "output-dir",
			Value: "output",
			Usage: "directory finalized uploads are written to",
		},
		cli.StringFlag{
			Name:  "bind-host",
			Value: "0.0.0.0",
			Usage: "host the TCP listener and per-session UDP sockets bind to",
		},
	}
	app.Action = func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.NewExitError("usage: ufserver <port>", 1)
		}
		port := c.Args().Get(0)

		sink, err := fsio.NewLocalFileSink(c.String("output-dir"))
		if err != nil {
			log.WithError(err).Error("ufserver: failed to prepare output directory")
			return cli.NewExitError(err, 1)
		}

		bindHost := c.String("bind-host")
		listener, err := net.Listen("tcp", fmt.Sprintf("%s:%s", bindHost, port))
		if err != nil {
			log.WithError(err).Error("ufserver: failed to bind tcp listener")
			return cli.NewExitError(err, 1)
		}
		log.WithField("addr", listener.Addr().String()).Info("ufserver: listening")

		srv := session.NewServer(listener, bindHost, sink, log)

		if addr := c.String("metrics-addr"); addr != "" {
			srv.Metrics = metrics.New(prometheus.DefaultRegisterer)
			go func() {
				log.WithField("addr", addr).Info("ufserver: serving metrics")
				if err := metrics.Serve(addr); err != nil {
					log.WithError(err).Error("ufserver: metrics server stopped")
				}
			}()
		}

		if err := srv.Serve(); err != nil {
			log.WithError(err).Error("ufserver: serve loop exited")
			return cli.NewExitError(err, 1)
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Error("ufserver: exiting")
		os.Exit(1)
	}
}
