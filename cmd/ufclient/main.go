// Command ufclient uploads a single local file to a ufserver instance
// over the TCP-control / UDP-data protocol implemented by this module.
package main

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/luiz787/udp-file-transfer/internal/config"
	"github.com/luiz787/udp-file-transfer/internal/fsio"
	"github.com/luiz787/udp-file-transfer/internal/session"
)

func main() {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	app := cli.NewApp()
	app.Name = "ufclient"
	app.Usage = "upload a single file to a ufserver instance"
	app.ArgsUsage = "<ip> <port> <filename>"
	app.Action = func(c *cli.Context) error {
		if c.NArg() != 3 {
			return cli.NewExitError("usage: ufclient <ip> <port> <filename>", 1)
		}
		host := c.Args().Get(0)
		portStr := c.Args().Get(1)
		path := c.Args().Get(2)

		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			log.WithError(err).Error("ufclient: invalid port")
			return cli.NewExitError(err, 1)
		}

		source, err := fsio.OpenLocalFile(path)
		if err != nil {
			log.WithError(err).Error("ufclient: failed to open file")
			return cli.NewExitError(err, 1)
		}
		defer source.Close()

		filename, _, err := source.Stat()
		if err != nil {
			log.WithError(err).Error("ufclient: failed to stat file")
			return cli.NewExitError(err, 1)
		}
		if err := config.ValidateFilename(filename); err != nil {
			log.WithError(err).Error("ufclient: invalid filename")
			return cli.NewExitError(err, 1)
		}

		log.WithField("host", host).WithField("port", port).WithField("filename", filename).Info("ufclient: starting upload")
		if err := session.Upload(host, uint16(port), source, nil, log); err != nil {
			log.WithError(err).Error("ufclient: upload failed")
			return cli.NewExitError(err, 1)
		}
		log.Info("ufclient: upload complete")
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Error("ufclient: exiting")
		os.Exit(1)
	}
}
