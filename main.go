package main

import (
	"log"
	"os"

	"github.com/urfave/cli"
)

type options struct {
	ProtoConfig string
	ConfigPath  string

	ReadFile  string
	Interface string
	Count     int

	RetryLimit int

	LogLevel string
	LogFile  string

	MetricsAddr string

	Record     string
	RecordDir  string
	RecordFile string
}

func newApp() *cli.App {
	var opts options

	app := cli.NewApp()
	app.Name = "erspanx"
	app.Usage = "Mirror captured packets to remote collectors over GRE/ERSPAN Type III"
	app.Version = "0.1.0"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:        "proto-config, p",
			Usage:       "Extension configuration document as inline JSON",
			Destination: &opts.ProtoConfig,
		},
		cli.StringFlag{
			Name:        "config, c",
			Usage:       "Extension configuration document file (json, yaml or toml)",
			Destination: &opts.ConfigPath,
		},
		cli.StringFlag{
			Name:        "read, r",
			Usage:       "Read frames from pcap or pcapng file",
			Destination: &opts.ReadFile,
		},
		cli.StringFlag{
			Name:        "interface, i",
			Usage:       "Capture frames on network interface (linux only)",
			Destination: &opts.Interface,
		},
		cli.IntFlag{
			Name:        "count, n",
			Usage:       "Stop after exporting N frames, 0 means no limit",
			Destination: &opts.Count,
		},
		cli.IntFlag{
			Name:        "retry-limit",
			Usage:       "Give up a send after N ENOBUFS retries, 0 means retry forever",
			Destination: &opts.RetryLimit,
		},
		cli.StringFlag{
			Name:        "log-level, l",
			Usage:       "Log level [trace|debug|info|warn|error]",
			Value:       "info",
			Destination: &opts.LogLevel,
		},
		cli.StringFlag{
			Name:        "log-file",
			Usage:       "Write logs to rotated file instead of stderr",
			Destination: &opts.LogFile,
		},
		cli.StringFlag{
			Name:        "metrics-addr",
			Usage:       "Serve prometheus metrics on address, e.g. :9100",
			Destination: &opts.MetricsAddr,
		},
		cli.StringFlag{
			Name:        "record",
			Usage:       "Keep a pcap copy of tunneled datagrams [fs|s3]",
			Destination: &opts.Record,
		},
		cli.StringFlag{
			Name:        "record-dir",
			Usage:       "Output directory of fs record",
			Value:       ".",
			Destination: &opts.RecordDir,
		},
		cli.StringFlag{
			Name:        "record-file",
			Usage:       "Output file name of fs record",
			Value:       "erspan.pcap",
			Destination: &opts.RecordFile,
		},
	}

	app.Action = func(c *cli.Context) error {
		return run(opts)
	}

	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
