package main

import (
	"Go2FlowSpectra/internal/config"
	"Go2FlowSpectra/internal/engine/protocol"
	"Go2FlowSpectra/internal/model"
	"Go2FlowSpectra/internal/probe"
	"Go2FlowSpectra/internal/snapshot"
	"Go2FlowSpectra/pkg/wirefile"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var (
	urlFlag = cli.StringFlag{
		Name:  "url, u",
		Value: "nats://127.0.0.1:4222",
		Usage: "NATS server URL",
	}
	subjectFlag = cli.StringFlag{
		Name:  "subject, s",
		Value: "flowspectra.records",
		Usage: "NATS subject carrying wire records",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "ns-replay"
	app.Usage = "Replay record files onto NATS and watch what arrives."
	app.Commands = []cli.Command{
		{
			Name:      "publish",
			Usage:     "publish every record of the given files",
			ArgsUsage: "<record file>...",
			Flags: []cli.Flag{
				urlFlag,
				subjectFlag,
				cli.DurationFlag{
					Name:  "interval",
					Usage: "pause between records",
				},
			},
			Action: publish,
		},
		{
			Name:   "listen",
			Usage:  "print records as they arrive",
			Flags:  []cli.Flag{urlFlag, subjectFlag},
			Action: listen,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func probeConfig(c *cli.Context) config.ProbeConfig {
	return config.ProbeConfig{NATSURL: c.String("url"), Subject: c.String("subject")}
}

func publish(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.NewExitError("Specify at least one record file", -1)
	}
	pub, err := probe.NewPublisher(probeConfig(c))
	if err != nil {
		return cli.NewExitError(err.Error(), -1)
	}
	defer pub.Close()

	interval := c.Duration("interval")
	total := 0
	for _, path := range c.Args() {
		r, err := wirefile.Open(path)
		if err != nil {
			return cli.NewExitError(err.Error(), -1)
		}
		err = r.ReadAll(func(buf []byte) error {
			if err := pub.Publish(buf); err != nil {
				return err
			}
			total++
			if interval > 0 {
				time.Sleep(interval)
			}
			return nil
		})
		r.Close()
		if err != nil {
			return cli.NewExitError(err.Error(), -1)
		}
	}
	if err := pub.Flush(); err != nil {
		return cli.NewExitError(err.Error(), -1)
	}
	log.Printf("Published %d records to '%s'", total, c.String("subject"))
	return nil
}

func listen(c *cli.Context) error {
	sub, err := probe.NewSubscriber(probeConfig(c))
	if err != nil {
		return cli.NewExitError(err.Error(), -1)
	}
	defer sub.Close()

	var mu sync.Mutex
	dec := protocol.NewDecoder(protocol.Options{})
	rec := model.NewRecord()
	err = sub.Start(func(buf []byte) {
		mu.Lock()
		defer mu.Unlock()
		if _, err := dec.Decode(buf, rec); err != nil {
			log.Printf("Error decoding record: %v", err)
			return
		}
		g := &model.SnapshotGroup{}
		snapshot.RenderTable(os.Stdout, []snapshot.Row{snapshot.NewRow("", g, rec)})
	})
	if err != nil {
		return cli.NewExitError(err.Error(), -1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	return nil
}
