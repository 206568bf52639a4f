package main

import (
	"Go2FlowSpectra/internal/config"
	"Go2FlowSpectra/internal/engine/aggregator"
	"Go2FlowSpectra/internal/engine/flowkey"
	"Go2FlowSpectra/internal/engine/manager"
	"Go2FlowSpectra/internal/engine/protocol"
	"Go2FlowSpectra/internal/logging"
	"Go2FlowSpectra/internal/model"
	"Go2FlowSpectra/internal/snapshot"
	"Go2FlowSpectra/pkg/wirefile"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "ns-decode"
	app.Usage = "Decode and aggregate files of wire records."
	app.ArgsUsage = "<record file>..."
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "run the tasks and writers of this configuration instead of a single aggregator",
		},
		cli.StringFlag{
			Name:  "mask, m",
			Value: flowkey.DefaultTokens,
			Usage: "aggregation key fields",
		},
		cli.BoolFlag{
			Name:  "reverse, r",
			Usage: "join both directions of a flow",
		},
		cli.BoolFlag{
			Name:  "raw",
			Usage: "print every decoded record without aggregating",
		},
		cli.IntFlag{
			Name:  "limit, l",
			Value: 1000,
			Usage: "maximum number of rows to print",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "warn",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.NewExitError("Specify at least one record file", -1)
	}
	if err := logging.Setup(config.LogConfig{Level: c.String("log-level")}); err != nil {
		return cli.NewExitError(err.Error(), -1)
	}

	if path := c.String("config"); path != "" {
		return runManager(c, path)
	}

	mask, err := flowkey.ParseMask(c.String("mask"))
	if err != nil {
		return cli.NewExitError(err.Error(), -1)
	}
	agg := aggregator.New(aggregator.Config{Name: "cli", Mask: mask, ReverseMatch: c.Bool("reverse")})

	dec := protocol.NewDecoder(protocol.Options{})
	rec := model.NewRecord()
	var raw []*model.Record
	for _, path := range c.Args() {
		err := readFile(path, func(buf []byte) error {
			if _, err := dec.Decode(buf, rec); err != nil {
				log.WithField("file", path).Warnf("Dropping record: %v", err)
				return nil
			}
			if c.Bool("raw") {
				raw = append(raw, rec.Clone())
				return nil
			}
			agg.Insert(rec)
			return nil
		})
		if err != nil {
			return cli.NewExitError(err.Error(), -1)
		}
	}

	snap := &model.SnapshotData{TaskName: "cli", Groups: []model.SnapshotGroup{{Records: agg.Records()}}}
	if c.Bool("raw") {
		snap.Groups[0].Records = raw
	}
	rows := snapshot.Rows(snap)
	if limit := c.Int("limit"); limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	snapshot.RenderTable(os.Stdout, rows)

	st := dec.Stats
	fmt.Printf("%d records decoded, %d truncated, %d unsupported, %d zero-length DSRs, %d DSRs skipped, %d reversed\n",
		st.Records, st.Truncated, st.Unsupported, st.ZeroLength, st.SkippedDSRs, st.Corrected)
	return nil
}

// runManager feeds the files through the configured tasks. The writers take
// their final snapshot when the manager stops.
func runManager(c *cli.Context, path string) error {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return cli.NewExitError(err.Error(), -1)
	}
	mgr, err := manager.NewManager(cfg)
	if err != nil {
		return cli.NewExitError(err.Error(), -1)
	}
	mgr.Start()
	for _, file := range c.Args() {
		err := readFile(file, func(buf []byte) error {
			mgr.Submit(buf)
			return nil
		})
		if err != nil {
			mgr.Abort()
			mgr.Stop()
			return cli.NewExitError(err.Error(), -1)
		}
	}
	mgr.Stop()

	decoded, failed := mgr.Counts()
	fmt.Printf("%d records decoded, %d discarded\n", decoded, failed)
	return nil
}

func readFile(path string, fn func(buf []byte) error) error {
	r, err := wirefile.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()
	log.Printf("Reading records from '%s'...", path)
	return r.ReadAll(fn)
}
