package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"signalgate/cmd/gateway"
	"signalgate/src/database"
	"signalgate/src/risk"
)

var Version string

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("no .env file, using process environment")
	}

	app := cli.NewApp()
	app.Name = "Signalgate CMD"
	app.Usage = "The Signalgate command line interface"
	app.Version = Version

	app.Commands = []cli.Command{
		gatewayCMD,
		migrateCMD,
		rulesCheckCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	gatewayCMD = cli.Command{
		Name:      "gateway",
		Usage:     "run the signal gateway",
		Action:    gatewayAction,
		ArgsUsage: "",
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "no-poll", Usage: "do not poll the raw signal table"},
			cli.BoolFlag{Name: "kafka", Usage: "consume signals from Kafka"},
		},
		Description: `Run the HTTP API, the intake channels and the daily reset loop`,
	}
	migrateCMD = cli.Command{
		Name:        "migrate",
		Usage:       "apply database migrations",
		Action:      migrateAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Create the schema and run pending data migrations, then exit`,
	}
	rulesCheckCMD = cli.Command{
		Name:        "rules_check",
		Usage:       "validate a rules file",
		Action:      rulesCheckAction,
		ArgsUsage:   "<rules.yaml>",
		Flags:       []cli.Flag{},
		Description: `Parse and validate a YAML rules document and print the resulting rule set`,
	}
)

func gatewayAction(c *cli.Context) error {
	logrus.Info("Starting gateway CMD")

	g := &gateway.Gateway{Log: logrus.WithField("cmd", "gateway")}
	if c.Bool("no-poll") {
		poll := false
		g.Poll = &poll
	}
	if c.Bool("kafka") {
		kafka := true
		g.Kafka = &kafka
	}
	if err := g.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

// migrateAction runs the same migrations as gateway startup.
func migrateAction(_ *cli.Context) error {
	logrus.Info("Starting migrate CMD")
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to migrate database")
		return err
	}
	return nil
}

func rulesCheckAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.NewExitError("rules file path is required", 2)
	}
	rs, err := risk.LoadFile(path)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	out, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
