package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"newstrader/cmd/accounts"
	"newstrader/cmd/rules"
	"newstrader/cmd/service"
	"newstrader/src/database"
	"newstrader/src/repository"
	"newstrader/src/security"
)

var Version string

func main() {
	SetupLogger()

	app := cli.NewApp()
	app.Name = "newstrader"
	app.Usage = "News driven crypto trading terminal"
	app.Version = Version

	app.Commands = []cli.Command{
		runCMD,
		rulesCMD,
		accountCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// SetupLogger applies LOG_LEVEL and LOG_FORMAT.
func SetupLogger() {
	config := database.GetConfig()

	level, err := logrus.ParseLevel(strings.ToLower(config.LogLevel))
	if err != nil {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)

	if strings.EqualFold(config.LogFormat, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

var (
	runCMD = cli.Command{
		Name:        "run",
		Usage:       "run the trading service",
		Action:      runAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run news ingestion, the order executor and the operator API`,
	}
	rulesCMD = cli.Command{
		Name:  "rules",
		Usage: "manage filter rules",
		Subcommands: []cli.Command{
			{
				Name:   "list",
				Usage:  "print the stored rules as YAML",
				Action: rulesListAction,
			},
			{
				Name:      "import",
				Usage:     "replace the stored rules with a YAML file",
				ArgsUsage: "<file>",
				Action:    rulesImportAction,
			},
		},
	}
	accountCMD = cli.Command{
		Name:  "account",
		Usage: "manage trading accounts",
		Subcommands: []cli.Command{
			{
				Name:   "add",
				Usage:  "add or update an account",
				Action: accountAddAction,
				Flags: []cli.Flag{
					cli.StringFlag{Name: "id", Usage: "account id"},
					cli.StringFlag{Name: "exchange", Usage: "exchange id (paper, kraken, phemex)"},
					cli.StringFlag{Name: "address", Usage: "wallet or sub-account address"},
					cli.StringFlag{Name: "leverage", Usage: "default leverage"},
					cli.StringFlag{Name: "api-key", EnvVar: "ACCOUNT_API_KEY", Usage: "exchange api key"},
					cli.StringFlag{Name: "api-secret", EnvVar: "ACCOUNT_API_SECRET", Usage: "exchange api secret"},
				},
			},
			{
				Name:   "list",
				Usage:  "list accounts",
				Action: accountListAction,
			},
		},
	}
)

func runAction(_ *cli.Context) error {
	logrus.Info("Starting newstrader service")

	svc := &service.Service{Log: logrus.WithField("cmd", "run")}
	if err := svc.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func rulesListAction(_ *cli.Context) error {
	if err := database.InitMainDB(); err != nil {
		return err
	}
	return rules.Export(context.Background(), repository.NewFilterRuleRepository(), os.Stdout)
}

func rulesImportAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return errors.New("rules import needs a file")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := database.InitMainDB(); err != nil {
		return err
	}
	n, err := rules.Import(context.Background(), repository.NewFilterRuleRepository(), f)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d rules\n", n)
	return nil
}

func accountAddAction(c *cli.Context) error {
	if err := database.InitMainDB(); err != nil {
		return err
	}
	secrets, err := security.NewDBSecretStoreFromConfig(repository.NewSecretRepository(), security.GetConfig())
	if err != nil {
		return err
	}

	_, err = accounts.Add(context.Background(), accounts.GetConfig(), repository.NewAccountRepository(), secrets, accounts.AddOptions{
		ID:         c.String("id"),
		ExchangeID: c.String("exchange"),
		Address:    c.String("address"),
		Leverage:   c.String("leverage"),
		APIKey:     c.String("api-key"),
		APISecret:  c.String("api-secret"),
	})
	return err
}

func accountListAction(_ *cli.Context) error {
	if err := database.InitMainDB(); err != nil {
		return err
	}
	return accounts.List(context.Background(), repository.NewAccountRepository(), os.Stdout)
}
