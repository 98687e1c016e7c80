package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arkade-os/moneypot/internal/core/application"
	"github.com/arkade-os/moneypot/internal/infrastructure/aptos"
	"github.com/arkade-os/moneypot/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var (
	demoCommand = cli.Command{
		Name:  "demo",
		Usage: "Create a pot, fail a first attempt and win a second one",
		Flags: []cli.Flag{jsonFlag},
		Action: func(ctx *cli.Context) error {
			return demo(ctx)
		},
	}
	sweepCommand = cli.Command{
		Name:  "sweep",
		Usage: "Expire the active pots past their deadline",
		Flags: []cli.Flag{watchFlag, intervalFlag, jsonFlag},
		Action: func(ctx *cli.Context) error {
			return sweep(ctx)
		},
	}
	potsCommand = cli.Command{
		Name:  "pots",
		Usage: "List the ids of the active pots",
		Flags: []cli.Flag{allFlag, jsonFlag},
		Action: func(ctx *cli.Context) error {
			return listPots(ctx)
		},
	}
	potCommand = cli.Command{
		Name:  "pot",
		Usage: "Show the details of a pot",
		Flags: []cli.Flag{potIdFlag, jsonFlag},
		Action: func(ctx *cli.Context) error {
			return getPot(ctx)
		},
	}
	attemptCommand = cli.Command{
		Name:  "attempt",
		Usage: "Show the details of an attempt",
		Flags: []cli.Flag{attemptIdFlag, jsonFlag},
		Action: func(ctx *cli.Context) error {
			return getAttempt(ctx)
		},
	}
	createCommand = cli.Command{
		Name:  "create",
		Usage: "Create a pot funded by the main account",
		Action: func(ctx *cli.Context) error {
			return createPot(ctx)
		},
	}
	tryCommand = cli.Command{
		Name:  "try",
		Usage: "Attempt a pot as the hunter",
		Flags: []cli.Flag{tryPotFlag},
		Action: func(ctx *cli.Context) error {
			return tryPot(ctx)
		},
	}
	resolveCommand = cli.Command{
		Name:  "resolve",
		Usage: "Resolve an attempt as the oracle",
		Flags: []cli.Flag{resolveAttemptFlag, successFlag},
		Action: func(ctx *cli.Context) error {
			return resolveAttempt(ctx)
		},
	}
	accountCommand = cli.Command{
		Name:  "account",
		Usage: "Show the configured accounts and the ledger they talk to",
		Action: func(ctx *cli.Context) error {
			return account(ctx)
		},
	}
)

func demo(ctx *cli.Context) error {
	svc, err := cfg.LifecycleService()
	if err != nil {
		return err
	}
	params, err := demoParams()
	if err != nil {
		return err
	}

	report, demoErr := svc.RunDemo(ctx.Context, *params)
	if ctx.Bool(jsonFlagName) {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		fmt.Println(formatDemoReport(report))
	}
	if demoErr != nil {
		return demoErr
	}
	return nil
}

func demoParams() (*application.DemoParams, error) {
	creator, err := cfg.CreatorAccount()
	if err != nil {
		return nil, err
	}
	hunter, err := cfg.HunterAccount()
	if err != nil {
		return nil, err
	}
	oracle, err := cfg.OracleAccount()
	if err != nil {
		return nil, err
	}
	pot, err := potParams()
	if err != nil {
		return nil, err
	}
	return &application.DemoParams{
		Creator: creator,
		Hunter:  hunter,
		Oracle:  oracle,
		Pot:     pot,
	}, nil
}

// potParams returns the configured pot parameters, with a freshly
// generated 1FA address if none is set.
func potParams() (application.CreatePotParams, error) {
	params := cfg.PotParams()
	if params.OneFaAddress == "" {
		oneFa, err := aptos.GenerateAccount()
		if err != nil {
			return params, err
		}
		params.OneFaAddress = oneFa.Address()
	}
	return params, nil
}

func sweep(ctx *cli.Context) error {
	svc, err := cfg.SweeperService()
	if err != nil {
		return err
	}
	asJSON := ctx.Bool(jsonFlagName)

	if !ctx.Bool(watchFlagName) {
		report, sweepErr := svc.Sweep(ctx.Context)
		if err := printSweepReport(report, asJSON); err != nil {
			return err
		}
		if sweepErr != nil {
			return sweepErr
		}
		if len(report.Failed) > 0 {
			return fmt.Errorf("failed to expire %d pots: %v", len(report.Failed), report.Failed)
		}
		return nil
	}

	interval := ctx.Duration(intervalFlagName)
	if interval <= 0 {
		interval = cfg.SweepInterval
	}
	onReport := func(report *application.SweepReport, err errors.Error) {
		if printErr := printSweepReport(report, asJSON); printErr != nil {
			log.WithError(printErr).Warn("failed to print sweep report")
		}
	}
	if err := svc.Start(interval, onReport); err != nil {
		return err
	}
	defer svc.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, os.Interrupt)
	select {
	case <-sigChan:
	case <-ctx.Context.Done():
	}

	log.Info("shutting down sweeper...")
	return nil
}

func printSweepReport(report *application.SweepReport, asJSON bool) error {
	if report == nil {
		return nil
	}
	if asJSON {
		return printJSON(report)
	}
	fmt.Println(formatSweepReport(report))
	return nil
}

func listPots(ctx *cli.Context) error {
	svc, err := cfg.LifecycleService()
	if err != nil {
		return err
	}

	var ids []uint64
	var listErr errors.Error
	if ctx.Bool(allFlagName) {
		ids, listErr = svc.GetPots(ctx.Context)
	} else {
		ids, listErr = svc.GetActivePots(ctx.Context)
	}
	if listErr != nil {
		return listErr
	}

	if ctx.Bool(jsonFlagName) {
		return printJSON(ids)
	}
	fmt.Printf("%d pots: %v\n", len(ids), ids)
	return nil
}

func getPot(ctx *cli.Context) error {
	svc, err := cfg.LifecycleService()
	if err != nil {
		return err
	}

	pot, potErr := svc.GetPot(ctx.Context, ctx.Uint64(idFlagName))
	if potErr != nil {
		return potErr
	}
	if ctx.Bool(jsonFlagName) {
		return printJSON(pot)
	}
	fmt.Println(formatPot(pot))
	return nil
}

func getAttempt(ctx *cli.Context) error {
	svc, err := cfg.LifecycleService()
	if err != nil {
		return err
	}

	attempt, attemptErr := svc.GetAttempt(ctx.Context, ctx.Uint64(idFlagName))
	if attemptErr != nil {
		return attemptErr
	}
	if ctx.Bool(jsonFlagName) {
		return printJSON(attempt)
	}
	fmt.Println(formatAttempt(attempt))
	return nil
}

func createPot(ctx *cli.Context) error {
	svc, err := cfg.LifecycleService()
	if err != nil {
		return err
	}
	creator, err := cfg.CreatorAccount()
	if err != nil {
		return err
	}
	params, err := potParams()
	if err != nil {
		return err
	}

	potId, createErr := svc.CreatePot(ctx.Context, creator, params)
	if createErr != nil {
		return createErr
	}
	fmt.Printf(
		"pot %d created with %s, fee %s, 1fa address %s\n",
		potId, formatApt(params.Amount), formatApt(params.Fee), params.OneFaAddress,
	)
	return nil
}

func tryPot(ctx *cli.Context) error {
	svc, err := cfg.LifecycleService()
	if err != nil {
		return err
	}
	hunter, err := cfg.HunterAccount()
	if err != nil {
		return err
	}

	potId := ctx.Uint64(potFlagName)
	attemptId, attemptErr := svc.AttemptPot(ctx.Context, hunter, potId)
	if attemptErr != nil {
		return attemptErr
	}
	fmt.Printf("attempt %d made on pot %d\n", attemptId, potId)
	return nil
}

func resolveAttempt(ctx *cli.Context) error {
	svc, err := cfg.LifecycleService()
	if err != nil {
		return err
	}
	oracle, err := cfg.OracleAccount()
	if err != nil {
		return err
	}

	attemptId := ctx.Uint64(attemptFlagName)
	succeeded := ctx.Bool(successFlagName)
	if err := svc.ResolveAttempt(ctx.Context, oracle, attemptId, succeeded); err != nil {
		return err
	}
	outcome := "failed"
	if succeeded {
		outcome = "succeeded"
	}
	fmt.Printf("attempt %d resolved as %s\n", attemptId, outcome)
	return nil
}

func account(ctx *cli.Context) error {
	client, err := cfg.AptosClient()
	if err != nil {
		return err
	}

	chainId, err := client.ChainId(ctx.Context)
	if err != nil {
		return err
	}
	ledgerTime, err := client.LedgerTime(ctx.Context)
	if err != nil {
		return err
	}
	fmt.Printf("ledger %s\n   chain id: %d\n   time: %s\n", cfg.RpcUrl, chainId, ledgerTime.UTC())

	roles := []struct {
		name string
		load func() (*aptos.Account, error)
	}{
		{"creator", cfg.CreatorAccount},
		{"hunter", cfg.HunterAccount},
		{"oracle", cfg.OracleAccount},
		{"sweeper", cfg.SweeperAccount},
	}
	for _, role := range roles {
		acc, err := role.load()
		if err != nil {
			fmt.Printf("%s: %s\n", role.name, err)
			continue
		}
		seq, err := client.SequenceNumber(ctx.Context, acc.Address())
		if err != nil {
			fmt.Printf("%s: %s (sequence number unavailable: %s)\n", role.name, acc.Address(), err)
			continue
		}
		fmt.Printf("%s: %s (sequence number %d)\n", role.name, acc.Address(), seq)
	}
	return nil
}
